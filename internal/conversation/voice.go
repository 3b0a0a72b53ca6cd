package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/cache"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/device"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

type VoiceState string

const (
	VoiceIdle      VoiceState = "idle"
	VoiceAcquiring VoiceState = "acquiring"
	VoiceRecording VoiceState = "recording"
	VoiceStopping  VoiceState = "stopping"
)

// VoiceParams are captured when the voice send is invoked, never read later.
type VoiceParams struct {
	ChatID     string
	ModelID    string
	WantsAudio bool
}

// VoiceResult is the outcome of a stop.
type VoiceResult struct {
	// Sent is false when nothing was uploaded (empty clip or stop during acquisition).
	Sent     bool   `json:"sent"`
	Content  string `json:"content,omitempty"`
	AudioURI string `json:"audio_uri,omitempty"`
}

// VoiceStatus is the UI-facing state of the capture session.
type VoiceStatus struct {
	State        VoiceState
	Listening    bool
	SendingVoice bool
}

// VoiceSession drives idle -> acquiring -> recording -> stopping -> idle.
// Transitions never overlap: each one completes or unwinds fully first.
type VoiceSession struct {
	mic       device.Microphone
	sender    VoiceSender
	inval     Invalidator
	timeslice time.Duration
	mime      string
	replies   ReplySink
	errs      *transientError
	observer  Observer
	logger    zerolog.Logger
	onChange  func()

	mu            sync.Mutex
	state         VoiceState
	listening     bool
	sendingVoice  bool
	stopRequested bool
	stream        device.CaptureStream
	chunks        [][]byte
	gen           uint64
}

// VoiceDeps wires a VoiceSession.
type VoiceDeps struct {
	Mic       device.Microphone
	Sender    VoiceSender
	Inval     Invalidator
	Timeslice time.Duration
	AudioMime string
	// Replies receives reply audio. The controller's sink tears down
	// playback before offering.
	Replies  ReplySink
	Errors   *transientError
	Observer Observer
	Logger   zerolog.Logger
	OnChange func()
}

func NewVoiceSession(deps VoiceDeps) *VoiceSession {
	v := &VoiceSession{
		mic:       deps.Mic,
		sender:    deps.Sender,
		inval:     deps.Inval,
		timeslice: deps.Timeslice,
		mime:      deps.AudioMime,
		replies:   deps.Replies,
		errs:      deps.Errors,
		observer:  observerOrNop(deps.Observer),
		logger:    deps.Logger,
		onChange:  deps.OnChange,
		state:     VoiceIdle,
	}
	if v.mic == nil {
		v.mic = device.NullMicrophone{}
	}
	if v.timeslice <= 0 {
		v.timeslice = 100 * time.Millisecond
	}
	if v.replies == nil {
		v.replies = nopReplies{}
	}
	if v.errs == nil {
		v.errs = newTransientError(0, nil)
	}
	if v.onChange == nil {
		v.onChange = func() {}
	}
	return v
}

func (v *VoiceSession) Status() VoiceStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VoiceStatus{State: v.state, Listening: v.listening, SendingVoice: v.sendingVoice}
}

// SetListening is the single toggle driving the session. Turning it on
// blocks through acquisition; turning it off blocks through the send.
func (v *VoiceSession) SetListening(ctx context.Context, on bool, params VoiceParams) (VoiceResult, error) {
	if on {
		return VoiceResult{}, v.Start(ctx)
	}
	return v.Stop(ctx, params)
}

// Start acquires the microphone and begins recording.
func (v *VoiceSession) Start(ctx context.Context) error {
	gen, err := v.beginStart()
	if err != nil {
		return err
	}
	return v.acquire(ctx, gen)
}

// beginStart performs idle -> acquiring.
func (v *VoiceSession) beginStart() (uint64, error) {
	v.mu.Lock()
	if v.state != VoiceIdle {
		v.mu.Unlock()
		return 0, ErrVoiceBusy
	}
	v.state = VoiceAcquiring
	v.listening = true
	v.stopRequested = false
	v.chunks = nil
	v.gen++
	gen := v.gen
	v.mu.Unlock()
	v.errs.Clear()
	v.onChange()
	return gen, nil
}

// acquire performs acquiring -> recording, or unwinds to idle.
func (v *VoiceSession) acquire(ctx context.Context, gen uint64) error {
	stream, err := v.mic.Acquire(ctx)
	if err != nil {
		return v.abortStart(nil, err)
	}
	if v.abandoned() {
		return v.abortStart(stream, nil)
	}
	if sel, ok := stream.(device.MimeSelector); ok {
		if m := audio.PreferredRecordingMime(sel.IsTypeSupported); m != "" {
			sel.UseMimeType(m)
		}
	}
	mime := stream.MimeType()
	if err := stream.Start(v.timeslice, func(chunk []byte) { v.appendChunk(gen, chunk) }); err != nil {
		return v.abortStart(stream, err)
	}

	v.mu.Lock()
	if v.stopRequested {
		v.mu.Unlock()
		_ = stream.Stop()
		return v.abortStart(stream, nil)
	}
	v.state = VoiceRecording
	v.stream = stream
	v.mu.Unlock()
	v.logger.Debug().Str("mime", mime).Dur("timeslice", v.timeslice).Msg("recording started")
	v.onChange()
	return nil
}

func (v *VoiceSession) abandoned() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopRequested
}

// abortStart unwinds an acquisition back to idle. With a nil err the user
// switched listening off before the device was granted.
func (v *VoiceSession) abortStart(stream device.CaptureStream, err error) error {
	if stream != nil {
		_ = stream.Close()
	}
	v.mu.Lock()
	v.state = VoiceIdle
	v.listening = false
	v.stopRequested = false
	v.chunks = nil
	v.mu.Unlock()

	if err != nil {
		if reliability.IsCancellation(err) {
			err = reliability.ErrCancelled
		} else {
			v.logger.Warn().Err(err).Msg("microphone unavailable")
			v.errs.Set(msgMicUnavailable)
			if !errors.Is(err, reliability.ErrDevice) {
				err = fmt.Errorf("%w: %v", reliability.ErrDevice, err)
			}
		}
	}
	v.onChange()
	return err
}

func (v *VoiceSession) appendChunk(gen uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen || v.state == VoiceIdle {
		return
	}
	v.chunks = append(v.chunks, append([]byte(nil), chunk...))
}

// Stop ends recording and sends the clip with params. Stopping during
// acquisition only marks the session for teardown; nothing is sent.
func (v *VoiceSession) Stop(ctx context.Context, params VoiceParams) (VoiceResult, error) {
	stream, ok := v.beginStop()
	if !ok {
		return VoiceResult{}, nil
	}
	return v.finishStop(ctx, stream, params)
}

// beginStop performs recording -> stopping and hands over the stream. It
// returns false when there is nothing to finish.
func (v *VoiceSession) beginStop() (device.CaptureStream, bool) {
	v.mu.Lock()
	switch v.state {
	case VoiceAcquiring:
		v.stopRequested = true
		v.listening = false
		v.mu.Unlock()
		v.onChange()
		return nil, false
	case VoiceRecording:
	default:
		v.listening = false
		v.mu.Unlock()
		return nil, false
	}
	v.state = VoiceStopping
	v.listening = false
	v.sendingVoice = true
	stream := v.stream
	v.stream = nil
	v.mu.Unlock()
	v.onChange()
	return stream, true
}

// Discard releases the recorder without sending and returns to idle. An
// acquisition in progress unwinds on its own.
func (v *VoiceSession) Discard() {
	stream, ok := v.beginStop()
	if !ok {
		return
	}
	_ = stream.Stop()
	_ = stream.Close()
	v.mu.Lock()
	v.state = VoiceIdle
	v.sendingVoice = false
	v.chunks = nil
	v.mu.Unlock()
	v.onChange()
}

// finishStop performs stopping -> idle: finalize the clip and send it.
func (v *VoiceSession) finishStop(ctx context.Context, stream device.CaptureStream, params VoiceParams) (VoiceResult, error) {
	defer func() {
		v.mu.Lock()
		v.state = VoiceIdle
		v.sendingVoice = false
		v.listening = false
		v.chunks = nil
		v.mu.Unlock()
		v.onChange()
	}()

	// Stop flushes the last chunk; Close releases the device tracks.
	if err := stream.Stop(); err != nil {
		v.logger.Warn().Err(err).Msg("recorder stop failed")
	}
	mime := stream.MimeType()
	_ = stream.Close()

	v.mu.Lock()
	chunks := v.chunks
	v.chunks = nil
	v.mu.Unlock()

	clip, err := audio.Assemble(chunks, mime)
	if err != nil {
		return VoiceResult{}, fmt.Errorf("%w: finalize clip: %v", reliability.ErrDevice, err)
	}
	if clip.Empty() {
		v.observer.SendSettled("voice", "empty", 0)
		return VoiceResult{}, nil
	}
	if params.ChatID == "" {
		return VoiceResult{}, ErrNoConversation
	}

	ticket := v.replies.Begin()
	defer v.replies.Done(ticket)
	started := time.Now()
	resp, err := v.sender.SendVoice(ctx, params.ChatID, chatapi.VoiceUpload{
		Clip:      clip,
		ModelID:   params.ModelID,
		WithVoice: params.WantsAudio,
	})
	v.observer.SendSettled("voice", outcomeOf(err), time.Since(started))
	if err != nil {
		v.invalidate(ctx, params.ChatID)
		v.logger.Warn().Err(err).Str("chat_id", params.ChatID).Msg("voice send failed")
		return VoiceResult{}, fmt.Errorf("send voice: %w", err)
	}

	result := VoiceResult{Sent: true, Content: resp.Content}
	if resp.AudioBase64 != "" {
		result.AudioURI = audio.DataURI(v.mime, resp.AudioBase64)
		v.replies.Offer(result.AudioURI, ticket)
	}
	v.invalidate(ctx, params.ChatID)
	return result, nil
}

func (v *VoiceSession) invalidate(ctx context.Context, chatID string) {
	if v.inval == nil {
		return
	}
	if err := v.inval.Invalidate(context.WithoutCancel(ctx), cache.ScopeChats, cache.ChatScope(chatID)); err != nil {
		v.logger.Warn().Err(err).Str("chat_id", chatID).Msg("cache invalidation failed")
	}
}
