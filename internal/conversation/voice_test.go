package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/device"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

type voiceHarness struct {
	session *VoiceSession
	mic     *fakeMic
	stream  *fakeStream
	sender  *fakeSender
	inval   *fakeInvalidator
	errs    *transientError
	obs     *recordingObserver
	replies *fakeReplies
}

func newVoiceHarness(chunks ...[]byte) *voiceHarness {
	h := &voiceHarness{
		stream:  &fakeStream{mime: "audio/webm", chunks: chunks},
		sender:  newFakeSender(),
		inval:   &fakeInvalidator{},
		errs:    newTransientError(0, nil),
		obs:     &recordingObserver{},
		replies: &fakeReplies{},
	}
	h.mic = &fakeMic{stream: h.stream}
	h.session = NewVoiceSession(VoiceDeps{
		Mic:      h.mic,
		Sender:   h.sender,
		Inval:    h.inval,
		Replies:  h.replies,
		Errors:   h.errs,
		Observer: h.obs,
		Logger:   zerolog.Nop(),
	})
	return h
}

func TestVoiceRecordAndSendWithCapturedParams(t *testing.T) {
	h := newVoiceHarness([]byte("ab"), []byte("cd"))
	h.sender.voice = func(context.Context, chatapi.VoiceUpload) (chatapi.SendVoiceResponse, error) {
		return chatapi.SendVoiceResponse{Content: "heard", AudioBase64: "QUJD"}, nil
	}
	ctx := context.Background()

	if err := h.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := h.session.Status(); st.State != VoiceRecording || !st.Listening {
		t.Fatalf("status after start = %+v", st)
	}

	params := VoiceParams{ChatID: "c1", ModelID: "m1", WantsAudio: true}
	res, err := h.session.Stop(ctx, params)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !res.Sent || res.Content != "heard" || res.AudioURI != "data:audio/mpeg;base64,QUJD" {
		t.Fatalf("result = %+v", res)
	}
	ups := h.sender.voiceUploads()
	if len(ups) != 1 {
		t.Fatalf("uploads = %d", len(ups))
	}
	if string(ups[0].Clip.Data) != "abcd" || ups[0].Clip.MimeType != "audio/webm" {
		t.Fatalf("clip = %q %q", ups[0].Clip.Data, ups[0].Clip.MimeType)
	}
	if ups[0].ModelID != "m1" || !ups[0].WithVoice {
		t.Fatalf("upload params = %+v", ups[0])
	}
	if got := h.replies.log(); len(got) != 3 || got[1] != "offer:1:"+res.AudioURI || got[2] != "done:1" {
		t.Fatalf("replies = %v", got)
	}
	if len(h.inval.calls()) != 1 {
		t.Fatalf("invalidations = %v", h.inval.calls())
	}
	if st := h.session.Status(); st.State != VoiceIdle || st.Listening || st.SendingVoice {
		t.Fatalf("status after send = %+v", st)
	}
	if h.stream.closeCount() == 0 {
		t.Fatalf("device not released")
	}
}

func TestVoiceRawPCMIsWrappedAsWAV(t *testing.T) {
	h := newVoiceHarness([]byte{1, 0, 2, 0})
	h.stream.mime = audio.RawPCMMime(16000)
	ctx := context.Background()
	if err := h.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := h.session.Stop(ctx, VoiceParams{ChatID: "c1"}); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	ups := h.sender.voiceUploads()
	if len(ups) != 1 || ups[0].Clip.Filename() != "audio.wav" {
		t.Fatalf("uploads = %+v", ups)
	}
}

func TestVoicePrefersOpusWhenTheRecorderSupportsIt(t *testing.T) {
	for _, tc := range []struct {
		supports []string
		want     string
	}{
		{supports: []string{"audio/webm", "audio/webm;codecs=opus"}, want: "audio/webm;codecs=opus"},
		{supports: []string{"audio/webm"}, want: "audio/webm"},
		{supports: []string{"audio/ogg"}, want: "audio/ogg"},
	} {
		h := newVoiceHarness([]byte("ab"))
		h.stream.mime = "audio/ogg"
		h.stream.supports = tc.supports
		ctx := context.Background()
		if err := h.session.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if _, err := h.session.Stop(ctx, VoiceParams{ChatID: "c1"}); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		ups := h.sender.voiceUploads()
		if len(ups) != 1 || ups[0].Clip.MimeType != tc.want {
			t.Fatalf("supports %v: uploads = %+v, want mime %q", tc.supports, ups, tc.want)
		}
	}
}

func TestVoiceEmptyClipIsNotSent(t *testing.T) {
	h := newVoiceHarness()
	ctx := context.Background()
	if err := h.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	res, err := h.session.Stop(ctx, VoiceParams{ChatID: "c1"})
	if err != nil || res.Sent {
		t.Fatalf("Stop() = %+v, %v", res, err)
	}
	if len(h.sender.voiceUploads()) != 0 {
		t.Fatalf("empty clip was uploaded")
	}
	if !h.obs.has("voice:empty") {
		t.Fatalf("empty outcome not observed")
	}
	if h.session.Status().State != VoiceIdle {
		t.Fatalf("state = %q", h.session.Status().State)
	}
}

func TestVoiceMicrophoneDenied(t *testing.T) {
	h := newVoiceHarness()
	h.mic.err = errors.New("permission denied")

	err := h.session.Start(context.Background())
	if !errors.Is(err, reliability.ErrDevice) {
		t.Fatalf("Start() error = %v, want ErrDevice", err)
	}
	if st := h.session.Status(); st.State != VoiceIdle || st.Listening {
		t.Fatalf("status = %+v", st)
	}
	if h.errs.Get() != msgMicUnavailable {
		t.Fatalf("transient = %q", h.errs.Get())
	}
}

func TestVoiceNullMicrophoneIsDeviceError(t *testing.T) {
	s := NewVoiceSession(VoiceDeps{Mic: device.NullMicrophone{}, Logger: zerolog.Nop()})
	if err := s.Start(context.Background()); reliability.Classify(err) != reliability.KindDevice {
		t.Fatalf("Start() error = %v", err)
	}
}

func TestVoiceStopDuringAcquisitionReleasesDevice(t *testing.T) {
	h := newVoiceHarness([]byte("ab"))
	gate := make(chan struct{})
	h.mic.gate = gate

	started := make(chan error, 1)
	go func() { started <- h.session.Start(context.Background()) }()
	waitFor(t, "acquiring", func() bool { return h.session.Status().State == VoiceAcquiring })

	res, err := h.session.Stop(context.Background(), VoiceParams{ChatID: "c1"})
	if err != nil || res.Sent {
		t.Fatalf("Stop() during acquisition = %+v, %v", res, err)
	}
	if h.session.Status().Listening {
		t.Fatalf("still listening after stop")
	}

	close(gate)
	if err := <-started; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.stream.closeCount() == 0 {
		t.Fatalf("late-granted stream was not closed")
	}
	if st := h.session.Status(); st.State != VoiceIdle || st.Listening {
		t.Fatalf("status = %+v", st)
	}
	if len(h.sender.voiceUploads()) != 0 {
		t.Fatalf("abandoned capture was sent")
	}
}

func TestVoiceRejectsOverlappingStart(t *testing.T) {
	h := newVoiceHarness()
	ctx := context.Background()
	if err := h.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.session.Start(ctx); !errors.Is(err, ErrVoiceBusy) {
		t.Fatalf("second Start() error = %v", err)
	}
	if h.mic.calls != 1 {
		t.Fatalf("microphone acquired %d times", h.mic.calls)
	}
}

func TestVoiceSendingFlagCoversUpload(t *testing.T) {
	h := newVoiceHarness([]byte("ab"))
	release := make(chan struct{})
	h.sender.voice = func(context.Context, chatapi.VoiceUpload) (chatapi.SendVoiceResponse, error) {
		<-release
		return chatapi.SendVoiceResponse{Content: "ok"}, nil
	}
	ctx := context.Background()
	if err := h.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := h.session.Stop(ctx, VoiceParams{ChatID: "c1"})
		done <- err
	}()
	waitStarted(t, h.sender, "voice")
	if st := h.session.Status(); st.State != VoiceStopping || !st.SendingVoice || st.Listening {
		t.Fatalf("status during upload = %+v", st)
	}
	if err := h.session.Start(ctx); !errors.Is(err, ErrVoiceBusy) {
		t.Fatalf("Start() while stopping error = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.session.Status().SendingVoice {
		t.Fatalf("SendingVoice still set")
	}
}
