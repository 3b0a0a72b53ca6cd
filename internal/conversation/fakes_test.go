package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/device"
)

type fakeSender struct {
	mu      sync.Mutex
	texts   []chatapi.SendTextRequest
	voices  []chatapi.VoiceUpload
	started chan string
	text    func(ctx context.Context, req chatapi.SendTextRequest) (chatapi.SendTextResponse, error)
	voice   func(ctx context.Context, up chatapi.VoiceUpload) (chatapi.SendVoiceResponse, error)
}

func newFakeSender() *fakeSender {
	return &fakeSender{started: make(chan string, 16)}
}

func (f *fakeSender) SendText(ctx context.Context, _ string, req chatapi.SendTextRequest) (chatapi.SendTextResponse, error) {
	f.mu.Lock()
	f.texts = append(f.texts, req)
	fn := f.text
	f.mu.Unlock()
	f.started <- req.Message
	if fn == nil {
		return chatapi.SendTextResponse{Content: "ok"}, nil
	}
	return fn(ctx, req)
}

func (f *fakeSender) SendVoice(ctx context.Context, _ string, up chatapi.VoiceUpload) (chatapi.SendVoiceResponse, error) {
	f.mu.Lock()
	f.voices = append(f.voices, up)
	fn := f.voice
	f.mu.Unlock()
	f.started <- "voice"
	if fn == nil {
		return chatapi.SendVoiceResponse{Content: "ok"}, nil
	}
	return fn(ctx, up)
}

func (f *fakeSender) textCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeSender) voiceUploads() []chatapi.VoiceUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatapi.VoiceUpload(nil), f.voices...)
}

type fakeInvalidator struct {
	mu     sync.Mutex
	scopes [][]string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, scopes ...string) error {
	if ctx.Err() != nil {
		panic("invalidate received a cancelled context")
	}
	f.mu.Lock()
	f.scopes = append(f.scopes, append([]string(nil), scopes...))
	f.mu.Unlock()
	return nil
}

func (f *fakeInvalidator) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.scopes...)
}

type fakeMic struct {
	mu     sync.Mutex
	err    error
	gate   chan struct{}
	stream *fakeStream
	calls  int
}

func (m *fakeMic) Acquire(ctx context.Context) (device.CaptureStream, error) {
	m.mu.Lock()
	m.calls++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

// fakeStream delivers its chunks when stopped, like a recorder flushing.
type fakeStream struct {
	mu      sync.Mutex
	mime    string
	chunks  [][]byte
	sink    func([]byte)
	started bool
	stopped bool
	closes  int
	// supports lists containers the stream can encode; empty means fixed mime.
	supports []string
}

func (s *fakeStream) MimeType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mime
}

func (s *fakeStream) IsTypeSupported(mimeType string) bool {
	for _, m := range s.supports {
		if m == mimeType {
			return true
		}
	}
	return false
}

func (s *fakeStream) UseMimeType(mimeType string) {
	s.mu.Lock()
	s.mime = mimeType
	s.mu.Unlock()
}

func (s *fakeStream) Start(_ time.Duration, sink func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	sink, chunks := s.sink, s.chunks
	s.stopped = true
	s.sink = nil
	s.mu.Unlock()
	if sink != nil {
		for _, c := range chunks {
			sink(c)
		}
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakePlayer struct {
	mu      sync.Mutex
	loadErr error
	playErr error
	handles []*fakeHandle
}

func (p *fakePlayer) Load(uri string) (device.PlaybackHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	h := &fakeHandle{uri: uri, playErr: p.playErr}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakePlayer) handle(i int) *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[i]
}

type fakeHandle struct {
	mu      sync.Mutex
	uri     string
	playErr error
	onEnd   func(error)
	playing bool
	paused  bool
	closed  bool
}

func (h *fakeHandle) Play(onEnd func(error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playErr != nil {
		return h.playErr
	}
	h.onEnd = onEnd
	h.playing = true
	return nil
}

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	h.playing = false
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.playing = false
	return nil
}

func (h *fakeHandle) finish(err error) {
	h.mu.Lock()
	fn := h.onEnd
	h.mu.Unlock()
	fn(err)
}

func (h *fakeHandle) state() (playing, paused, closed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing, h.paused, h.closed
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) SendSettled(kind, outcome string, _ time.Duration) {
	o.record(kind + ":" + outcome)
}
func (o *recordingObserver) PlaybackEvent(event string)  { o.record("playback:" + event) }
func (o *recordingObserver) ReconcileEvent(event string) { o.record("reconcile:" + event) }

func (o *recordingObserver) record(ev string) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) has(ev string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.events {
		if e == ev {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStarted(t *testing.T, f *fakeSender, want string) {
	t.Helper()
	select {
	case got := <-f.started:
		if got != want {
			t.Fatalf("started send = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("send %q never started", want)
	}
}

// fakeReplies records the reply calls of a send in order.
type fakeReplies struct {
	mu     sync.Mutex
	nextID uint64
	calls  []string
}

func (r *fakeReplies) Begin() ReplyTicket {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.calls = append(r.calls, fmt.Sprintf("begin:%d", r.nextID))
	return ReplyTicket{id: r.nextID}
}

func (r *fakeReplies) Offer(uri string, t ReplyTicket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("offer:%d:%s", t.id, uri))
}

func (r *fakeReplies) Done(t ReplyTicket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("done:%d", t.id))
}

func (r *fakeReplies) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
