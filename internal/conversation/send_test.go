package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

func newTestCoordinator(sender *fakeSender, inval *fakeInvalidator, replies *fakeReplies) *SendCoordinator {
	return NewSendCoordinator(SendDeps{
		Sender:  sender,
		Inval:   inval,
		Replies: replies,
		Logger:  zerolog.Nop(),
	})
}

type submitOutcome struct {
	res SendResult
	err error
}

func submitAsync(s *SendCoordinator, req SubmitRequest) <-chan submitOutcome {
	out := make(chan submitOutcome, 1)
	go func() {
		res, err := s.Submit(context.Background(), req)
		out <- submitOutcome{res, err}
	}()
	return out
}

func TestSubmitEchoesOptimisticTurnUntilSettled(t *testing.T) {
	sender := newFakeSender()
	release := make(chan struct{})
	sender.text = func(context.Context, chatapi.SendTextRequest) (chatapi.SendTextResponse, error) {
		<-release
		return chatapi.SendTextResponse{Content: "Hi there"}, nil
	}
	inval := &fakeInvalidator{}
	s := newTestCoordinator(sender, inval, &fakeReplies{})
	s.SetDraft("Hello")

	done := submitAsync(s, SubmitRequest{ChatID: "c1", Text: "Hello", ModelID: "m1"})
	waitStarted(t, sender, "Hello")

	st := s.State()
	if !st.Sending || st.Optimistic == nil || st.Optimistic.Content != "Hello" || st.Optimistic.ID != OptimisticID {
		t.Fatalf("in-flight state = %+v", st)
	}
	if st.Draft != "" {
		t.Fatalf("draft = %q, want cleared", st.Draft)
	}

	close(release)
	out := <-done
	if out.err != nil {
		t.Fatalf("Submit() error = %v", out.err)
	}
	if out.res.Content != "Hi there" {
		t.Fatalf("Content = %q", out.res.Content)
	}
	st = s.State()
	if st.Sending || st.Optimistic != nil {
		t.Fatalf("settled state = %+v", st)
	}
	calls := inval.calls()
	if len(calls) != 1 || len(calls[0]) != 2 || calls[0][0] != "chats" || calls[0][1] != "chat:c1" {
		t.Fatalf("invalidations = %v", calls)
	}
}

func TestSubmitSupersedesPreviousSend(t *testing.T) {
	sender := newFakeSender()
	release := make(chan struct{})
	sender.text = func(ctx context.Context, req chatapi.SendTextRequest) (chatapi.SendTextResponse, error) {
		if req.Message == "first" {
			<-ctx.Done()
			return chatapi.SendTextResponse{}, ctx.Err()
		}
		<-release
		return chatapi.SendTextResponse{Content: "reply to second"}, nil
	}
	s := newTestCoordinator(sender, &fakeInvalidator{}, &fakeReplies{})

	first := submitAsync(s, SubmitRequest{ChatID: "c1", Text: "first"})
	waitStarted(t, sender, "first")
	second := submitAsync(s, SubmitRequest{ChatID: "c1", Text: "second"})
	waitStarted(t, sender, "second")

	out := <-first
	if !errors.Is(out.err, reliability.ErrCancelled) {
		t.Fatalf("superseded Submit() error = %v, want ErrCancelled", out.err)
	}
	st := s.State()
	if st.Optimistic == nil || st.Optimistic.Content != "second" || !st.Sending {
		t.Fatalf("state after supersede = %+v", st)
	}

	close(release)
	out = <-second
	if out.err != nil || out.res.Content != "reply to second" {
		t.Fatalf("second Submit() = %+v, %v", out.res, out.err)
	}
}

func TestStopDiscardsLateResultButCleansUp(t *testing.T) {
	sender := newFakeSender()
	release := make(chan struct{})
	sender.text = func(context.Context, chatapi.SendTextRequest) (chatapi.SendTextResponse, error) {
		// The transport ignores cancellation and answers anyway.
		<-release
		return chatapi.SendTextResponse{Content: "late", AudioBase64: "QUJD"}, nil
	}
	inval := &fakeInvalidator{}
	replies := &fakeReplies{}
	s := newTestCoordinator(sender, inval, replies)

	done := submitAsync(s, SubmitRequest{ChatID: "c1", Text: "Hello"})
	waitStarted(t, sender, "Hello")
	if !s.Stop() {
		t.Fatalf("Stop() = false with a send in flight")
	}
	close(release)

	out := <-done
	if !errors.Is(out.err, reliability.ErrCancelled) {
		t.Fatalf("Submit() error = %v, want ErrCancelled", out.err)
	}
	if st := s.State(); st.Sending || st.Optimistic != nil {
		t.Fatalf("state after stop = %+v", st)
	}
	if got := replies.log(); len(got) != 2 || got[1] != "done:1" {
		t.Fatalf("discarded audio reached the buffer: %v", got)
	}
	if len(inval.calls()) != 1 {
		t.Fatalf("stopped send must still invalidate, got %v", inval.calls())
	}
	if s.Stop() {
		t.Fatalf("Stop() = true with nothing in flight")
	}
}

func TestEditAndResendRestoresDraftWithoutResending(t *testing.T) {
	sender := newFakeSender()
	sender.text = func(ctx context.Context, _ chatapi.SendTextRequest) (chatapi.SendTextResponse, error) {
		<-ctx.Done()
		return chatapi.SendTextResponse{}, ctx.Err()
	}
	s := newTestCoordinator(sender, &fakeInvalidator{}, &fakeReplies{})

	done := submitAsync(s, SubmitRequest{ChatID: "c1", Text: "Hello"})
	waitStarted(t, sender, "Hello")

	text, ok := s.EditAndResend(context.Background())
	if !ok || text != "Hello" {
		t.Fatalf("EditAndResend() = %q, %v", text, ok)
	}
	st := s.State()
	if st.Draft != "Hello" || st.Optimistic != nil || st.Sending {
		t.Fatalf("state after edit = %+v", st)
	}
	if out := <-done; !errors.Is(out.err, reliability.ErrCancelled) {
		t.Fatalf("Submit() error = %v, want ErrCancelled", out.err)
	}
	if s.Draft() != "Hello" {
		t.Fatalf("late settlement clobbered the draft: %q", s.Draft())
	}
	if sender.textCalls() != 1 {
		t.Fatalf("EditAndResend resent the message")
	}
	if _, ok := s.EditAndResend(context.Background()); ok {
		t.Fatalf("EditAndResend() without optimistic turn = true")
	}
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	sender := newFakeSender()
	s := newTestCoordinator(sender, &fakeInvalidator{}, &fakeReplies{})

	if _, err := s.Submit(context.Background(), SubmitRequest{ChatID: "c1", Text: "  \n"}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Submit(blank) error = %v", err)
	}
	if _, err := s.Submit(context.Background(), SubmitRequest{Text: "Hello"}); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("Submit(no chat) error = %v", err)
	}
	if sender.textCalls() != 0 {
		t.Fatalf("rejected input reached the sender")
	}
}

func TestSubmitOffersReplyAudioUnderItsTicket(t *testing.T) {
	sender := newFakeSender()
	sender.text = func(_ context.Context, req chatapi.SendTextRequest) (chatapi.SendTextResponse, error) {
		if !req.WithVoice {
			t.Errorf("WithVoice = false")
		}
		return chatapi.SendTextResponse{Content: "Hi", AudioBase64: "QUJD"}, nil
	}
	replies := &fakeReplies{}
	inval := &fakeInvalidator{}
	s := newTestCoordinator(sender, inval, replies)

	res, err := s.Submit(context.Background(), SubmitRequest{ChatID: "c1", Text: "Hello", WantsAudio: true})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.AudioURI != "data:audio/mpeg;base64,QUJD" {
		t.Fatalf("AudioURI = %q", res.AudioURI)
	}
	if got := replies.log(); len(got) != 3 || got[0] != "begin:1" || got[1] != "offer:1:"+res.AudioURI || got[2] != "done:1" {
		t.Fatalf("replies = %v", got)
	}
	if len(inval.calls()) != 1 {
		t.Fatalf("invalidations = %v", inval.calls())
	}
}

func TestSubmitTransportFailureClearsOptimisticTurn(t *testing.T) {
	sender := newFakeSender()
	sender.text = func(context.Context, chatapi.SendTextRequest) (chatapi.SendTextResponse, error) {
		return chatapi.SendTextResponse{}, &chatapi.StatusError{Code: 502}
	}
	s := newTestCoordinator(sender, &fakeInvalidator{}, &fakeReplies{})

	_, err := s.Submit(context.Background(), SubmitRequest{ChatID: "c1", Text: "Hello"})
	if reliability.Classify(err) != reliability.KindTransport {
		t.Fatalf("Classify(%v) = %q", err, reliability.Classify(err))
	}
	if st := s.State(); st.Optimistic != nil || st.Sending {
		t.Fatalf("state after failure = %+v", st)
	}
}
