package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/cache"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/policy"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

// SubmitRequest is one text submission.
type SubmitRequest struct {
	ChatID     string
	Text       string
	ModelID    string
	WantsAudio bool
}

// SendResult is the applied outcome of a submission.
type SendResult struct {
	Content  string `json:"content"`
	AudioURI string `json:"audio_uri,omitempty"`
}

// SendState is the coordinator's UI-facing state.
type SendState struct {
	Draft      string
	Optimistic *Turn
	Sending    bool
}

type sendToken struct {
	id     uint64
	chatID string
	ctx    context.Context
	cancel context.CancelFunc
}

// SendCoordinator serializes text submissions by cancellation token: only
// the most recent token may mutate state.
type SendCoordinator struct {
	sender   TextSender
	inval    Invalidator
	replies  ReplySink
	mime     string
	observer Observer
	logger   zerolog.Logger
	onChange func()

	mu         sync.Mutex
	draft      string
	optimistic *Turn
	sending    bool
	current    *sendToken
	seq        uint64
}

// SendDeps wires a SendCoordinator.
type SendDeps struct {
	Sender TextSender
	Inval  Invalidator
	// Replies receives reply audio. Defaults to discarding it.
	Replies   ReplySink
	AudioMime string
	Observer  Observer
	Logger    zerolog.Logger
	OnChange  func()
}

func NewSendCoordinator(deps SendDeps) *SendCoordinator {
	s := &SendCoordinator{
		sender:   deps.Sender,
		inval:    deps.Inval,
		replies:  deps.Replies,
		mime:     deps.AudioMime,
		observer: observerOrNop(deps.Observer),
		logger:   deps.Logger,
		onChange: deps.OnChange,
	}
	if s.replies == nil {
		s.replies = nopReplies{}
	}
	if s.onChange == nil {
		s.onChange = func() {}
	}
	return s
}

func (s *SendCoordinator) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
	s.onChange()
}

func (s *SendCoordinator) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *SendCoordinator) State() SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SendState{Draft: s.draft, Sending: s.sending}
	if s.optimistic != nil {
		t := *s.optimistic
		st.Optimistic = &t
	}
	return st
}

// Submit sends req, superseding any in-flight submission. It blocks until
// the send settles. A superseded, stopped or withdrawn send returns an error
// wrapping reliability.ErrCancelled.
func (s *SendCoordinator) Submit(ctx context.Context, req SubmitRequest) (SendResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}
	if req.ChatID == "" {
		return SendResult{}, ErrNoConversation
	}
	ticket := s.replies.Begin()
	defer s.replies.Done(ticket)

	sendCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.current != nil {
		s.current.cancel()
	}
	s.seq++
	tok := &sendToken{id: s.seq, chatID: req.ChatID, ctx: sendCtx, cancel: cancel}
	s.current = tok
	s.optimistic = &Turn{ID: OptimisticID, Role: RoleUser, Content: text, CreatedAt: time.Now().UTC()}
	s.draft = ""
	s.sending = true
	s.mu.Unlock()
	s.onChange()

	s.logger.Debug().
		Uint64("token", tok.id).
		Str("chat_id", req.ChatID).
		Str("preview", policy.Preview(text, 48)).
		Bool("wants_audio", req.WantsAudio).
		Msg("send issued")

	started := time.Now()
	resp, err := s.sender.SendText(sendCtx, req.ChatID, chatapi.SendTextRequest{
		Message:   text,
		ModelID:   req.ModelID,
		WithVoice: req.WantsAudio,
	})

	result, err := s.settle(tok, resp, err)
	s.observer.SendSettled("text", outcomeOf(err), time.Since(started))
	if err == nil && result.AudioURI != "" {
		s.replies.Offer(result.AudioURI, ticket)
	}
	s.invalidate(ctx, req.ChatID)
	return result, err
}

func (s *SendCoordinator) settle(tok *sendToken, resp chatapi.SendTextResponse, sendErr error) (SendResult, error) {
	s.mu.Lock()
	current := s.current == tok
	cancelled := tok.ctx.Err() != nil || !current
	if current {
		s.current = nil
		s.optimistic = nil
		s.sending = false
	}
	s.mu.Unlock()
	tok.cancel()
	if current {
		s.onChange()
	}

	if cancelled {
		s.logger.Debug().Uint64("token", tok.id).Msg("send result discarded")
		return SendResult{}, reliability.ErrCancelled
	}
	if sendErr != nil {
		s.logger.Warn().Err(sendErr).Uint64("token", tok.id).Str("chat_id", tok.chatID).Msg("send failed")
		return SendResult{}, fmt.Errorf("send message: %w", sendErr)
	}

	result := SendResult{Content: resp.Content}
	if resp.AudioBase64 != "" {
		result.AudioURI = audio.DataURI(s.mime, resp.AudioBase64)
	}
	return result, nil
}

// Stop cancels the in-flight send. Its cleanup still runs when it settles;
// its result is discarded.
func (s *SendCoordinator) Stop() bool {
	s.mu.Lock()
	tok := s.current
	s.mu.Unlock()
	if tok == nil {
		return false
	}
	tok.cancel()
	return true
}

// EditAndResend withdraws the optimistic turn and restores its text into
// the draft. The user must submit again explicitly.
func (s *SendCoordinator) EditAndResend(ctx context.Context) (string, bool) {
	s.mu.Lock()
	if s.optimistic == nil {
		s.mu.Unlock()
		return "", false
	}
	text := s.optimistic.Content
	s.draft = text
	s.optimistic = nil
	s.sending = false
	tok := s.current
	s.current = nil
	s.mu.Unlock()

	if tok != nil {
		tok.cancel()
	}
	s.onChange()
	if tok != nil {
		s.invalidate(ctx, tok.chatID)
	}
	return text, true
}

// Abandon cancels and forgets the in-flight send, e.g. when the selected
// conversation changes. The draft is kept.
func (s *SendCoordinator) Abandon() {
	s.mu.Lock()
	tok := s.current
	s.current = nil
	changed := s.optimistic != nil || s.sending
	s.optimistic = nil
	s.sending = false
	s.mu.Unlock()
	if tok != nil {
		tok.cancel()
	}
	if changed {
		s.onChange()
	}
}

func (s *SendCoordinator) invalidate(ctx context.Context, chatID string) {
	if s.inval == nil {
		return
	}
	if err := s.inval.Invalidate(context.WithoutCancel(ctx), cache.ScopeChats, cache.ChatScope(chatID)); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("cache invalidation failed")
	}
}
