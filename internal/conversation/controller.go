package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/cache"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/device"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

var ErrVoiceReplyUnavailable = fmt.Errorf("%w: voice replies need a signed-in account", reliability.ErrInvalid)

// ChatCache is the read-side cache the controller renders from.
type ChatCache interface {
	Invalidator
	Chats(ctx context.Context) ([]chatapi.ChatSummary, error)
	PeekChats() ([]chatapi.ChatSummary, bool)
	Chat(ctx context.Context, chatID string) (chatapi.Chat, error)
	Peek(chatID string) (chatapi.Chat, bool)
	Subscribe(fn func(cache.Event)) func()
	Clear()
}

// AccountSink receives the fetched account profile.
type AccountSink interface {
	SetAccount(account session.Account) error
}

type Config struct {
	DefaultModelID   string
	ReplyWithVoice   bool
	AudioMime        string
	RecordTimeslice  time.Duration
	PlaybackErrorTTL time.Duration
	ReconcileRetry   bool
}

type Deps struct {
	Backend  chatapi.Backend
	Cache    ChatCache
	Accounts AccountSink
	Mic      device.Microphone
	Player   device.Player
	Observer Observer
	Logger   zerolog.Logger
}

// State is the full UI-facing snapshot.
type State struct {
	ChatID              string                `json:"chat_id"`
	ModelID             string                `json:"model_id"`
	Draft               string                `json:"draft"`
	ReplyWithVoice      bool                  `json:"reply_with_voice"`
	VoiceReplyAvailable bool                  `json:"voice_reply_available"`
	Listening           bool                  `json:"listening"`
	VoiceState          VoiceState            `json:"voice_state"`
	Sending             bool                  `json:"sending"`
	SendingVoice        bool                  `json:"sending_voice"`
	Turns               []DisplayTurn         `json:"turns"`
	PlayingTurnID       string                `json:"playing_turn_id,omitempty"`
	PlaybackError       string                `json:"playback_error,omitempty"`
	VoiceError          string                `json:"voice_error,omitempty"`
	SendError           string                `json:"send_error,omitempty"`
	Stale               bool                  `json:"stale,omitempty"`
	Chats               []chatapi.ChatSummary `json:"chats"`
	Account             *session.Account      `json:"account,omitempty"`
}

// Controller composes send, voice, reconciliation and playback around the
// selected conversation.
type Controller struct {
	cfg       Config
	backend   chatapi.Backend
	cache     ChatCache
	accounts  AccountSink
	observer  Observer
	logger    zerolog.Logger
	send      *SendCoordinator
	voice     *VoiceSession
	playback  *PlaybackController
	reconcile *ReconcileBuffer
	playErr   *transientError
	voiceErr  *transientError
	sendErr   *transientError

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	mu             sync.RWMutex
	chatID         string
	modelID        string
	replyWithVoice bool
	account        *session.Account
	chats          []chatapi.ChatSummary
	stale          bool
	listeners      map[int]func(State)
	nextListener   int
}

func NewController(cfg Config, deps Deps) *Controller {
	if cfg.DefaultModelID == "" {
		cfg.DefaultModelID = chatapi.DefaultModelID
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:            cfg,
		backend:        deps.Backend,
		cache:          deps.Cache,
		accounts:       deps.Accounts,
		observer:       observerOrNop(deps.Observer),
		logger:         deps.Logger,
		ctx:            ctx,
		cancel:         cancel,
		modelID:        cfg.DefaultModelID,
		replyWithVoice: cfg.ReplyWithVoice,
		listeners:      make(map[int]func(State)),
	}
	c.playErr = newTransientError(cfg.PlaybackErrorTTL, c.publish)
	c.voiceErr = newTransientError(cfg.PlaybackErrorTTL, c.publish)
	c.sendErr = newTransientError(cfg.PlaybackErrorTTL, c.publish)
	c.reconcile = NewReconcileBuffer(cfg.ReconcileRetry, c.observer)
	player := deps.Player
	if player == nil {
		player = device.SilentPlayer{}
	}
	c.playback = NewPlaybackController(player, c.playErr, c.observer,
		deps.Logger.With().Str("component", "playback").Logger(), c.publish)
	c.send = NewSendCoordinator(SendDeps{
		Sender:    deps.Backend,
		Inval:     deps.Cache,
		Replies:   c.reconcile,
		AudioMime: cfg.AudioMime,
		Observer:  c.observer,
		Logger:    deps.Logger.With().Str("component", "send").Logger(),
		OnChange:  c.publish,
	})
	c.voice = NewVoiceSession(VoiceDeps{
		Mic:       deps.Mic,
		Sender:    deps.Backend,
		Inval:     deps.Cache,
		Timeslice: cfg.RecordTimeslice,
		AudioMime: cfg.AudioMime,
		Replies:   voiceReplies{ReconcileBuffer: c.reconcile, stop: c.playback.Stop},
		Errors:    c.voiceErr,
		Observer:  c.observer,
		Logger:    deps.Logger.With().Str("component", "voice").Logger(),
		OnChange:  c.publish,
	})
	c.unsub = deps.Cache.Subscribe(c.onCacheEvent)
	return c
}

// Open loads the conversation list, creating a conversation when there is
// none, and selects the first one.
func (c *Controller) Open(ctx context.Context) error {
	if err := c.RefreshAccount(ctx); err != nil {
		c.logger.Info().Err(err).Msg("account unavailable, voice replies disabled")
	}
	chats, err := c.cache.Chats(ctx)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	if len(chats) == 0 {
		created, err := c.CreateChat(ctx)
		if err != nil {
			return err
		}
		c.logger.Info().Str("chat_id", created.ID).Msg("created first chat")
		return nil
	}
	c.setChats(chats)
	return c.SelectChat(ctx, chats[0].ID)
}

// Close cancels in-flight work and releases devices.
func (c *Controller) Close() {
	c.send.Abandon()
	c.voice.Discard()
	c.playback.Stop()
	c.cancel()
	if c.unsub != nil {
		c.unsub()
	}
}

// RefreshAccount fetches the account profile that gates voice replies.
func (c *Controller) RefreshAccount(ctx context.Context) error {
	account, err := c.backend.Me(ctx)
	if err != nil {
		c.ClearAccount()
		return err
	}
	c.mu.Lock()
	c.account = &account
	c.mu.Unlock()
	if c.accounts != nil {
		if err := c.accounts.SetAccount(account); err != nil && !errors.Is(err, session.ErrNotFound) {
			c.logger.Warn().Err(err).Msg("store account on session")
		}
	}
	c.publish()
	return nil
}

// ClearAccount runs at logout.
func (c *Controller) ClearAccount() {
	c.mu.Lock()
	changed := c.account != nil
	c.account = nil
	c.mu.Unlock()
	if changed {
		c.publish()
	}
}

func (c *Controller) SelectChat(ctx context.Context, chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return ErrNoConversation
	}
	chat, err := c.cache.Chat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load chat %s: %w", chatID, err)
	}

	c.mu.Lock()
	switched := c.chatID != chatID
	c.chatID = chatID
	if chat.ModelID != "" {
		c.modelID = chat.ModelID
	}
	c.mu.Unlock()

	if switched {
		c.send.Abandon()
		c.playback.Stop()
		c.reconcile.Reset()
	}
	// Seed the marker so audio from earlier turns is never rebound.
	c.reconcile.Observe(LatestAssistantID(TurnsFromChat(chat)))
	c.publish()
	return nil
}

func (c *Controller) CreateChat(ctx context.Context) (chatapi.ChatSummary, error) {
	created, err := c.backend.CreateChat(ctx, chatapi.CreateChatRequest{ModelID: c.ModelID()})
	if err != nil {
		return chatapi.ChatSummary{}, fmt.Errorf("create chat: %w", err)
	}
	if err := c.cache.Invalidate(ctx, cache.ScopeChats); err != nil {
		c.logger.Warn().Err(err).Msg("chat list refresh failed")
	}
	if err := c.SelectChat(ctx, created.ID); err != nil {
		return created, err
	}
	return created, nil
}

// SetModel changes the model for the selected conversation and future sends.
func (c *Controller) SetModel(ctx context.Context, modelID string) error {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return fmt.Errorf("%w: model id is empty", reliability.ErrInvalid)
	}
	c.mu.Lock()
	c.modelID = modelID
	chatID := c.chatID
	c.mu.Unlock()
	c.publish()

	if chatID == "" {
		return nil
	}
	if err := c.backend.SetModel(ctx, chatID, modelID); err != nil {
		return fmt.Errorf("set model: %w", err)
	}
	return c.cache.Invalidate(ctx, cache.ScopeChats, cache.ChatScope(chatID))
}

func (c *Controller) SetDraft(text string) { c.send.SetDraft(text) }

// SetReplyWithVoice toggles spoken replies. Enabling requires an account.
func (c *Controller) SetReplyWithVoice(on bool) error {
	c.mu.Lock()
	if on && c.account == nil {
		c.mu.Unlock()
		return ErrVoiceReplyUnavailable
	}
	c.replyWithVoice = on
	c.mu.Unlock()
	c.publish()
	return nil
}

// Submit sends text, or the current draft when text is blank.
func (c *Controller) Submit(ctx context.Context, text string) (SendResult, error) {
	if strings.TrimSpace(text) == "" {
		text = c.send.Draft()
	}
	c.mu.RLock()
	req := SubmitRequest{
		ChatID:     c.chatID,
		Text:       text,
		ModelID:    c.modelID,
		WantsAudio: c.wantsAudioLocked(),
	}
	c.mu.RUnlock()
	c.sendErr.Clear()
	res, err := c.send.Submit(ctx, req)
	if err != nil && reliability.Classify(err) == reliability.KindTransport {
		c.sendErr.Set("Message failed to send")
		c.publish()
	}
	return res, err
}

// SubmitAsync submits on the controller's lifetime context and returns
// immediately; failures surface through State.SendError.
func (c *Controller) SubmitAsync(text string) {
	go func() {
		if _, err := c.Submit(c.ctx, text); err != nil && !reliability.IsCancellation(err) {
			c.logger.Warn().Err(err).Msg("async submit failed")
		}
	}()
}

func (c *Controller) StopSending() bool { return c.send.Stop() }

func (c *Controller) EditAndResend() (string, bool) { return c.send.EditAndResend(c.ctx) }

// SetListening is the voice toggle. Transitions into acquiring and stopping
// happen before it returns; acquisition and the voice send finish in the
// background with the parameters captured here.
func (c *Controller) SetListening(on bool) error {
	if on {
		gen, err := c.voice.beginStart()
		if err != nil {
			return err
		}
		go func() {
			if err := c.voice.acquire(c.ctx, gen); err != nil && !reliability.IsCancellation(err) {
				c.logger.Warn().Err(err).Msg("voice capture did not start")
			}
		}()
		return nil
	}
	params := c.VoiceParams()
	stream, ok := c.voice.beginStop()
	if !ok {
		return nil
	}
	go func() {
		if _, err := c.voice.finishStop(c.ctx, stream, params); err != nil && !reliability.IsCancellation(err) {
			if reliability.Classify(err) == reliability.KindTransport {
				c.sendErr.Set("Voice message failed to send")
				c.publish()
			}
			c.logger.Warn().Err(err).Msg("voice send failed")
		}
	}()
	return nil
}

// StartListening and StopListening are the blocking forms of SetListening.
func (c *Controller) StartListening(ctx context.Context) error { return c.voice.Start(ctx) }

func (c *Controller) StopListening(ctx context.Context) (VoiceResult, error) {
	return c.voice.Stop(ctx, c.VoiceParams())
}

// VoiceParams captures the current chat, model and reply preference.
func (c *Controller) VoiceParams() VoiceParams {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return VoiceParams{ChatID: c.chatID, ModelID: c.modelID, WantsAudio: c.wantsAudioLocked()}
}

// TogglePlayback plays or pauses the audio bound to turnID.
func (c *Controller) TogglePlayback(turnID string) error {
	uri, _ := c.reconcile.Binding(turnID)
	return c.playback.Toggle(turnID, uri)
}

func (c *Controller) ModelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelID
}

func (c *Controller) ChatID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatID
}

// Subscribe registers fn for every state change and returns its cancel func.
// fn runs on the goroutine that caused the change and must not block.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	st := State{
		ChatID:              c.chatID,
		ModelID:             c.modelID,
		ReplyWithVoice:      c.replyWithVoice,
		VoiceReplyAvailable: c.account != nil,
		Stale:               c.stale,
		Chats:               append([]chatapi.ChatSummary(nil), c.chats...),
	}
	if c.account != nil {
		a := *c.account
		st.Account = &a
	}
	c.mu.RUnlock()

	send := c.send.State()
	voice := c.voice.Status()
	st.Draft = send.Draft
	st.Sending = send.Sending
	st.Listening = voice.Listening
	st.VoiceState = voice.State
	st.SendingVoice = voice.SendingVoice
	st.PlayingTurnID = c.playback.Playing()
	st.PlaybackError = c.playErr.Get()
	st.VoiceError = c.voiceErr.Get()
	st.SendError = c.sendErr.Get()

	var persisted []Turn
	if st.ChatID != "" {
		if chat, ok := c.cache.Peek(st.ChatID); ok {
			persisted = TurnsFromChat(chat)
		}
	}
	st.Turns = BuildView(persisted, send.Optimistic, c.reconcile.Bindings(), st.PlayingTurnID)
	return st
}

func (c *Controller) publish() {
	c.mu.RLock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	if len(fns) == 0 {
		return
	}
	st := c.State()
	for _, fn := range fns {
		fn(st)
	}
}

func (c *Controller) onCacheEvent(ev cache.Event) {
	switch {
	case ev.Scope == cache.ScopeChats:
		// Listeners run inside the refresh; only read what it stored.
		if chats, ok := c.cache.PeekChats(); ok && ev.Err == nil {
			c.setChats(chats)
		}
	case ev.ChatID != "" && ev.ChatID == c.ChatID():
		c.mu.Lock()
		c.stale = ev.Stale
		c.mu.Unlock()
		if ev.Err == nil {
			c.reconcile.Observe(c.latestAssistantID(ev.ChatID))
		}
	}
	c.publish()
}

// voiceReplies supersedes any live playback before a voice reply is offered.
type voiceReplies struct {
	*ReconcileBuffer
	stop func()
}

func (r voiceReplies) Offer(uri string, t ReplyTicket) {
	r.stop()
	r.ReconcileBuffer.Offer(uri, t)
}

func (c *Controller) setChats(chats []chatapi.ChatSummary) {
	c.mu.Lock()
	c.chats = chats
	c.mu.Unlock()
}

func (c *Controller) latestAssistantID(chatID string) string {
	chat, ok := c.cache.Peek(chatID)
	if !ok {
		return ""
	}
	return LatestAssistantID(TurnsFromChat(chat))
}

func (c *Controller) wantsAudioLocked() bool {
	return c.replyWithVoice && c.account != nil
}
