// Package cache is the read-side cache of chats and their turns. Writers never
// touch it directly; they invalidate scopes after every settlement.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
)

const (
	ScopeChats      = "chats"
	chatScopePrefix = "chat:"
)

// ChatScope names the cache entry of one conversation.
func ChatScope(chatID string) string { return chatScopePrefix + chatID }

// Fetcher is the subset of chatapi.Backend the cache reads through.
type Fetcher interface {
	ListChats(ctx context.Context, forMe bool) ([]chatapi.ChatSummary, error)
	GetChat(ctx context.Context, chatID string) (chatapi.Chat, error)
}

// Event is published after every refresh attempt.
type Event struct {
	Scope  string
	ChatID string
	// Stale is set when a failed fetch was answered from the mirror.
	Stale bool
	Err   error
}

// Result labels used by the refresh observer.
const (
	ResultOK     = "ok"
	ResultError  = "error"
	ResultMirror = "mirror"
)

type Options struct {
	ForMe  bool
	Mirror history.Store
	// Observe is called with the scope kind ("chats" or "chat") and a Result label.
	Observe func(kind, result string)
	Logger  zerolog.Logger
}

type Cache struct {
	fetcher Fetcher
	opts    Options
	group   singleflight.Group

	mu          sync.RWMutex
	chats       []chatapi.ChatSummary
	chatsLoaded bool
	byID        map[string]chatapi.Chat
	listeners   map[int]func(Event)
	nextID      int
	// fetchSeq orders fetches by start; stored keeps the newest start per
	// scope so an older fetch never overwrites a newer snapshot.
	fetchSeq uint64
	floor    uint64
	stored   map[string]uint64
	flights  map[string]*flight
}

// flight is one invalidation of a scope. Invalidations that land while it
// fetches mark it dirty and it fetches again before anyone is released.
type flight struct {
	done  chan struct{}
	dirty bool
	err   error
}

func New(fetcher Fetcher, opts Options) *Cache {
	return &Cache{
		fetcher:   fetcher,
		opts:      opts,
		byID:      make(map[string]chatapi.Chat),
		listeners: make(map[int]func(Event)),
		stored:    make(map[string]uint64),
		flights:   make(map[string]*flight),
	}
}

// Subscribe registers fn for refresh events and returns its cancel func.
func (c *Cache) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Chats returns the conversation list, fetching it on first use.
func (c *Cache) Chats(ctx context.Context) ([]chatapi.ChatSummary, error) {
	c.mu.RLock()
	if c.chatsLoaded {
		out := append([]chatapi.ChatSummary(nil), c.chats...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()
	if err := c.refresh(ctx, ScopeChats); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chatapi.ChatSummary(nil), c.chats...), nil
}

// PeekChats returns the cached conversation list without fetching.
func (c *Cache) PeekChats() ([]chatapi.ChatSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chatapi.ChatSummary(nil), c.chats...), c.chatsLoaded
}

// Chat returns one conversation, fetching it on first use.
func (c *Cache) Chat(ctx context.Context, chatID string) (chatapi.Chat, error) {
	if chat, ok := c.Peek(chatID); ok {
		return chat, nil
	}
	if err := c.refresh(ctx, ChatScope(chatID)); err != nil {
		return chatapi.Chat{}, err
	}
	chat, ok := c.Peek(chatID)
	if !ok {
		return chatapi.Chat{}, fmt.Errorf("chat %s missing after refresh", chatID)
	}
	return chat, nil
}

// Peek returns a cached conversation without fetching.
func (c *Cache) Peek(chatID string) (chatapi.Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chat, ok := c.byID[chatID]
	if !ok {
		return chatapi.Chat{}, false
	}
	chat.Messages = append([]chatapi.Message(nil), chat.Messages...)
	return chat, true
}

// Invalidate refetches every named scope. It returns once a fetch that
// started after the call has landed; invalidations arriving during a fetch
// share one follow-up fetch.
func (c *Cache) Invalidate(ctx context.Context, scopes ...string) error {
	var errs []error
	for _, scope := range scopes {
		if err := c.invalidate(ctx, scope); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", scope, err))
		}
	}
	return errors.Join(errs...)
}

// Clear drops everything, e.g. after logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.chats = nil
	c.chatsLoaded = false
	c.byID = make(map[string]chatapi.Chat)
	// Fetches started before Clear must not repopulate it.
	c.floor = c.fetchSeq
	c.mu.Unlock()
}

// refresh loads a scope on first use. Concurrent first loads share one fetch.
func (c *Cache) refresh(ctx context.Context, scope string) error {
	// Settlement of a cancelled send still refreshes.
	ctx = context.WithoutCancel(ctx)
	_, err, _ := c.group.Do(scope, func() (any, error) {
		return nil, c.fetch(ctx, scope)
	})
	return err
}

func (c *Cache) invalidate(ctx context.Context, scope string) error {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	if f, ok := c.flights[scope]; ok {
		f.dirty = true
		c.mu.Unlock()
		<-f.done
		return f.err
	}
	f := &flight{done: make(chan struct{})}
	c.flights[scope] = f
	c.mu.Unlock()

	for {
		err := c.fetch(ctx, scope)
		c.mu.Lock()
		if !f.dirty {
			delete(c.flights, scope)
			f.err = err
			c.mu.Unlock()
			close(f.done)
			return err
		}
		f.dirty = false
		c.mu.Unlock()
	}
}

func (c *Cache) fetch(ctx context.Context, scope string) error {
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	var ev Event
	switch {
	case scope == ScopeChats:
		ev = c.fetchChats(ctx, seq)
	case strings.HasPrefix(scope, chatScopePrefix):
		ev = c.fetchChat(ctx, strings.TrimPrefix(scope, chatScopePrefix), seq)
	default:
		return fmt.Errorf("unknown cache scope %q", scope)
	}
	c.publish(ev)
	return ev.Err
}

// claimLocked reports whether a fetch started at seq may store into scope.
func (c *Cache) claimLocked(scope string, seq uint64) bool {
	if seq <= c.floor || seq <= c.stored[scope] {
		return false
	}
	c.stored[scope] = seq
	return true
}

func (c *Cache) fetchChats(ctx context.Context, seq uint64) Event {
	ev := Event{Scope: ScopeChats}
	chats, err := c.fetcher.ListChats(ctx, c.opts.ForMe)
	if err != nil {
		ev.Err = err
		c.observe("chats", ResultError)
		c.opts.Logger.Warn().Err(err).Msg("chat list refresh failed")
		return ev
	}
	c.mu.Lock()
	if c.claimLocked(ScopeChats, seq) {
		c.chats = chats
		c.chatsLoaded = true
	}
	c.mu.Unlock()
	c.observe("chats", ResultOK)
	return ev
}

func (c *Cache) fetchChat(ctx context.Context, chatID string, seq uint64) Event {
	ev := Event{Scope: ChatScope(chatID), ChatID: chatID}
	chat, err := c.fetcher.GetChat(ctx, chatID)
	if err != nil {
		if mirrored, ok := c.fromMirror(ctx, chatID); ok {
			c.store(mirrored, seq)
			ev.Stale = true
			c.observe("chat", ResultMirror)
			c.opts.Logger.Warn().Err(err).Str("chat_id", chatID).Msg("chat refresh failed, serving mirror")
			return ev
		}
		ev.Err = err
		c.observe("chat", ResultError)
		c.opts.Logger.Warn().Err(err).Str("chat_id", chatID).Msg("chat refresh failed")
		return ev
	}
	c.store(chat, seq)
	c.toMirror(ctx, chat)
	c.observe("chat", ResultOK)
	return ev
}

func (c *Cache) store(chat chatapi.Chat, seq uint64) {
	c.mu.Lock()
	if c.claimLocked(ChatScope(chat.ID), seq) {
		c.byID[chat.ID] = chat
	}
	c.mu.Unlock()
}

func (c *Cache) publish(ev Event) {
	c.mu.RLock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Cache) observe(kind, result string) {
	if c.opts.Observe != nil {
		c.opts.Observe(kind, result)
	}
}
