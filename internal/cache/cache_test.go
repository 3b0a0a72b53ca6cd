package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
)

type stubFetcher struct {
	mu        sync.Mutex
	chats     []chatapi.ChatSummary
	byID      map[string]chatapi.Chat
	err       error
	listCalls atomic.Int32
	getCalls  atomic.Int32
	gate      chan struct{}
}

func (s *stubFetcher) ListChats(ctx context.Context, _ bool) ([]chatapi.ChatSummary, error) {
	s.listCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatapi.ChatSummary(nil), s.chats...), s.err
}

func (s *stubFetcher) GetChat(ctx context.Context, id string) (chatapi.Chat, error) {
	s.getCalls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return chatapi.Chat{}, s.err
	}
	return s.byID[id], nil
}

func (s *stubFetcher) set(id string, msgs ...chatapi.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID == nil {
		s.byID = make(map[string]chatapi.Chat)
	}
	s.byID[id] = chatapi.Chat{ID: id, Title: "t", Messages: msgs}
}

func TestCacheReadsThroughOnce(t *testing.T) {
	f := &stubFetcher{chats: []chatapi.ChatSummary{{ID: "c1"}}}
	c := New(f, Options{Logger: zerolog.Nop()})

	for i := 0; i < 3; i++ {
		chats, err := c.Chats(context.Background())
		require.NoError(t, err)
		require.Len(t, chats, 1)
	}
	require.Equal(t, int32(1), f.listCalls.Load())
}

func TestCacheInvalidateRefetchesAndNotifies(t *testing.T) {
	f := &stubFetcher{}
	f.set("c1", chatapi.Message{ID: "m1", Role: "user"})
	var results []string
	c := New(f, Options{Logger: zerolog.Nop(), Observe: func(kind, result string) { results = append(results, kind+"/"+result) }})

	var events []Event
	unsubscribe := c.Subscribe(func(ev Event) { events = append(events, ev) })

	_, err := c.Chat(context.Background(), "c1")
	require.NoError(t, err)

	f.set("c1", chatapi.Message{ID: "m1", Role: "user"}, chatapi.Message{ID: "m2", Role: "assistant"})
	require.NoError(t, c.Invalidate(context.Background(), ScopeChats, ChatScope("c1")))

	chat, ok := c.Peek("c1")
	require.True(t, ok)
	require.Len(t, chat.Messages, 2)
	require.Len(t, events, 3)
	require.Equal(t, "c1", events[2].ChatID)
	require.Equal(t, []string{"chat/ok", "chats/ok", "chat/ok"}, results)

	unsubscribe()
	require.NoError(t, c.Invalidate(context.Background(), ChatScope("c1")))
	require.Len(t, events, 3)
}

func TestCacheInvalidateSurvivesCancelledContext(t *testing.T) {
	f := &stubFetcher{}
	f.set("c1")
	c := New(f, Options{Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Invalidate(ctx, ChatScope("c1")))
	_, ok := c.Peek("c1")
	require.True(t, ok)
}

func TestCacheDeduplicatesConcurrentRefresh(t *testing.T) {
	f := &stubFetcher{gate: make(chan struct{})}
	f.set("c1")
	c := New(f, Options{Logger: zerolog.Nop()})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Invalidate(context.Background(), ChatScope("c1"))
		}()
	}
	require.Eventually(t, func() bool { return f.getCalls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	// One fetch plus one follow-up for everything that arrived meanwhile.
	require.LessOrEqual(t, f.getCalls.Load(), int32(2))
}

func TestCacheInvalidateDuringFetchSeesLaterWrite(t *testing.T) {
	f := &stubFetcher{gate: make(chan struct{})}
	f.set("c1")
	c := New(f, Options{Logger: zerolog.Nop()})
	scope := ChatScope("c1")

	first := make(chan error, 1)
	go func() { first <- c.Invalidate(context.Background(), scope) }()
	require.Eventually(t, func() bool { return f.getCalls.Load() == 1 }, time.Second, time.Millisecond)

	// The write lands after the running fetch started.
	f.set("c1", chatapi.Message{ID: "u2", Role: "user"}, chatapi.Message{ID: "a2", Role: "assistant"})
	second := make(chan error, 1)
	go func() { second <- c.Invalidate(context.Background(), scope) }()
	require.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		fl, ok := c.flights[scope]
		return ok && fl.dirty
	}, time.Second, time.Millisecond)

	close(f.gate)
	require.NoError(t, <-second)
	chat, ok := c.Peek("c1")
	require.True(t, ok)
	require.Len(t, chat.Messages, 2)
	require.NoError(t, <-first)
	require.Equal(t, int32(2), f.getCalls.Load())
}

func TestCacheClearDropsFetchesStartedBefore(t *testing.T) {
	f := &stubFetcher{gate: make(chan struct{})}
	f.set("c1")
	c := New(f, Options{Logger: zerolog.Nop()})

	done := make(chan error, 1)
	go func() { done <- c.Invalidate(context.Background(), ChatScope("c1")) }()
	require.Eventually(t, func() bool { return f.getCalls.Load() == 1 }, time.Second, time.Millisecond)
	c.Clear()
	close(f.gate)
	require.NoError(t, <-done)

	_, ok := c.Peek("c1")
	require.False(t, ok)
}

func TestCacheServesMirrorOnFailure(t *testing.T) {
	mirror := history.NewInMemoryStore()
	f := &stubFetcher{}
	f.set("c1", chatapi.Message{ID: "m1", Role: "assistant", Content: "cached"})
	c := New(f, Options{Logger: zerolog.Nop(), Mirror: mirror})
	_, err := c.Chat(context.Background(), "c1")
	require.NoError(t, err)

	offline := New(&stubFetcher{err: errors.New("connection refused")}, Options{Logger: zerolog.Nop(), Mirror: mirror})
	var stale bool
	offline.Subscribe(func(ev Event) { stale = ev.Stale })
	chat, err := offline.Chat(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, stale)
	require.Equal(t, "cached", chat.Messages[0].Content)

	_, err = offline.Chat(context.Background(), "unknown")
	require.Error(t, err)
}

func TestCacheRejectsUnknownScope(t *testing.T) {
	c := New(&stubFetcher{}, Options{Logger: zerolog.Nop()})
	require.Error(t, c.Invalidate(context.Background(), "agents"))
}
