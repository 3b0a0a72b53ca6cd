package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps chats in process for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	chats map[string]ChatRecord
	turns map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chats: make(map[string]ChatRecord),
		turns: make(map[string][]TurnRecord),
	}
}

func (s *InMemoryStore) CreateChat(_ context.Context, chat ChatRecord) (ChatRecord, error) {
	now := time.Now().UTC()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *InMemoryStore) GetChat(_ context.Context, id string) (ChatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return ChatRecord{}, ErrNotFound
	}
	return chat, nil
}

func (s *InMemoryStore) ListChats(_ context.Context) ([]ChatRecord, error) {
	s.mu.RLock()
	out := make([]ChatRecord, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) UpdateChat(_ context.Context, chat ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.chats[chat.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Title = chat.Title
	cur.ModelID = chat.ModelID
	cur.UpdatedAt = time.Now().UTC()
	s.chats[chat.ID] = cur
	return nil
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn TurnRecord) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[turn.ChatID]
	if !ok {
		return ErrNotFound
	}
	s.turns[turn.ChatID] = append(s.turns[turn.ChatID], turn)
	chat.UpdatedAt = turn.CreatedAt
	s.chats[turn.ChatID] = chat
	return nil
}

func (s *InMemoryStore) Turns(_ context.Context, chatID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, ErrNotFound
	}
	arr := s.turns[chatID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) ReplaceTurns(_ context.Context, chat ChatRecord, turns []TurnRecord) error {
	cp := make([]TurnRecord, len(turns))
	copy(cp, turns)
	for i := range cp {
		cp[i].ChatID = chat.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.chats[chat.ID]; ok && chat.CreatedAt.IsZero() {
		chat.CreatedAt = prev.CreatedAt
	}
	s.chats[chat.ID] = chat
	s.turns[chat.ID] = cp
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
