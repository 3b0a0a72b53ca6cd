package history

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("chat not found")

// ChatRecord is one conversation header.
type ChatRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnRecord stores a single persisted conversation turn.
type TurnRecord struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ModelID   string    `json:"model_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists chats and their turns. The direct backend uses it as its
// database; the read-side cache uses it as an offline mirror.
type Store interface {
	CreateChat(ctx context.Context, chat ChatRecord) (ChatRecord, error)
	GetChat(ctx context.Context, id string) (ChatRecord, error)
	// ListChats returns chats most recently updated first.
	ListChats(ctx context.Context) ([]ChatRecord, error)
	UpdateChat(ctx context.Context, chat ChatRecord) error
	SaveTurn(ctx context.Context, turn TurnRecord) error
	// Turns returns the last limit turns of a chat in chronological order;
	// limit <= 0 returns all of them.
	Turns(ctx context.Context, chatID string, limit int) ([]TurnRecord, error)
	// ReplaceTurns overwrites a chat and its turns with a fetched copy.
	ReplaceTurns(ctx context.Context, chat ChatRecord, turns []TurnRecord) error
	Close() error
}
