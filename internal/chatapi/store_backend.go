package chatapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

// localAccount is reported by in-process backends that have no auth.
var localAccount = session.Account{ID: "local", Channel: "web", ExternalID: "local"}

const titleMaxRunes = 50

// storeChats implements the read side of Backend on top of a history.Store.
type storeChats struct {
	store history.Store
}

func (s storeChats) ListChats(ctx context.Context, _ bool) ([]ChatSummary, error) {
	chats, err := s.store.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		summary := ChatSummary{
			ID:            c.ID,
			Title:         c.Title,
			Model:         c.ModelID,
			LastMessageAt: Timestamp{Time: c.UpdatedAt},
		}
		last, err := s.store.Turns(ctx, c.ID, 1)
		if err != nil {
			return nil, err
		}
		if len(last) == 1 {
			summary.LastMessagePreview = previewText(last[0].Content, 80)
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s storeChats) CreateChat(ctx context.Context, req CreateChatRequest) (ChatSummary, error) {
	model := strings.TrimSpace(req.ModelID)
	if model == "" {
		model = DefaultModelID
	}
	c, err := s.store.CreateChat(ctx, history.ChatRecord{Title: "New chat", ModelID: model})
	if err != nil {
		return ChatSummary{}, err
	}
	return ChatSummary{ID: c.ID, Title: c.Title, Model: c.ModelID, LastMessageAt: Timestamp{Time: c.UpdatedAt}}, nil
}

func (s storeChats) GetChat(ctx context.Context, chatID string) (Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return Chat{}, notFound(err)
	}
	turns, err := s.store.Turns(ctx, chatID, 0)
	if err != nil {
		return Chat{}, notFound(err)
	}
	out := Chat{ID: c.ID, Title: c.Title, ModelID: c.ModelID, Messages: make([]Message, 0, len(turns))}
	for _, t := range turns {
		out.Messages = append(out.Messages, Message{ID: t.ID, Role: t.Role, Content: t.Content, CreatedAt: Timestamp{Time: t.CreatedAt}})
	}
	return out, nil
}

func (s storeChats) SetModel(ctx context.Context, chatID, modelID string) error {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return notFound(err)
	}
	c.ModelID = modelID
	return notFound(s.store.UpdateChat(ctx, c))
}

func (s storeChats) Me(context.Context) (session.Account, error) {
	return localAccount, nil
}

// appendExchange persists one user/assistant exchange and titles untitled chats
// after their first message.
func (s storeChats) appendExchange(ctx context.Context, chatID, userText, reply, modelID string) error {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return notFound(err)
	}
	now := time.Now().UTC()
	if err := s.store.SaveTurn(ctx, history.TurnRecord{ChatID: chatID, Role: "user", Content: userText, CreatedAt: now}); err != nil {
		return err
	}
	if err := s.store.SaveTurn(ctx, history.TurnRecord{ChatID: chatID, Role: "assistant", Content: reply, ModelID: modelID, CreatedAt: now.Add(time.Millisecond)}); err != nil {
		return err
	}
	if c.Title == "" || c.Title == "New chat" {
		c.Title = previewText(userText, titleMaxRunes)
		if err := s.store.UpdateChat(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, history.ErrNotFound) {
		return &StatusError{Code: 404, Body: fmt.Sprintf(`{"detail":%q}`, "Chat not found")}
	}
	return err
}

func previewText(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
