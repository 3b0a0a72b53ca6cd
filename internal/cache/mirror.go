package cache

import (
	"context"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
)

func (c *Cache) toMirror(ctx context.Context, chat chatapi.Chat) {
	if c.opts.Mirror == nil {
		return
	}
	turns := make([]history.TurnRecord, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		turns = append(turns, history.TurnRecord{
			ID:        m.ID,
			ChatID:    chat.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Time,
		})
	}
	record := history.ChatRecord{ID: chat.ID, Title: chat.Title, ModelID: chat.ModelID}
	if n := len(chat.Messages); n > 0 {
		record.UpdatedAt = chat.Messages[n-1].CreatedAt.Time
	}
	if err := c.opts.Mirror.ReplaceTurns(ctx, record, turns); err != nil {
		c.opts.Logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("mirror write failed")
	}
}

func (c *Cache) fromMirror(ctx context.Context, chatID string) (chatapi.Chat, bool) {
	if c.opts.Mirror == nil {
		return chatapi.Chat{}, false
	}
	record, err := c.opts.Mirror.GetChat(ctx, chatID)
	if err != nil {
		return chatapi.Chat{}, false
	}
	turns, err := c.opts.Mirror.Turns(ctx, chatID, 0)
	if err != nil || len(turns) == 0 {
		return chatapi.Chat{}, false
	}
	chat := chatapi.Chat{ID: record.ID, Title: record.Title, ModelID: record.ModelID}
	for _, t := range turns {
		chat.Messages = append(chat.Messages, chatapi.Message{
			ID:        t.ID,
			Role:      t.Role,
			Content:   t.Content,
			CreatedAt: chatapi.Timestamp{Time: t.CreatedAt},
		})
	}
	return chat, true
}
