package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chats in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_chat_created ON chat_turns (chat_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, chat ChatRecord) (ChatRecord, error) {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, title, model_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		chat.ID, chat.Title, chat.ModelID, chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return ChatRecord{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (s *PostgresStore) GetChat(ctx context.Context, id string) (ChatRecord, error) {
	var c ChatRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, model_id, created_at, updated_at FROM chats WHERE id=$1`, id,
	).Scan(&c.ID, &c.Title, &c.ModelID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatRecord{}, ErrNotFound
	}
	if err != nil {
		return ChatRecord{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChats(ctx context.Context) ([]ChatRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, model_id, created_at, updated_at FROM chats ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var c ChatRecord
		if err := rows.Scan(&c.ID, &c.Title, &c.ModelID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateChat(ctx context.Context, chat ChatRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET title=$2, model_id=$3, updated_at=now() WHERE id=$1`,
		chat.ID, chat.Title, chat.ModelID,
	)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn TurnRecord) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE chats SET updated_at=$2 WHERE id=$1`, turn.ChatID, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO chat_turns (id, chat_id, role, content, model_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, turn.ChatID, turn.Role, turn.Content, turn.ModelID, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Turns(ctx context.Context, chatID string, limit int) ([]TurnRecord, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	query := `SELECT id, chat_id, role, content, model_id, created_at
		 FROM chat_turns WHERE chat_id=$1 ORDER BY created_at DESC, id DESC`
	args := []any{chatID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var items []TurnRecord
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Role, &r.Content, &r.ModelID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) ReplaceTurns(ctx context.Context, chat ChatRecord, turns []TurnRecord) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace turns: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO chats (id, title, model_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, model_id=EXCLUDED.model_id, updated_at=EXCLUDED.updated_at`,
		chat.ID, chat.Title, chat.ModelID, chat.CreatedAt, chat.UpdatedAt,
	); err != nil {
		return fmt.Errorf("replace turns: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chat_turns WHERE chat_id=$1`, chat.ID); err != nil {
		return fmt.Errorf("replace turns: %w", err)
	}
	batch := &pgx.Batch{}
	for _, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		batch.Queue(
			`INSERT INTO chat_turns (id, chat_id, role, content, model_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, chat.ID, t.Role, t.Content, t.ModelID, t.CreatedAt,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("replace turns: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
