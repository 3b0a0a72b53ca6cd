package chatapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/policy"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

// Backend is the data/transport collaborator of the conversation controller.
type Backend interface {
	ListChats(ctx context.Context, forMe bool) ([]ChatSummary, error)
	CreateChat(ctx context.Context, req CreateChatRequest) (ChatSummary, error)
	GetChat(ctx context.Context, chatID string) (Chat, error)
	// SendText must abort the underlying request when ctx is cancelled.
	SendText(ctx context.Context, chatID string, req SendTextRequest) (SendTextResponse, error)
	SendVoice(ctx context.Context, chatID string, upload VoiceUpload) (SendVoiceResponse, error)
	SetModel(ctx context.Context, chatID, modelID string) error
	Me(ctx context.Context) (session.Account, error)
}

// TokenSource supplies the bearer token read by every outgoing request.
type TokenSource interface {
	Token() string
}

type ChatSummary struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Model              string    `json:"model"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageAt      Timestamp `json:"lastMessageAt"`
}

type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`
}

type Chat struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	ModelID  string    `json:"modelId"`
	AgentID  *string   `json:"agentId,omitempty"`
	Messages []Message `json:"messages"`
}

type CreateChatRequest struct {
	ModelID string `json:"modelId,omitempty"`
}

type SendTextRequest struct {
	Message   string `json:"message"`
	ModelID   string `json:"modelId,omitempty"`
	WithVoice bool   `json:"withVoice"`
}

type SendTextResponse struct {
	Content     string `json:"content"`
	AudioBase64 string `json:"audioBase64,omitempty"`
}

type VoiceUpload struct {
	Clip      audio.Clip
	ModelID   string
	WithVoice bool
}

type SendVoiceResponse struct {
	Content     string `json:"content"`
	AudioBase64 string `json:"audioBase64"`
}

type setModelRequest struct {
	ModelID string `json:"modelId"`
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("chat backend status %d", e.Code)
	}
	// Error text ends up in logs and UI banners; proxies sometimes echo headers.
	return fmt.Sprintf("chat backend status %d: %s", e.Code, policy.RedactSecrets(body))
}

// Retryable reports whether a user-initiated retry is likely to succeed.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// Timestamp accepts the ISO layouts the backend emits, with or without a zone.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", s, err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, unquoted); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp %q: unrecognized layout", unquoted)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}
