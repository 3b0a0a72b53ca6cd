package chatapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

// Client talks to the chat backend REST API.
type Client struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient returns a client for baseURL. tokens may be nil for anonymous use.
func NewClient(baseURL string, tokens TokenSource, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:  tokens,
		// No client timeout: a stalled send is ended by cancelling its context.
		client: &http.Client{},
		logger: logger,
	}
}

func (c *Client) ListChats(ctx context.Context, forMe bool) ([]ChatSummary, error) {
	path := "/api/chats"
	if forMe {
		path += "?for_me=1"
	}
	var out []ChatSummary
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (ChatSummary, error) {
	var out ChatSummary
	err := c.doJSON(ctx, http.MethodPost, "/api/chats", req, &out)
	return out, err
}

func (c *Client) GetChat(ctx context.Context, chatID string) (Chat, error) {
	var out Chat
	err := c.doJSON(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID), nil, &out)
	return out, err
}

func (c *Client) SendText(ctx context.Context, chatID string, req SendTextRequest) (SendTextResponse, error) {
	var out SendTextResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/send", req, &out)
	return out, err
}

func (c *Client) SendVoice(ctx context.Context, chatID string, upload VoiceUpload) (SendVoiceResponse, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("audio", upload.Clip.Filename())
	if err != nil {
		return SendVoiceResponse{}, fmt.Errorf("build voice form: %w", err)
	}
	if _, err := part.Write(upload.Clip.Data); err != nil {
		return SendVoiceResponse{}, fmt.Errorf("build voice form: %w", err)
	}
	if upload.ModelID != "" {
		if err := form.WriteField("modelId", upload.ModelID); err != nil {
			return SendVoiceResponse{}, fmt.Errorf("build voice form: %w", err)
		}
	}
	if err := form.WriteField("withVoice", strconv.FormatBool(upload.WithVoice)); err != nil {
		return SendVoiceResponse{}, fmt.Errorf("build voice form: %w", err)
	}
	if err := form.Close(); err != nil {
		return SendVoiceResponse{}, fmt.Errorf("build voice form: %w", err)
	}

	var out SendVoiceResponse
	err = c.do(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/send-voice",
		form.FormDataContentType(), &body, &out)
	return out, err
}

func (c *Client) SetModel(ctx context.Context, chatID, modelID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/model", setModelRequest{ModelID: modelID}, nil)
}

func (c *Client) Me(ctx context.Context) (session.Account, error) {
	var out session.Account
	err := c.doJSON(ctx, http.MethodGet, "/api/accounts/me", nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	return c.do(ctx, method, path, "application/json", body, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Int("status", res.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("chat backend call")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{Code: res.StatusCode, Body: string(raw)}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if !strings.Contains(strings.ToLower(res.Header.Get("Content-Type")), "json") {
		return fmt.Errorf("unexpected content type %q", res.Header.Get("Content-Type"))
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
