package chatapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
)

const directHistoryTurns = 20

// DirectConfig configures DirectBackend.
type DirectConfig struct {
	BaseURL string
	APIKey  string

	// Speech endpoints default to the chat endpoint and key when blank.
	SpeechBaseURL string
	SpeechAPIKey  string
	TTSModel      string
	TTSVoice      string
	STTModel      string
	SystemPrompt  string
}

// DirectBackend runs the chat loop in process against an OpenAI-compatible
// API, persisting turns in a history.Store.
type DirectBackend struct {
	storeChats
	chat   *openai.Client
	speech *openai.Client
	cfg    DirectConfig
	logger zerolog.Logger
}

func NewDirectBackend(cfg DirectConfig, store history.Store, logger zerolog.Logger) (*DirectBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("direct backend requires an api key")
	}
	if store == nil {
		store = history.NewInMemoryStore()
	}
	chatCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		chatCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	speechKey := cfg.SpeechAPIKey
	if speechKey == "" {
		speechKey = cfg.APIKey
	}
	speechCfg := openai.DefaultConfig(speechKey)
	switch {
	case cfg.SpeechBaseURL != "":
		speechCfg.BaseURL = strings.TrimRight(cfg.SpeechBaseURL, "/")
	case cfg.SpeechAPIKey == "":
		speechCfg.BaseURL = chatCfg.BaseURL
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = string(openai.TTSModel1)
	}
	if cfg.TTSVoice == "" {
		cfg.TTSVoice = string(openai.VoiceAlloy)
	}
	if cfg.STTModel == "" {
		cfg.STTModel = openai.Whisper1
	}

	return &DirectBackend{
		storeChats: storeChats{store: store},
		chat:       openai.NewClientWithConfig(chatCfg),
		speech:     openai.NewClientWithConfig(speechCfg),
		cfg:        cfg,
		logger:     logger,
	}, nil
}

func (b *DirectBackend) SendText(ctx context.Context, chatID string, req SendTextRequest) (SendTextResponse, error) {
	model := modelOrDefault(req.ModelID)
	reply, err := b.complete(ctx, chatID, req.Message, model)
	if err != nil {
		return SendTextResponse{}, err
	}
	if err := b.appendExchange(ctx, chatID, req.Message, reply, model); err != nil {
		return SendTextResponse{}, err
	}
	resp := SendTextResponse{Content: reply}
	if req.WithVoice {
		// Speech is best effort: the text reply is already persisted.
		audioB64, err := b.synthesize(ctx, reply)
		if err != nil {
			if ctx.Err() != nil {
				return SendTextResponse{}, ctx.Err()
			}
			b.logger.Warn().Err(err).Str("chat_id", chatID).Msg("speech synthesis failed")
		}
		resp.AudioBase64 = audioB64
	}
	return resp, nil
}

func (b *DirectBackend) SendVoice(ctx context.Context, chatID string, upload VoiceUpload) (SendVoiceResponse, error) {
	if upload.Clip.Empty() {
		return SendVoiceResponse{}, &StatusError{Code: 400, Body: `{"detail":"Empty audio"}`}
	}
	tr, err := b.speech.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.cfg.STTModel,
		Reader:   bytes.NewReader(upload.Clip.Data),
		FilePath: upload.Clip.Filename(),
	})
	if err != nil {
		return SendVoiceResponse{}, fmt.Errorf("transcribe: %w", err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return SendVoiceResponse{}, &StatusError{Code: 400, Body: `{"detail":"Could not transcribe audio"}`}
	}

	model := modelOrDefault(upload.ModelID)
	reply, err := b.complete(ctx, chatID, text, model)
	if err != nil {
		return SendVoiceResponse{}, err
	}
	if err := b.appendExchange(ctx, chatID, text, reply, model); err != nil {
		return SendVoiceResponse{}, err
	}
	audioB64, err := b.synthesize(ctx, reply)
	if err != nil {
		if ctx.Err() != nil {
			return SendVoiceResponse{}, ctx.Err()
		}
		b.logger.Warn().Err(err).Str("chat_id", chatID).Msg("speech synthesis failed")
	}
	return SendVoiceResponse{Content: reply, AudioBase64: audioB64}, nil
}

func (b *DirectBackend) complete(ctx context.Context, chatID, userText, model string) (string, error) {
	if _, err := b.store.GetChat(ctx, chatID); err != nil {
		return "", notFound(err)
	}
	past, err := b.store.Turns(ctx, chatID, directHistoryTurns)
	if err != nil {
		return "", err
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(past)+2)
	if b.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: b.cfg.SystemPrompt})
	}
	for _, t := range past {
		role := t.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userText})

	resp, err := b.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (b *DirectBackend) synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	res, err := b.speech.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(b.cfg.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(b.cfg.TTSVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", fmt.Errorf("create speech: %w", err)
	}
	defer res.Close()
	raw, err := io.ReadAll(res)
	if err != nil {
		return "", fmt.Errorf("read speech: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
