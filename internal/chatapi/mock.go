package chatapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
)

// MockBackend provides deterministic local replies when no backend is reachable.
type MockBackend struct {
	storeChats
	// Latency delays every send so cancellation can be exercised.
	Latency time.Duration
}

func NewMockBackend(store history.Store) *MockBackend {
	if store == nil {
		store = history.NewInMemoryStore()
	}
	return &MockBackend{storeChats: storeChats{store: store}}
}

func (b *MockBackend) SendText(ctx context.Context, chatID string, req SendTextRequest) (SendTextResponse, error) {
	if err := b.wait(ctx); err != nil {
		return SendTextResponse{}, err
	}
	reply := buildMockReply(req.Message)
	if err := b.appendExchange(ctx, chatID, req.Message, reply, modelOrDefault(req.ModelID)); err != nil {
		return SendTextResponse{}, err
	}
	resp := SendTextResponse{Content: reply}
	if req.WithVoice {
		resp.AudioBase64 = mockSpeech(reply)
	}
	return resp, nil
}

func (b *MockBackend) SendVoice(ctx context.Context, chatID string, upload VoiceUpload) (SendVoiceResponse, error) {
	if err := b.wait(ctx); err != nil {
		return SendVoiceResponse{}, err
	}
	if upload.Clip.Empty() {
		return SendVoiceResponse{}, &StatusError{Code: 400, Body: `{"detail":"Empty audio"}`}
	}
	transcript := fmt.Sprintf("[voice message, %d bytes]", len(upload.Clip.Data))
	reply := buildMockReply(transcript)
	if err := b.appendExchange(ctx, chatID, transcript, reply, modelOrDefault(upload.ModelID)); err != nil {
		return SendVoiceResponse{}, err
	}
	return SendVoiceResponse{Content: reply, AudioBase64: mockSpeech(reply)}, nil
}

func (b *MockBackend) wait(ctx context.Context) error {
	if b.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func buildMockReply(input string) string {
	base := strings.TrimSpace(input)
	if base == "" {
		base = "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", base)
}

// mockSpeech returns a WAV of silence whose length tracks the reply length.
func mockSpeech(reply string) string {
	const rate = 8000
	ms := 40 * len([]rune(reply))
	if ms > 3000 {
		ms = 3000
	}
	wav, err := audio.EncodeWAV(make([]byte, rate*2*ms/1000), audio.Format{SampleRate: rate, Channels: 1})
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(wav)
}

func modelOrDefault(id string) string {
	if strings.TrimSpace(id) == "" {
		return DefaultModelID
	}
	return id
}
