// Package conversation is the interaction controller of the chat client:
// text submission with cancellation and optimistic echo, voice capture,
// reply-audio reconciliation and playback.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// OptimisticID is reserved for the locally echoed, unconfirmed user turn.
const OptimisticID = "optimistic"

// Turn is one conversation turn as the client sees it.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	ModelID   string    `json:"model_id,omitempty"`
}

var (
	ErrEmptyMessage   = fmt.Errorf("%w: message is empty", reliability.ErrInvalid)
	ErrNoConversation = fmt.Errorf("%w: no conversation selected", reliability.ErrInvalid)
	ErrVoiceBusy      = fmt.Errorf("%w: voice capture already active", reliability.ErrInvalid)
	ErrNoAudio        = fmt.Errorf("%w: no audio to play", reliability.ErrPlayback)
)

// User-visible transient messages.
const (
	msgNoAudio         = "No audio to play"
	msgLoadFailed      = "Failed to load audio"
	msgPlaybackBlocked = "Playback blocked by the audio device (allow sound for this app)"
	msgMicUnavailable  = "Microphone access denied or unavailable"
)

// TextSender issues text sends. Cancelling ctx must abort the request.
type TextSender interface {
	SendText(ctx context.Context, chatID string, req chatapi.SendTextRequest) (chatapi.SendTextResponse, error)
}

// VoiceSender uploads finished clips.
type VoiceSender interface {
	SendVoice(ctx context.Context, chatID string, upload chatapi.VoiceUpload) (chatapi.SendVoiceResponse, error)
}

// Invalidator refreshes read-side cache scopes after a settlement.
type Invalidator interface {
	Invalidate(ctx context.Context, scopes ...string) error
}

// Observer receives interaction telemetry. Implementations must not block.
type Observer interface {
	// SendSettled reports a text or voice send; outcome is ok, cancelled, error or empty.
	SendSettled(kind, outcome string, elapsed time.Duration)
	PlaybackEvent(event string)
	ReconcileEvent(event string)
}

type nopObserver struct{}

func (nopObserver) SendSettled(string, string, time.Duration) {}
func (nopObserver) PlaybackEvent(string)                      {}
func (nopObserver) ReconcileEvent(string)                     {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

func outcomeOf(err error) string {
	switch reliability.Classify(err) {
	case reliability.KindNone:
		return "ok"
	case reliability.KindCancelled:
		return "cancelled"
	default:
		return "error"
	}
}
