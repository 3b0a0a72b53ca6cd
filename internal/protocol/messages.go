// Package protocol defines the websocket messages exchanged with the UI shell.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeStateSnapshot MessageType = "state_snapshot"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Control actions accepted from the UI shell.
const (
	ActionSetDraft       = "set_draft"
	ActionSubmit         = "submit"
	ActionStopSend       = "stop_send"
	ActionEdit           = "edit"
	ActionListen         = "listen"
	ActionTogglePlayback = "toggle_playback"
	ActionReplyVoice     = "reply_voice"
	ActionSelectChat     = "select_chat"
	ActionCreateChat     = "create_chat"
	ActionSetModel       = "set_model"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Action    string      `json:"action"`
	Text      string      `json:"text,omitempty"`
	ChatID    string      `json:"chat_id,omitempty"`
	TurnID    string      `json:"turn_id,omitempty"`
	ModelID   string      `json:"model_id,omitempty"`
	Enabled   *bool       `json:"enabled,omitempty"`
}

// StateSnapshot carries the full controller state after every change.
type StateSnapshot struct {
	Type  MessageType `json:"type"`
	Seq   uint64      `json:"seq"`
	State any         `json:"state"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.TrimSpace(msg.Action)
		if err := validateControl(msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validateControl(msg ClientControl) error {
	switch msg.Action {
	case ActionSetDraft, ActionSubmit, ActionStopSend, ActionEdit, ActionCreateChat:
		return nil
	case ActionListen, ActionReplyVoice:
		if msg.Enabled == nil {
			return fmt.Errorf("invalid client_control: %s needs enabled", msg.Action)
		}
	case ActionTogglePlayback:
		if msg.TurnID == "" {
			return errors.New("invalid client_control: toggle_playback needs turn_id")
		}
	case ActionSelectChat:
		if msg.ChatID == "" {
			return errors.New("invalid client_control: select_chat needs chat_id")
		}
	case ActionSetModel:
		if msg.ModelID == "" {
			return errors.New("invalid client_control: set_model needs model_id")
		}
	case "":
		return errors.New("invalid client_control: missing action")
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
	}
	return nil
}

// Encode marshals any outbound message.
func Encode(msg any) ([]byte, error) {
	return sonic.Marshal(msg)
}
