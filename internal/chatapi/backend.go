package chatapi

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
)

// Options selects and configures a Backend.
type Options struct {
	Mode    string
	BaseURL string
	Tokens  TokenSource
	Direct  DirectConfig
	Store   history.Store
	Logger  zerolog.Logger
}

// NewBackend builds the backend for opts.Mode (http, direct or mock).
func NewBackend(opts Options) (Backend, error) {
	switch opts.Mode {
	case "", "http":
		return NewClient(opts.BaseURL, opts.Tokens, opts.Logger), nil
	case "direct":
		return NewDirectBackend(opts.Direct, opts.Store, opts.Logger)
	case "mock":
		return NewMockBackend(opts.Store), nil
	default:
		return nil, fmt.Errorf("unsupported chat backend mode %q", opts.Mode)
	}
}
