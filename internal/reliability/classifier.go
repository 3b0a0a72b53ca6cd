package reliability

import (
	"context"
	"errors"
)

// Kind is the user-facing error category of a failed interaction.
type Kind string

const (
	KindNone      Kind = ""
	KindCancelled Kind = "cancelled"
	KindTransport Kind = "transport"
	KindDevice    Kind = "device"
	KindPlayback  Kind = "playback"
	KindInvalid   Kind = "invalid"
)

var (
	// ErrCancelled marks a superseded, stopped or withdrawn operation. It is never shown to the user.
	ErrCancelled = errors.New("operation cancelled")
	// ErrDevice marks microphone acquisition or capture failures.
	ErrDevice = errors.New("audio device failure")
	// ErrPlayback marks malformed audio, load errors and blocked playback.
	ErrPlayback = errors.New("playback failure")
	// ErrInvalid marks rejected input such as a blank message.
	ErrInvalid = errors.New("invalid input")
)

// Classify maps err onto the error taxonomy. Unknown errors are transport failures.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrDevice):
		return KindDevice
	case errors.Is(err, ErrPlayback):
		return KindPlayback
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	default:
		return KindTransport
	}
}

// IsCancellation reports whether err is the silent, normal-control-flow kind.
func IsCancellation(err error) bool {
	return Classify(err) == KindCancelled
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
