// Package device abstracts the microphone and speaker used by the
// conversation controller.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

// ErrUnavailable is returned when no capture device is configured.
var ErrUnavailable = fmt.Errorf("%w: no input device", reliability.ErrDevice)

// ErrStreamClosed is returned by operations on a released stream.
var ErrStreamClosed = errors.New("capture stream closed")

// Microphone grants exclusive capture streams.
type Microphone interface {
	// Acquire blocks until the device is granted or refused.
	Acquire(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an acquired input device. Close releases the device
// tracks and must be safe to call more than once.
type CaptureStream interface {
	MimeType() string
	// Start begins delivering encoded chunks to sink roughly every timeslice.
	Start(timeslice time.Duration, sink func([]byte)) error
	// Stop flushes the final chunk and returns after sink will no longer be called.
	Stop() error
	Close() error
}

// MimeSelector is implemented by streams that encode in one of several
// containers. UseMimeType must be called before Start.
type MimeSelector interface {
	IsTypeSupported(mimeType string) bool
	UseMimeType(mimeType string)
}

// Player loads data URIs into playable handles.
type Player interface {
	Load(uri string) (PlaybackHandle, error)
}

// PlaybackHandle is a single loaded clip.
type PlaybackHandle interface {
	// Play starts playback; onEnd fires once with nil at natural end or with
	// the playback error. It does not fire after Pause or Close.
	Play(onEnd func(error)) error
	Pause() error
	Close() error
}

// NullMicrophone refuses every acquisition.
type NullMicrophone struct{}

func (NullMicrophone) Acquire(context.Context) (CaptureStream, error) {
	return nil, ErrUnavailable
}
