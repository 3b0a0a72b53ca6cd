package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

var errHandleClosed = errors.New("playback handle closed")

type loadedClip struct {
	mime     string
	pcm      []byte
	format   audio.Format
	duration time.Duration
}

func loadClip(uri string) (loadedClip, error) {
	mime, data, err := audio.ParseDataURI(uri)
	if err != nil {
		return loadedClip{}, fmt.Errorf("%w: %v", reliability.ErrInvalid, err)
	}
	pcm, format, err := audio.DecodePCM(mime, data)
	if err != nil {
		if errors.Is(err, audio.ErrUnsupportedContainer) {
			// Opaque container: estimate length at 128kbps.
			return loadedClip{mime: mime, duration: time.Duration(len(data)) * 8 * time.Second / 128000}, nil
		}
		return loadedClip{}, fmt.Errorf("%w: %v", reliability.ErrPlayback, err)
	}
	return loadedClip{mime: mime, pcm: pcm, format: format, duration: format.Duration(len(pcm))}, nil
}

// SilentPlayer validates and decodes clips and paces them on a timer without
// producing sound. It backs headless runs and AUDIO_DEVICE=none.
type SilentPlayer struct {
	// MinDuration lets very short clips stay "audible" long enough to observe.
	MinDuration time.Duration
}

func (p SilentPlayer) Load(uri string) (PlaybackHandle, error) {
	clip, err := loadClip(uri)
	if err != nil {
		return nil, err
	}
	d := clip.duration
	if d < p.MinDuration {
		d = p.MinDuration
	}
	return &timerHandle{remaining: d}, nil
}

type timerHandle struct {
	mu        sync.Mutex
	remaining time.Duration
	started   time.Time
	timer     *time.Timer
	closed    bool
}

func (h *timerHandle) Play(onEnd func(error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHandleClosed
	}
	if h.timer != nil {
		return nil
	}
	h.started = time.Now()
	var timer *time.Timer
	timer = time.AfterFunc(h.remaining, func() {
		h.mu.Lock()
		current := h.timer == timer && !h.closed
		h.timer = nil
		h.remaining = 0
		h.mu.Unlock()
		if current && onEnd != nil {
			onEnd(nil)
		}
	})
	h.timer = timer
	return nil
}

func (h *timerHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	return nil
}

func (h *timerHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	h.closed = true
	return nil
}

func (h *timerHandle) stopLocked() {
	if h.timer == nil {
		return
	}
	h.timer.Stop()
	h.timer = nil
	if elapsed := time.Since(h.started); elapsed < h.remaining {
		h.remaining -= elapsed
	} else {
		h.remaining = 0
	}
}
