package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/device"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/policy"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

// PlaybackController owns the single live playback handle.
type PlaybackController struct {
	player   device.Player
	errs     *transientError
	observer Observer
	logger   zerolog.Logger
	onChange func()

	mu      sync.Mutex
	playing string
	handle  device.PlaybackHandle
	gen     uint64
}

func NewPlaybackController(player device.Player, errs *transientError, observer Observer, logger zerolog.Logger, onChange func()) *PlaybackController {
	if onChange == nil {
		onChange = func() {}
	}
	return &PlaybackController{
		player:   player,
		errs:     errs,
		observer: observerOrNop(observer),
		logger:   logger,
		onChange: onChange,
	}
}

// Toggle pauses turnID when it is the audible turn; otherwise it tears down
// the current handle and starts uri for turnID.
func (p *PlaybackController) Toggle(turnID, uri string) error {
	p.errs.Clear()

	p.mu.Lock()
	if p.playing == turnID && p.handle != nil {
		h := p.detachLocked()
		p.mu.Unlock()
		release(h, true)
		p.observer.PlaybackEvent("paused")
		p.onChange()
		return nil
	}
	prev := p.detachLocked()
	gen := p.gen
	p.mu.Unlock()
	if prev != nil {
		release(prev, true)
		p.onChange()
	}

	if uri == "" || !strings.Contains(uri, ",") {
		return p.fail(msgNoAudio, ErrNoAudio)
	}
	h, err := p.player.Load(uri)
	if err != nil {
		p.logger.Debug().Err(err).Str("turn_id", turnID).Str("uri", policy.ElideAudio(uri)).Msg("clip rejected")
		if errors.Is(err, reliability.ErrInvalid) {
			return p.fail(msgNoAudio, fmt.Errorf("%w: %v", ErrNoAudio, err))
		}
		return p.fail(msgLoadFailed, fmt.Errorf("%w: load: %v", reliability.ErrPlayback, err))
	}

	p.mu.Lock()
	if p.gen != gen {
		// Another toggle won the race.
		p.mu.Unlock()
		release(h, false)
		return nil
	}
	p.handle = h
	p.playing = turnID
	p.mu.Unlock()
	p.onChange()

	if err := h.Play(func(err error) { p.ended(gen, err) }); err != nil {
		p.mu.Lock()
		if p.gen == gen {
			p.detachLocked()
		}
		p.mu.Unlock()
		release(h, false)
		return p.fail(msgPlaybackBlocked, fmt.Errorf("%w: play: %v", reliability.ErrPlayback, err))
	}
	p.observer.PlaybackEvent("started")
	return nil
}

// Stop tears down any live handle. Voice replies call it before offering
// their audio so a new reply supersedes mid-playback audio.
func (p *PlaybackController) Stop() {
	p.mu.Lock()
	h := p.detachLocked()
	p.mu.Unlock()
	if h == nil {
		return
	}
	release(h, true)
	p.observer.PlaybackEvent("stopped")
	p.onChange()
}

// Playing returns the audible turn id, or "".
func (p *PlaybackController) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *PlaybackController) ended(gen uint64, err error) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	h := p.detachLocked()
	p.mu.Unlock()
	release(h, false)

	if err != nil {
		p.logger.Warn().Err(err).Msg("playback failed")
		p.errs.Set(msgLoadFailed)
		p.observer.PlaybackEvent("error")
	} else {
		p.observer.PlaybackEvent("ended")
	}
	p.onChange()
}

func (p *PlaybackController) fail(msg string, err error) error {
	p.errs.Set(msg)
	p.observer.PlaybackEvent("error")
	p.onChange()
	return err
}

// detachLocked drops the handle and invalidates its callbacks.
func (p *PlaybackController) detachLocked() device.PlaybackHandle {
	h := p.handle
	p.handle = nil
	p.playing = ""
	p.gen++
	return h
}

func release(h device.PlaybackHandle, pause bool) {
	if h == nil {
		return
	}
	if pause {
		_ = h.Pause()
	}
	_ = h.Close()
}
