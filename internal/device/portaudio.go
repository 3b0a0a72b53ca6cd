//go:build portaudio

package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

const framesPerBuffer = 1024

// PortAudio owns the PortAudio runtime for the process.
type PortAudio struct {
	sampleRate int
}

// OpenPortAudio initializes PortAudio. Callers must Close it on shutdown.
func OpenPortAudio(sampleRate int) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", reliability.ErrDevice, err)
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &PortAudio{sampleRate: sampleRate}, nil
}

func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

func (p *PortAudio) Microphone() Microphone { return paMicrophone{rate: p.sampleRate} }

func (p *PortAudio) Player() Player { return paPlayer{} }

type paMicrophone struct {
	rate int
}

func (m paMicrophone) Acquire(ctx context.Context) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.rate), len(buf), &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input: %v", reliability.ErrDevice, err)
	}
	return &paCapture{stream: stream, buf: buf, rate: m.rate}, nil
}

type paCapture struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func (c *paCapture) MimeType() string { return audio.RawPCMMime(c.rate) }

func (c *paCapture) Start(timeslice time.Duration, sink func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrStreamClosed
	}
	if c.stop != nil {
		return fmt.Errorf("capture already started")
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("%w: start input: %v", reliability.ErrDevice, err)
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.read(timeslice, sink, c.stop, c.done)
	return nil
}

func (c *paCapture) read(timeslice time.Duration, sink func([]byte), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	flushAt := int(int64(c.rate) * 2 * int64(timeslice) / int64(time.Second))
	pending := make([]byte, 0, flushAt+len(c.buf)*2)
	flush := func() {
		if len(pending) > 0 && sink != nil {
			sink(append([]byte(nil), pending...))
		}
		pending = pending[:0]
	}
	for {
		select {
		case <-stop:
			flush()
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			flush()
			return
		}
		for _, s := range c.buf {
			pending = binary.LittleEndian.AppendUint16(pending, uint16(s))
		}
		if len(pending) >= flushAt {
			flush()
		}
	}
}

func (c *paCapture) Stop() error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return c.stream.Stop()
}

func (c *paCapture) Close() error {
	_ = c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stream.Close()
}

type paPlayer struct{}

func (paPlayer) Load(uri string) (PlaybackHandle, error) {
	clip, err := loadClip(uri)
	if err != nil {
		return nil, err
	}
	if clip.pcm == nil {
		return nil, fmt.Errorf("%w: cannot decode %s", reliability.ErrPlayback, clip.mime)
	}
	buf := make([]int16, framesPerBuffer*clip.format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, clip.format.Channels, float64(clip.format.SampleRate), framesPerBuffer, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open output: %v", reliability.ErrPlayback, err)
	}
	return &paHandle{stream: stream, buf: buf, pcm: clip.pcm}, nil
}

type paHandle struct {
	stream *portaudio.Stream
	buf    []int16
	pcm    []byte

	mu     sync.Mutex
	offset int
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func (h *paHandle) Play(onEnd func(error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHandleClosed
	}
	if h.stop != nil {
		return nil
	}
	if err := h.stream.Start(); err != nil {
		return fmt.Errorf("%w: start output: %v", reliability.ErrPlayback, err)
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.write(onEnd, h.stop, h.done)
	return nil
}

func (h *paHandle) write(onEnd func(error), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		h.mu.Lock()
		if h.offset >= len(h.pcm) {
			h.mu.Unlock()
			if onEnd != nil {
				onEnd(nil)
			}
			return
		}
		n := 0
		for n < len(h.buf) && h.offset+1 < len(h.pcm) {
			h.buf[n] = int16(binary.LittleEndian.Uint16(h.pcm[h.offset:]))
			h.offset += 2
			n++
		}
		for ; n < len(h.buf); n++ {
			h.buf[n] = 0
		}
		h.mu.Unlock()
		if err := h.stream.Write(); err != nil {
			select {
			case <-stop:
			default:
				if onEnd != nil {
					onEnd(fmt.Errorf("%w: %v", reliability.ErrPlayback, err))
				}
			}
			return
		}
	}
}

func (h *paHandle) Pause() error {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop = nil
	h.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return h.stream.Stop()
}

func (h *paHandle) Close() error {
	_ = h.Pause()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.stream.Close()
}
