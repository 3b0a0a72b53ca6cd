package device

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

// FileMicrophone replays a WAV file as if it were captured live. Each
// acquisition starts from the beginning of the file.
type FileMicrophone struct {
	Path string
	// Realtime paces chunks at the timeslice; otherwise the file is
	// delivered as fast as the sink accepts it.
	Realtime bool
}

func (m FileMicrophone) Acquire(ctx context.Context) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", reliability.ErrDevice, m.Path, err)
	}
	pcm, format, err := audio.DecodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", reliability.ErrDevice, m.Path, err)
	}
	return &fileStream{
		pcm:      audio.Downmix(pcm, format.Channels),
		rate:     format.SampleRate,
		realtime: m.Realtime,
	}, nil
}

type fileStream struct {
	pcm      []byte
	rate     int
	realtime bool

	mu      sync.Mutex
	offset  int
	stop    chan struct{}
	done    chan struct{}
	sink    func([]byte)
	chunk   int
	closed  bool
	started bool
}

func (s *fileStream) MimeType() string { return audio.RawPCMMime(s.rate) }

func (s *fileStream) Start(timeslice time.Duration, sink func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.started {
		return fmt.Errorf("capture already started")
	}
	if timeslice <= 0 {
		timeslice = 100 * time.Millisecond
	}
	s.chunk = int(int64(s.rate) * 2 * int64(timeslice) / int64(time.Second))
	if s.chunk < 2 {
		s.chunk = 2
	}
	s.chunk -= s.chunk % 2
	s.sink = sink
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.pump(timeslice, s.stop, s.done)
	return nil
}

func (s *fileStream) pump(timeslice time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	var tick <-chan time.Time
	if s.realtime {
		ticker := time.NewTicker(timeslice)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}
		if !s.emitNext() {
			// File exhausted; idle until stopped like a silent microphone.
			<-stop
			return
		}
	}
}

func (s *fileStream) emitNext() bool {
	s.mu.Lock()
	if s.offset >= len(s.pcm) {
		s.mu.Unlock()
		return false
	}
	end := s.offset + s.chunk
	if end > len(s.pcm) {
		end = len(s.pcm)
	}
	chunk := append([]byte(nil), s.pcm[s.offset:end]...)
	s.offset = end
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(chunk)
	}
	return true
}

func (s *fileStream) Stop() error {
	s.mu.Lock()
	if !s.started || s.stop == nil {
		s.mu.Unlock()
		return nil
	}
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (s *fileStream) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	s.closed = true
	s.sink = nil
	s.mu.Unlock()
	return nil
}
