//go:build !portaudio

package device

import (
	"fmt"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
)

// PortAudio is unavailable in builds without the portaudio tag.
type PortAudio struct{}

func OpenPortAudio(int) (*PortAudio, error) {
	return nil, fmt.Errorf("%w: built without portaudio support (rebuild with -tags portaudio)", reliability.ErrDevice)
}

func (p *PortAudio) Close() error { return nil }

func (p *PortAudio) Microphone() Microphone { return NullMicrophone{} }

func (p *PortAudio) Player() Player { return SilentPlayer{} }
