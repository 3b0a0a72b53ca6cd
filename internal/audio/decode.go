package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/zaf/g711"
)

// ErrUnsupportedContainer is returned when no decoder exists for a mime type.
var ErrUnsupportedContainer = errors.New("unsupported audio container")

// DecodePCM turns a reply payload into PCM16LE samples for a playback device.
func DecodePCM(mimeType string, data []byte) ([]byte, Format, error) {
	// Container sniffing wins over a mislabelled mime type.
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return DecodeWAV(data)
	}
	switch normalizeMime(mimeType) {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return DecodeWAV(data)
	case "audio/mpeg", "audio/mp3":
		return decodeMP3(data)
	case "audio/basic", "audio/pcmu":
		// G.711 mu-law, 8kHz mono.
		return g711.DecodeUlaw(data), Format{SampleRate: 8000, Channels: 1}, nil
	case "audio/pcma":
		return g711.DecodeAlaw(data), Format{SampleRate: 8000, Channels: 1}, nil
	default:
		return nil, Format{}, fmt.Errorf("%w: %s", ErrUnsupportedContainer, mimeType)
	}
}

func decodeMP3(data []byte) ([]byte, Format, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, Format{}, fmt.Errorf("mp3 decode: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, Format{}, fmt.Errorf("mp3 decode: %w", err)
	}
	// go-mp3 always yields 16-bit stereo.
	return pcm, Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// Downmix averages interleaved channels into mono PCM16LE.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[base+ch*2:])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/channels)))
	}
	return mono
}

func normalizeMime(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
