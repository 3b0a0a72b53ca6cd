package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) normalized() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// Duration is the play time of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

type wavHeader struct {
	Riff          [4]byte
	ChunkSize     uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAV wraps PCM16LE samples in a canonical 44-byte-header WAV container.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, pcm, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV streams the WAV container for pcm to out.
func WriteWAV(out io.Writer, pcm []byte, format Format) error {
	format = format.normalized()
	const bitsPerSample = 16
	blockAlign := format.Channels * bitsPerSample / 8
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// DecodeWAV extracts PCM16LE samples and their format from a RIFF/WAVE container.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		bits        uint16
		format      Format
		pcm         []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, Format{}, errors.New("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, Format{}, errors.New("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			format.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcm = append(pcm[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	switch {
	case !haveFmt:
		return nil, Format{}, errors.New("wav fmt chunk missing")
	case audioFormat != 1:
		return nil, Format{}, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	case bits != 16:
		return nil, Format{}, fmt.Errorf("unsupported wav bits_per_sample %d", bits)
	case format.Channels == 0:
		return nil, Format{}, errors.New("invalid wav channels=0")
	}
	format = format.normalized()
	frame := format.Channels * 2
	pcm = pcm[:len(pcm)-len(pcm)%frame]
	return pcm, format, nil
}
