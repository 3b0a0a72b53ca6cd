package audio

import (
	"strconv"
	"strings"
)

// Raw PCM mime produced by local capture devices, e.g. "audio/L16;rate=16000".
const MimeRawPCM = "audio/L16"

// Clip is a finished recording ready for upload.
type Clip struct {
	Data     []byte
	MimeType string
}

// Empty reports whether the clip carries no audio.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Filename is the multipart file name the backend uses to sniff the container.
func (c Clip) Filename() string {
	switch normalizeMime(c.MimeType) {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "audio.wav"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	default:
		return "audio.webm"
	}
}

// Assemble concatenates recorded chunks into one clip. Raw PCM is wrapped as
// WAV so the backend receives a self-describing container.
func Assemble(chunks [][]byte, mimeType string) (Clip, error) {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	if size == 0 {
		return Clip{MimeType: mimeType}, nil
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}
	if normalizeMime(mimeType) != strings.ToLower(MimeRawPCM) {
		return Clip{Data: data, MimeType: mimeType}, nil
	}
	wav, err := EncodeWAV(data, Format{SampleRate: mimeRate(mimeType), Channels: 1})
	if err != nil {
		return Clip{}, err
	}
	return Clip{Data: wav, MimeType: "audio/wav"}, nil
}

// RawPCMMime describes mono PCM16 at rate.
func RawPCMMime(rate int) string {
	return MimeRawPCM + ";rate=" + strconv.Itoa(rate)
}

func mimeRate(mimeType string) int {
	_, params, _ := strings.Cut(mimeType, ";")
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 16000
}

// RecordingMimes lists encoded capture containers, best first.
var RecordingMimes = []string{"audio/webm;codecs=opus", "audio/webm"}

// PreferredRecordingMime returns the first entry of RecordingMimes that
// supported accepts, or "" to leave the choice to the recorder.
func PreferredRecordingMime(supported func(string) bool) string {
	if supported == nil {
		return ""
	}
	for _, m := range RecordingMimes {
		if supported(m) {
			return m
		}
	}
	return ""
}
