package app

import (
	"fmt"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/config"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/device"
)

// AudioInfo describes the resolved capture and playback devices.
type AudioInfo struct {
	Device string
	Detail string
}

type audioSetup struct {
	mic     device.Microphone
	player  device.Player
	info    AudioInfo
	cleanup func() error
}

func openAudio(cfg config.Config) (audioSetup, error) {
	switch cfg.AudioDevice {
	case "", "none":
		return audioSetup{
			mic:    device.NullMicrophone{},
			player: device.SilentPlayer{},
			info:   AudioInfo{Device: "none", Detail: "no microphone; playback is silent"},
		}, nil
	case "file":
		return audioSetup{
			mic:    device.FileMicrophone{Path: cfg.AudioInputFile, Realtime: true},
			player: device.SilentPlayer{},
			info:   AudioInfo{Device: "file", Detail: "replaying " + cfg.AudioInputFile},
		}, nil
	case "portaudio":
		pa, err := device.OpenPortAudio(cfg.AudioSampleRate)
		if err != nil {
			return audioSetup{}, fmt.Errorf("audio device init failed: %w", err)
		}
		return audioSetup{
			mic:     pa.Microphone(),
			player:  pa.Player(),
			info:    AudioInfo{Device: "portaudio", Detail: fmt.Sprintf("portaudio %d Hz", cfg.AudioSampleRate)},
			cleanup: pa.Close,
		}, nil
	default:
		return audioSetup{}, fmt.Errorf("invalid AUDIO_DEVICE: %q (expected none|file|portaudio)", cfg.AudioDevice)
	}
}
