package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the chat client.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	BackendMode      string
	ChatAPIURL       string
	AuthToken        string
	TokenFile        string
	DefaultModelID   string
	ReplyWithVoice   bool
	AudioMimeType    string
	SessionCheckTick time.Duration

	DirectBaseURL string
	DirectAPIKey  string

	SpeechAPIKey   string
	SpeechBaseURL  string
	SpeechTTSModel string
	SpeechTTSVoice string
	SpeechSTTModel string

	AudioDevice      string
	AudioInputFile   string
	AudioSampleRate  int
	RecordTimeslice  time.Duration
	PlaybackErrorTTL time.Duration
	ReconcileRetry   bool

	DatabaseURL string
}

// Load reads environment variables (after an optional .env file) and applies safe defaults.
func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", "127.0.0.1:8787"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "agiens_chat"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "console"),
		BackendMode:      envOrDefault("CHAT_BACKEND_MODE", "http"),
		// Empty means same origin in the browser build; the headless client needs a host.
		ChatAPIURL:     envOrDefault("CHAT_API_URL", "http://localhost:3001"),
		AuthToken:      stringsTrimSpace("CHAT_AUTH_TOKEN"),
		TokenFile:      stringsTrimSpace("CHAT_TOKEN_FILE"),
		DefaultModelID: envOrDefault("CHAT_DEFAULT_MODEL", "openrouter/auto"),
		AudioMimeType:  envOrDefault("CHAT_AUDIO_MIME", "audio/mpeg"),
		DirectBaseURL:  envOrDefault("DIRECT_BASE_URL", "https://openrouter.ai/api/v1"),
		DirectAPIKey:   stringsTrimSpace("DIRECT_API_KEY"),
		SpeechAPIKey:   stringsTrimSpace("SPEECH_API_KEY"),
		SpeechBaseURL:  stringsTrimSpace("SPEECH_BASE_URL"),
		SpeechTTSModel: envOrDefault("SPEECH_TTS_MODEL", "tts-1"),
		SpeechTTSVoice: envOrDefault("SPEECH_TTS_VOICE", "alloy"),
		SpeechSTTModel: envOrDefault("SPEECH_STT_MODEL", "whisper-1"),
		AudioDevice:    envOrDefault("AUDIO_DEVICE", "none"),
		AudioInputFile: stringsTrimSpace("AUDIO_INPUT_FILE"),
		DatabaseURL:    stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:  10 * time.Second,
		SessionCheckTick: 30 * time.Second,
		AudioSampleRate:  16000,
		RecordTimeslice:  100 * time.Millisecond,
		PlaybackErrorTTL: 5 * time.Second,
		ReconcileRetry:   true,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplyWithVoice, err = boolFromEnv("CHAT_REPLY_WITH_VOICE", cfg.ReplyWithVoice)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionCheckTick, err = durationFromEnv("SESSION_CHECK_INTERVAL", cfg.SessionCheckTick)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioSampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.AudioSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordTimeslice, err = durationFromEnv("RECORD_TIMESLICE", cfg.RecordTimeslice)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackErrorTTL, err = durationFromEnv("PLAYBACK_ERROR_TTL", cfg.PlaybackErrorTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconcileRetry, err = boolFromEnv("RECONCILE_RETRY", cfg.ReconcileRetry)
	if err != nil {
		return Config{}, err
	}

	cfg.BackendMode = strings.ToLower(strings.TrimSpace(cfg.BackendMode))
	switch cfg.BackendMode {
	case "http", "direct", "mock":
	default:
		return Config{}, fmt.Errorf("CHAT_BACKEND_MODE must be one of http|direct|mock, got %q", cfg.BackendMode)
	}
	cfg.AudioDevice = strings.ToLower(strings.TrimSpace(cfg.AudioDevice))
	switch cfg.AudioDevice {
	case "none", "portaudio":
	case "file":
		if cfg.AudioInputFile == "" {
			return Config{}, fmt.Errorf("AUDIO_INPUT_FILE is required when AUDIO_DEVICE=file")
		}
	default:
		return Config{}, fmt.Errorf("AUDIO_DEVICE must be one of none|portaudio|file, got %q", cfg.AudioDevice)
	}
	if cfg.BackendMode == "direct" && cfg.DirectAPIKey == "" {
		return Config{}, fmt.Errorf("DIRECT_API_KEY is required when CHAT_BACKEND_MODE=direct")
	}
	if cfg.AudioSampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.RecordTimeslice < 10*time.Millisecond {
		return Config{}, fmt.Errorf("RECORD_TIMESLICE must be at least 10ms")
	}
	if cfg.PlaybackErrorTTL <= 0 {
		return Config{}, fmt.Errorf("PLAYBACK_ERROR_TTL must be positive")
	}
	if strings.TrimSpace(cfg.DefaultModelID) == "" {
		return Config{}, fmt.Errorf("CHAT_DEFAULT_MODEL must not be blank")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
