package httpapi

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	BackendMode string            `json:"backend_mode"`
	AudioDevice string            `json:"audio_device"`
	Session     session.Status    `json:"session"`
	Checks      []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]onboardingCheck, 0, 6)
	checks = append(checks, s.backendChecks()...)

	status := session.StatusAnonymous
	if s.sessions != nil {
		status = s.sessions.Snapshot().Status
	}
	switch {
	case s.cfg.BackendMode != "http":
		checks = append(checks, onboardingCheck{
			ID: "session", Status: "ok", Label: "Sign-in",
			Detail: "not required for " + s.cfg.BackendMode + " backend",
		})
	case status == session.StatusActive:
		checks = append(checks, onboardingCheck{ID: "session", Status: "ok", Label: "Sign-in", Detail: "active"})
	default:
		checks = append(checks, onboardingCheck{
			ID: "session", Status: "warn", Label: "Sign-in",
			Detail: "anonymous; voice replies are unavailable",
			Fix:    "POST a token to /v1/session or set CHAT_AUTH_TOKEN.",
		})
	}

	checks = append(checks, s.audioChecks()...)

	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		checks = append(checks, onboardingCheck{
			ID: "history_store", Status: "warn", Label: "Transcript store",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep transcripts across restarts.",
		})
	} else {
		checks = append(checks, onboardingCheck{ID: "history_store", Status: "ok", Label: "Transcript store", Detail: "postgres"})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		BackendMode: s.cfg.BackendMode,
		AudioDevice: s.cfg.AudioDevice,
		Session:     status,
		Checks:      checks,
	})
}

func (s *Server) backendChecks() []onboardingCheck {
	switch s.cfg.BackendMode {
	case "mock":
		return []onboardingCheck{{
			ID: "backend", Status: "warn", Label: "Chat backend (mock)",
			Detail: "Replies are placeholders.",
			Fix:    "Set CHAT_BACKEND_MODE=http and CHAT_API_URL.",
		}}
	case "direct":
		out := []onboardingCheck{{ID: "backend", Status: "ok", Label: "Chat backend (direct)", Detail: s.cfg.DirectBaseURL}}
		if strings.TrimSpace(s.cfg.SpeechAPIKey) == "" && !strings.Contains(s.cfg.DirectBaseURL, "openai.com") {
			out = append(out, onboardingCheck{
				ID: "speech", Status: "warn", Label: "Speech (TTS/STT)",
				Detail: "using the chat endpoint for speech",
				Fix:    "Set SPEECH_API_KEY if the chat endpoint has no audio API.",
			})
		}
		return out
	default:
		if reachable(s.cfg.ChatAPIURL) {
			return []onboardingCheck{{ID: "backend", Status: "ok", Label: "Chat backend", Detail: s.cfg.ChatAPIURL}}
		}
		return []onboardingCheck{{
			ID: "backend", Status: "error", Label: "Chat backend",
			Detail: s.cfg.ChatAPIURL + " is not reachable",
			Fix:    "Start the chat backend or fix CHAT_API_URL.",
		}}
	}
}

func (s *Server) audioChecks() []onboardingCheck {
	switch s.cfg.AudioDevice {
	case "portaudio":
		return []onboardingCheck{{ID: "audio_device", Status: "ok", Label: "Audio device", Detail: "portaudio"}}
	case "file":
		if _, err := os.Stat(s.cfg.AudioInputFile); err != nil {
			return []onboardingCheck{{
				ID: "audio_device", Status: "error", Label: "Audio input file",
				Detail: "file missing",
				Fix:    "Point AUDIO_INPUT_FILE at a PCM16 WAV file.",
			}}
		}
		return []onboardingCheck{{ID: "audio_device", Status: "ok", Label: "Audio input file", Detail: s.cfg.AudioInputFile}}
	default:
		return []onboardingCheck{{
			ID: "audio_device", Status: "warn", Label: "Audio device",
			Detail: "none; voice capture is disabled and playback is silent",
			Fix:    "Build with -tags portaudio and set AUDIO_DEVICE=portaudio.",
		}}
	}
}

func reachable(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 800*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
