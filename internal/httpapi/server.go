package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/config"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/conversation"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/observability"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/reliability"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

// Controller is the conversation surface driven by the UI shell.
type Controller interface {
	State() conversation.State
	Subscribe(fn func(conversation.State)) func()
	Open(ctx context.Context) error
	SetDraft(text string)
	Submit(ctx context.Context, text string) (conversation.SendResult, error)
	SubmitAsync(text string)
	StopSending() bool
	EditAndResend() (string, bool)
	SetListening(on bool) error
	SetReplyWithVoice(on bool) error
	TogglePlayback(turnID string) error
	SelectChat(ctx context.Context, chatID string) error
	CreateChat(ctx context.Context) (chatapi.ChatSummary, error)
	SetModel(ctx context.Context, modelID string) error
}

type Server struct {
	cfg        config.Config
	controller Controller
	sessions   *session.Manager
	metrics    *observability.Metrics
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	ready      func() bool
}

func New(cfg config.Config, controller Controller, sessions *session.Manager, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		controller: controller,
		sessions:   sessions,
		metrics:    metrics,
		logger:     logger,
		ready:      func() bool { return controller.State().ChatID != "" },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			observability.MetricsHandler().ServeHTTP(w, r)
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/ui/settings", s.handleUISettings)

	r.Get("/v1/state", s.handleState)
	r.Put("/v1/draft", s.handleDraft)
	r.Post("/v1/send", s.handleSend)
	r.Post("/v1/send/stop", s.handleSendStop)
	r.Post("/v1/send/edit", s.handleSendEdit)
	r.Post("/v1/listen", s.handleListen)
	r.Post("/v1/reply-voice", s.handleReplyVoice)
	r.Post("/v1/playback/{turnID}", s.handlePlayback)

	r.Get("/v1/chats", s.handleListChats)
	r.Post("/v1/chats", s.handleCreateChat)
	r.Post("/v1/chats/{id}/select", s.handleSelectChat)
	r.Get("/v1/models", s.handleListModels)
	r.Post("/v1/model", s.handleSetModel)

	r.Get("/v1/session", s.handleGetSession)
	r.Post("/v1/session", s.handleLogin)
	r.Delete("/v1/session", s.handleLogout)

	r.Get("/v1/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"backend_mode": s.cfg.BackendMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "no conversation loaded")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"backend_mode": s.cfg.BackendMode,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return errEmptyBody
	}
	return sonic.Unmarshal(raw, out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondControllerError maps the controller error taxonomy onto HTTP.
func respondControllerError(w http.ResponseWriter, err error) {
	kind := reliability.Classify(err)
	status := http.StatusBadGateway
	switch kind {
	case reliability.KindInvalid:
		status = http.StatusBadRequest
	case reliability.KindCancelled:
		status = http.StatusConflict
	case reliability.KindDevice:
		status = http.StatusServiceUnavailable
	case reliability.KindPlayback:
		status = http.StatusUnprocessableEntity
	}
	var se *chatapi.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		status = http.StatusNotFound
	}
	respondError(w, status, string(kind), err.Error())
}
