package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

type loginRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		respondJSON(w, http.StatusOK, session.Snapshot{Status: session.StatusAnonymous})
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "sessions not configured")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Token) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if _, err := s.sessions.Start(req.Token); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrExpired) {
			status = http.StatusUnauthorized
		}
		respondError(w, status, "invalid_token", err.Error())
		return
	}
	s.sessionEvent("login")

	// Reload chats and the account under the new identity.
	if err := s.controller.Open(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("reload after login failed")
	}
	respondJSON(w, http.StatusCreated, s.sessions.Snapshot())
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, err := s.sessions.Logout(); err != nil && !errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "logout_failed", err.Error())
		return
	}
	s.sessionEvent("logout")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}
