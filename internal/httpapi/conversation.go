package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
)

type draftRequest struct {
	Text string `json:"text"`
}

type sendRequest struct {
	Text string `json:"text"`
	// Async returns 202 immediately; the outcome arrives with state pushes.
	Async bool `json:"async"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type modelRequest struct {
	ModelID string `json:"model_id"`
}

type editResponse struct {
	Text     string `json:"text"`
	Restored bool   `json:"restored"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.controller.SetDraft(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Async {
		s.controller.SubmitAsync(req.Text)
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
		return
	}
	res, err := s.controller.Submit(r.Context(), req.Text)
	if err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSendStop(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"stopped": s.controller.StopSending()})
}

func (s *Server) handleSendEdit(w http.ResponseWriter, _ *http.Request) {
	text, ok := s.controller.EditAndResend()
	respondJSON(w, http.StatusOK, editResponse{Text: text, Restored: ok})
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	on, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	if err := s.controller.SetListening(on); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.controller.State())
}

func (s *Server) handleReplyVoice(w http.ResponseWriter, r *http.Request) {
	on, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	if err := s.controller.SetReplyWithVoice(on); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	turnID := strings.TrimSpace(chi.URLParam(r, "turnID"))
	if err := s.controller.TogglePlayback(turnID); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"playing_turn_id": s.controller.State().PlayingTurnID})
}

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request) {
	st := s.controller.State()
	chats := st.Chats
	if chats == nil {
		chats = []chatapi.ChatSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"selected": st.ChatID, "chats": chats})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.controller.CreateChat(r.Context())
	if err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_chat_id", "missing chat id")
		return
	}
	if err := s.controller.SelectChat(r.Context(), id); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"default": s.cfg.DefaultModelID,
		"models":  chatapi.Models,
	})
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "model_id is required")
		return
	}
	if err := s.controller.SetModel(r.Context(), req.ModelID); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"model_id": req.ModelID})
}

func decodeToggle(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil || req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "enabled is required")
		return false, false
	}
	return *req.Enabled, true
}
