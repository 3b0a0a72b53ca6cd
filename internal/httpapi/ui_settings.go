package httpapi

import "net/http"

type uiSettingsResponse struct {
	BackendMode       string `json:"backend_mode"`
	AudioDevice       string `json:"audio_device"`
	AudioMime         string `json:"audio_mime"`
	DefaultModelID    string `json:"default_model_id"`
	ReplyWithVoice    bool   `json:"reply_with_voice_default"`
	RecordTimesliceMS int64  `json:"record_timeslice_ms"`
	PlaybackErrorMS   int64  `json:"playback_error_ttl_ms"`
}

func (s *Server) handleUISettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, uiSettingsResponse{
		BackendMode:       s.cfg.BackendMode,
		AudioDevice:       s.cfg.AudioDevice,
		AudioMime:         s.cfg.AudioMimeType,
		DefaultModelID:    s.cfg.DefaultModelID,
		ReplyWithVoice:    s.cfg.ReplyWithVoice,
		RecordTimesliceMS: s.cfg.RecordTimeslice.Milliseconds(),
		PlaybackErrorMS:   s.cfg.PlaybackErrorTTL.Milliseconds(),
	})
}
