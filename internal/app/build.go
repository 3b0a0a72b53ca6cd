package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/cache"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/chatapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/config"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/conversation"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/history"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/httpapi"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/logging"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/observability"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/session"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *conversation.Controller
	Sessions   *session.Manager
	Cache      *cache.Cache
	Metrics    *observability.Metrics
	Audio      AudioInfo

	// Cleanup should be called on shutdown to release external resources (DB, audio devices).
	Cleanup func() error
}

// Build wires the chat client. ctx bounds startup I/O and the session janitor.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	return BuildWithMetrics(ctx, cfg, logger, observability.NewMetrics(cfg.MetricsNamespace))
}

// BuildWithMetrics is Build with caller-owned metrics, for processes that
// build more than once.
func BuildWithMetrics(ctx context.Context, cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*BuildResult, error) {
	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	sessions := session.NewManager(cfg.TokenFile)
	if err := startSession(sessions, cfg.AuthToken); err != nil {
		logger.Warn().Err(err).Msg("no usable session token, continuing anonymously")
	}

	backend, err := chatapi.NewBackend(chatapi.Options{
		Mode:    cfg.BackendMode,
		BaseURL: cfg.ChatAPIURL,
		Tokens:  sessions,
		Direct: chatapi.DirectConfig{
			BaseURL:       cfg.DirectBaseURL,
			APIKey:        cfg.DirectAPIKey,
			SpeechBaseURL: cfg.SpeechBaseURL,
			SpeechAPIKey:  cfg.SpeechAPIKey,
			TTSModel:      cfg.SpeechTTSModel,
			TTSVoice:      cfg.SpeechTTSVoice,
			STTModel:      cfg.SpeechSTTModel,
		},
		Store:  store,
		Logger: logging.Component(logger, "chatapi"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("chat backend init failed: %w", err)
	}

	cacheOpts := cache.Options{
		ForMe:   true,
		Observe: metrics.ObserveCacheRefresh,
		Logger:  logging.Component(logger, "cache"),
	}
	// Direct and mock backends already read from the store; only a remote
	// backend needs a local mirror to answer from while offline.
	if cfg.BackendMode == "http" {
		cacheOpts.Mirror = store
	}
	chats := cache.New(backend, cacheOpts)

	devices, err := openAudio(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	controller := conversation.NewController(conversation.Config{
		DefaultModelID:   cfg.DefaultModelID,
		ReplyWithVoice:   cfg.ReplyWithVoice,
		AudioMime:        cfg.AudioMimeType,
		RecordTimeslice:  cfg.RecordTimeslice,
		PlaybackErrorTTL: cfg.PlaybackErrorTTL,
		ReconcileRetry:   cfg.ReconcileRetry,
	}, conversation.Deps{
		Backend:  backend,
		Cache:    chats,
		Accounts: sessions,
		Mic:      devices.mic,
		Player:   devices.player,
		Observer: metrics,
		Logger:   logging.Component(logger, "conversation"),
	})

	sessions.SetEndHook(func(s *session.Session, reason session.EndReason) {
		metrics.SessionEvents.WithLabelValues(string(reason)).Inc()
		// Everything cached belongs to the identity that just ended.
		chats.Clear()
		controller.ClearAccount()
		logger.Info().Str("session_id", s.ID).Str("reason", string(reason)).Msg("session ended")
	})
	sessions.StartJanitor(ctx, cfg.SessionCheckTick)

	api := httpapi.New(cfg, controller, sessions, metrics, logging.Component(logger, "httpapi"))

	cleanup := func() error {
		var errs []string
		controller.Close()
		if devices.cleanup != nil {
			if err := devices.cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: controller,
		Sessions:   sessions,
		Cache:      chats,
		Metrics:    metrics,
		Audio:      devices.info,
		Cleanup:    cleanup,
	}, nil
}

// startSession prefers an explicit token over the persisted one.
func startSession(sessions *session.Manager, token string) error {
	if strings.TrimSpace(token) != "" {
		_, err := sessions.Start(token)
		return err
	}
	_, err := sessions.Restore()
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	return err
}
