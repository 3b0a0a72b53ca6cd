package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/app"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/config"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/logging"
	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/observability"
)

type options struct {
	backend        string
	turns          int
	texts          []string
	voiceFile      string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	jsonOut        bool
	verbose        bool
}

var defaultUtterances = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatprobe: %v\n", err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatprobe: config: %v\n", err)
		os.Exit(2)
	}
	logger := zerolog.Nop()
	if opts.verbose {
		logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	if err := run(ctx, cfg, opts, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chatprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	var textsRaw string
	var interTurnMS, turnTimeoutMS int

	fs := flag.NewFlagSet("chatprobe", flag.ContinueOnError)
	fs.StringVar(&opts.backend, "backend", "", "override CHAT_BACKEND_MODE (http|direct|mock)")
	fs.IntVar(&opts.turns, "turns", 4, "number of text turns to send")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.StringVar(&opts.voiceFile, "voice-file", "", "WAV file sent as one extra voice turn (optional)")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout per turn in milliseconds")
	fs.BoolVar(&opts.jsonOut, "json", false, "print the latency snapshot as JSON")
	fs.BoolVar(&opts.verbose, "verbose", false, "log client activity")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.backend = strings.ToLower(strings.TrimSpace(opts.backend))
	switch opts.backend {
	case "", "http", "direct", "mock":
	default:
		return options{}, fmt.Errorf("backend must be one of http|direct|mock, got %q", opts.backend)
	}
	if opts.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	opts.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	opts.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		opts.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				opts.texts = append(opts.texts, t)
			}
		}
		if len(opts.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return opts, nil
}

func run(ctx context.Context, cfg config.Config, opts options, logger zerolog.Logger, out io.Writer) error {
	if opts.backend != "" {
		cfg.BackendMode = opts.backend
	}
	var clipDuration time.Duration
	if opts.voiceFile != "" {
		d, err := wavDuration(opts.voiceFile)
		if err != nil {
			return fmt.Errorf("voice file: %w", err)
		}
		clipDuration = d
		cfg.AudioDevice = "file"
		cfg.AudioInputFile = opts.voiceFile
	}

	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "chatprobe")
	loadStart := time.Now()
	built, err := app.BuildWithMetrics(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = built.Cleanup() }()

	if err := built.Controller.Open(ctx); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	metrics.ObserveStage("first_chat_load", time.Since(loadStart))
	fmt.Fprintf(out, "chatprobe: backend=%s chat=%s turns=%d\n", cfg.BackendMode, built.Controller.ChatID(), opts.turns)

	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		turnCtx, cancel := context.WithTimeout(ctx, opts.turnTimeout)
		started := time.Now()
		res, err := built.Controller.Submit(turnCtx, text)
		cancel()
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		fmt.Fprintf(out, "turn %d: %s -> %q\n", i+1, time.Since(started).Round(time.Millisecond), truncate(res.Content, 60))
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	if opts.voiceFile != "" {
		if err := voiceTurn(ctx, built, clipDuration, opts.turnTimeout, out); err != nil {
			return err
		}
	}

	snap := metrics.SnapshotLatency()
	if opts.jsonOut {
		raw, err := sonic.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(raw))
		return err
	}
	for _, s := range snap.Stages {
		fmt.Fprintf(out, "%-18s n=%-3d p50=%.1fms p95=%.1fms target=%.0fms\n", s.Stage, s.Samples, s.P50MS, s.P95MS, s.TargetP95MS)
	}
	for _, ind := range snap.Indicators {
		fmt.Fprintf(out, "indicator %s=%d\n", ind.Name, ind.Count)
	}
	return nil
}

func voiceTurn(ctx context.Context, built *app.BuildResult, clip, timeout time.Duration, out io.Writer) error {
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := built.Controller.StartListening(turnCtx); err != nil {
		return fmt.Errorf("voice turn: %w", err)
	}
	// The file microphone replays in real time; let it drain before stopping.
	select {
	case <-time.After(clip + built.Config.RecordTimeslice):
	case <-turnCtx.Done():
		return turnCtx.Err()
	}
	started := time.Now()
	res, err := built.Controller.StopListening(turnCtx)
	if err != nil {
		return fmt.Errorf("voice turn: %w", err)
	}
	if !res.Sent {
		return fmt.Errorf("voice turn: nothing was recorded")
	}
	fmt.Fprintf(out, "voice: %s -> %q\n", time.Since(started).Round(time.Millisecond), truncate(res.Content, 60))
	return nil
}

func wavDuration(path string) (time.Duration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pcm, format, err := audio.DecodeWAV(raw)
	if err != nil {
		return 0, err
	}
	return format.Duration(len(pcm)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
