package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the recent samples of one latency stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// Indicator counts a discrete event such as a cancelled send.
type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// latencyWindow keeps the last size samples per stage.
type latencyWindow struct {
	mu         sync.Mutex
	size       int
	samples    map[string][]float64
	indicators map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:       size,
		samples:    make(map[string][]float64),
		indicators: make(map[string]int),
	}
}

func (w *latencyWindow) Observe(stage string, ms float64) {
	stage = strings.TrimSpace(stage)
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := append(w.samples[stage], ms)
	if len(buf) > w.size {
		buf = slices.Clone(buf[len(buf)-w.size:])
	}
	w.samples[stage] = buf
}

func (w *latencyWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) Reset() {
	w.mu.Lock()
	w.samples = make(map[string][]float64)
	w.indicators = make(map[string]int)
	w.mu.Unlock()
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.samples)),
	}
	for _, stage := range sortedKeys(w.samples) {
		buf := w.samples[stage]
		sorted := slices.Clone(buf)
		slices.Sort(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     len(sorted),
			LastMS:      round2(buf[len(buf)-1]),
			AvgMS:       round2(sum / float64(len(sorted))),
			P50MS:       round2(percentile(sorted, 0.50)),
			P95MS:       round2(percentile(sorted, 0.95)),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}
	for _, name := range sortedKeys(w.indicators) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Targets are the p95 budgets of the interactive paths.
func stageTargetP95MS(stage string) float64 {
	switch stage {
	case "text_send":
		return 4000
	case "voice_send":
		return 6000
	case "first_chat_load":
		return 800
	case "reply_audio_bound":
		return 1500
	default:
		return 0
	}
}
