package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue sums the family's counters whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("text_send", 500)
	w.Observe("text_send", 700)
	w.Observe("text_send", 900)
	w.ObserveIndicator("text_cancelled")
	w.ObserveIndicator("text_cancelled")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "text_send" || s.Samples != 3 {
		t.Fatalf("stage = %+v", s)
	}
	if s.LastMS != 900 || s.P50MS != 700 || s.AvgMS != 700 {
		t.Fatalf("stats = %+v", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestLatencyWindowKeepsMostRecent(t *testing.T) {
	w := newLatencyWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe("voice_send", v)
	}
	w.Observe("voice_send", -1)
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 25 || s.LastMS != 30 {
		t.Fatalf("stats = %+v", s)
	}
	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("stages after reset = %d", got)
	}
}

func TestMetricsObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")
	m.SendSettled("text", "ok", 120*time.Millisecond)
	m.SendSettled("text", "cancelled", 0)
	m.SendSettled("voice", "empty", 0)
	m.PlaybackEvent("started")
	m.ReconcileEvent("retry_bound")
	m.ObserveCacheRefresh("chat", "mirror")

	if got := counterValue(t, reg, "test_sends_total", map[string]string{"kind": "text", "outcome": "ok"}); got != 1 {
		t.Fatalf("text ok sends = %v", got)
	}
	if got := counterValue(t, reg, "test_sends_total", map[string]string{"kind": "voice", "outcome": "empty"}); got != 1 {
		t.Fatalf("voice empty sends = %v", got)
	}
	if got := counterValue(t, reg, "test_cache_refreshes_total", map[string]string{"scope": "chat", "result": "mirror"}); got != 1 {
		t.Fatalf("mirror refreshes = %v", got)
	}

	snap := m.SnapshotLatency()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "text_send" || snap.Stages[0].LastMS != 120 {
		t.Fatalf("stages = %+v", snap.Stages)
	}
	names := map[string]int{}
	for _, ind := range snap.Indicators {
		names[ind.Name] = ind.Count
	}
	if names["text_cancelled"] != 1 || names["audio_retry_bound"] != 1 {
		t.Fatalf("indicators = %+v", snap.Indicators)
	}
}
