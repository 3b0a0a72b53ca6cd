package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client. It also
// keeps a rolling latency window for the perf endpoint.
type Metrics struct {
	ActiveClients   prometheus.Gauge
	Sends           *prometheus.CounterVec
	SendLatency     *prometheus.HistogramVec
	PlaybackEvents  *prometheus.CounterVec
	ReconcileEvents *prometheus.CounterVec
	CacheRefreshes  *prometheus.CounterVec
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	window   *latencyWindow
	gatherer prometheus.Gatherer
}

// NewMetrics registers on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	gatherer, _ := reg.(prometheus.Gatherer)
	return &Metrics{
		gatherer: gatherer,
		ActiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Number of connected UI shell websocket clients.",
		}),
		Sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Settled sends by kind (text, voice) and outcome.",
		}, []string{"kind", "outcome"}),
		SendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_latency_ms",
			Help:      "Time from send issue to settlement in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"kind"}),
		PlaybackEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Reply audio playback events.",
		}, []string{"event"}),
		ReconcileEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_events_total",
			Help:      "Reply audio reconciliation events.",
		}, []string{"event"}),
		CacheRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Read-side cache refreshes by scope kind and result.",
		}, []string{"scope", "result"}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Auth session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) SendSettled(kind, outcome string, elapsed time.Duration) {
	m.Sends.WithLabelValues(kind, outcome).Inc()
	if outcome != "ok" {
		if outcome != "empty" {
			m.window.ObserveIndicator(kind + "_" + outcome)
		}
		return
	}
	ms := float64(elapsed.Microseconds()) / 1000
	m.SendLatency.WithLabelValues(kind).Observe(ms)
	m.window.Observe(kind+"_send", ms)
}

func (m *Metrics) PlaybackEvent(event string) {
	m.PlaybackEvents.WithLabelValues(event).Inc()
	if event == "error" {
		m.window.ObserveIndicator("playback_error")
	}
}

func (m *Metrics) ReconcileEvent(event string) {
	m.ReconcileEvents.WithLabelValues(event).Inc()
	if event == "retry_bound" {
		m.window.ObserveIndicator("audio_retry_bound")
	}
}

// ObserveCacheRefresh matches the cache refresh observer signature.
func (m *Metrics) ObserveCacheRefresh(scope, result string) {
	m.CacheRefreshes.WithLabelValues(scope, result).Inc()
}

// ObserveStage records an externally measured stage, e.g. from the probe.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.window.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.window.Snapshot()
}

func (m *Metrics) ResetLatency() {
	m.window.Reset()
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil || m.gatherer == prometheus.DefaultGatherer {
		return MetricsHandler()
	}
	return MetricsHandlerFor(m.gatherer)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsHandlerFor serves a non-default registry.
func MetricsHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
