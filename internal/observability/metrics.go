package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the engine.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	WSWriteErrors      *prometheus.CounterVec
	OutboundQueue      *prometheus.CounterVec
	CollaboratorErrors *prometheus.CounterVec
	ProbeLatency       *prometheus.HistogramVec
	AnalysisStage      *prometheus.HistogramVec
	HintLatency        prometheus.Histogram

	stageWindow *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live training sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by cause.",
		}, []string{"cause"}),
		OutboundQueue: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queue_total",
			Help:      "Outbound message queue outcomes by type.",
		}, []string{"type", "outcome"}),
		CollaboratorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "External collaborator errors by collaborator and code.",
		}, []string{"collaborator", "code"}),
		ProbeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_ms",
			Help:      "Connectivity probe round-trip latency by candidate in milliseconds.",
			Buckets:   []float64{25, 50, 100, 200, 400, 800, 1600, 3200, 5000},
		}, []string{"candidate"}),
		AnalysisStage: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_stage_seconds",
			Help:      "Post-session analysis stage duration by stage in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"stage"}),
		HintLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coaching_hint_latency_ms",
			Help:      "Latency of coaching hint generation in milliseconds.",
			Buckets:   []float64{200, 400, 700, 1000, 1500, 2500, 4000, 8000},
		}),
		stageWindow: newStageWindow(256),
	}
}

func (m *Metrics) ObserveProbeLatency(candidate string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProbeLatency.WithLabelValues(candidate).Observe(float64(d.Milliseconds()))
	m.ObserveStage("probe_"+candidate, d)
}

func (m *Metrics) ObserveAnalysisStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisStage.WithLabelValues(stage).Observe(d.Seconds())
	m.ObserveStage("analysis_"+stage, d)
}

func (m *Metrics) ObserveHintLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.HintLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage("coach_hint", d)
}

func (m *Metrics) ObserveOutboundMessage(msgType, outcome string) {
	if m == nil {
		return
	}
	m.OutboundQueue.WithLabelValues(msgType, outcome).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveCollaboratorError(collaborator, code string) {
	if m == nil {
		return
	}
	m.CollaboratorErrors.WithLabelValues(collaborator, code).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError(cause string) {
	if m == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(cause).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// ObserveStage records a duration sample into the sliding perf window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stageWindow == nil {
		return
	}
	m.stageWindow.Observe(stage, float64(d.Milliseconds()))
}

// ObserveIndicator counts a named occurrence in the perf window.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil || m.stageWindow == nil {
		return
	}
	m.stageWindow.ObserveIndicator(name)
}

// SnapshotStages returns the perf endpoint payload.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stageWindow == nil {
		return StageSnapshot{}
	}
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
