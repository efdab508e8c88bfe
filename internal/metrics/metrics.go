// ABOUTME: Prometheus instrumentation for the Talkwire relay
// ABOUTME: Session, audio chunk, and control signal counters
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	ChunksDownstream prometheus.Counter // upstream AI -> client
	ChunksUpstream   prometheus.Counter // client microphone -> upstream AI
	BytesDownstream  prometheus.Counter
	BytesUpstream    prometheus.Counter

	// Control signal metrics
	TurnsCompleted prometheus.Counter
	Interruptions  prometheus.Counter

	// Transport errors
	UpstreamErrors prometheus.Counter
	ClientErrors   prometheus.Counter
}

// New creates and registers all relay metrics.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "talkwire_active_sessions",
			Help: "Current number of active voice sessions",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_sessions_started_total",
			Help: "Total number of voice sessions started",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "talkwire_sessions_ended_total",
			Help: "Total number of voice sessions ended",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "talkwire_session_duration_seconds",
			Help:    "Duration of voice sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		ChunksDownstream: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_chunks_downstream_total",
			Help: "Total audio chunks relayed from the AI endpoint to clients",
		}),
		ChunksUpstream: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_chunks_upstream_total",
			Help: "Total audio chunks relayed from clients to the AI endpoint",
		}),
		BytesDownstream: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_bytes_downstream_total",
			Help: "Total audio bytes relayed from the AI endpoint to clients",
		}),
		BytesUpstream: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_bytes_upstream_total",
			Help: "Total audio bytes relayed from clients to the AI endpoint",
		}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_turns_completed_total",
			Help: "Total turn-complete signals relayed",
		}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_interruptions_total",
			Help: "Total barge-in interruption signals relayed",
		}),
		UpstreamErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_upstream_errors_total",
			Help: "Total transport errors on upstream AI connections",
		}),
		ClientErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "talkwire_client_errors_total",
			Help: "Total transport errors on client connections",
		}),
	}
}

// RecordSessionStarted tracks a new session.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded tracks a finished session with its end reason.
func (m *Metrics) RecordSessionEnded(reason string, durationSeconds float64) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordDownstreamChunk tracks one AI-to-client audio chunk.
func (m *Metrics) RecordDownstreamChunk(bytes int) {
	m.ChunksDownstream.Inc()
	m.BytesDownstream.Add(float64(bytes))
}

// RecordUpstreamChunk tracks one client-to-AI audio chunk.
func (m *Metrics) RecordUpstreamChunk(bytes int) {
	m.ChunksUpstream.Inc()
	m.BytesUpstream.Add(float64(bytes))
}
