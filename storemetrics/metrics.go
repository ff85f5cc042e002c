// Package storemetrics exposes Prometheus instrumentation for graph
// mutations, stream transitions, and the adaptive-polling telemetry
// hook (§4.F). Grounded on mercator-hq-jupiter's pkg/telemetry/metrics
// (a registry-scoped struct of *prometheus.CounterVec/GaugeVec built
// with explicit CounterOpts/GaugeOpts, one constructor per concern).
package storemetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"convostore/streammanager"
)

// Metrics tracks store-wide counters and gauges.
//
//   - convostore_chat_mutations_total: chat create/update/delete calls by op
//   - convostore_message_upserts_total: addMessage calls
//   - convostore_stream_transitions_total: stream status transitions by status
//   - convostore_active_streams: current non-terminal stream count
//   - convostore_watch_poll_total: watch poll iterations by kind (empty/chunks)
//   - convostore_watch_poll_delay_ms: observed poll delay, by kind
type Metrics struct {
	chatMutations     *prometheus.CounterVec
	messageUpserts    prometheus.Counter
	streamTransitions *prometheus.CounterVec
	activeStreams     prometheus.Gauge
	watchPollTotal    *prometheus.CounterVec
	watchPollDelayMs  *prometheus.HistogramVec
}

// New creates and registers store metrics against registry. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer-backed registry in production.
func New(namespace string, registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		chatMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_mutations_total",
				Help:      "Total chat mutation calls by operation",
			},
			[]string{"op"},
		),
		messageUpserts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_upserts_total",
				Help:      "Total addMessage calls",
			},
		),
		streamTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_transitions_total",
				Help:      "Total stream status transitions by resulting status",
			},
			[]string{"status"},
		),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_streams",
				Help:      "Current count of streams in a non-terminal status",
			},
		),
		watchPollTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_poll_total",
				Help:      "Total watch poll iterations by kind",
			},
			[]string{"kind"},
		),
		watchPollDelayMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "watch_poll_delay_ms",
				Help:      "Observed adaptive-poll delay in milliseconds, by kind",
				Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2000, 4000},
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.chatMutations,
		m.messageUpserts,
		m.streamTransitions,
		m.activeStreams,
		m.watchPollTotal,
		m.watchPollDelayMs,
	)
	return m
}

// ObserveChatMutation records a createChat/updateChat/deleteChat call.
func (m *Metrics) ObserveChatMutation(op string) {
	m.chatMutations.WithLabelValues(op).Inc()
}

// ObserveMessageUpsert records an addMessage call.
func (m *Metrics) ObserveMessageUpsert() {
	m.messageUpserts.Inc()
}

// ObserveStreamTransition records a stream entering status.
func (m *Metrics) ObserveStreamTransition(status string) {
	m.streamTransitions.WithLabelValues(status).Inc()
}

// SetActiveStreams sets the current non-terminal stream gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

var _ streammanager.TelemetrySink = (*Metrics)(nil)

// Observe implements streammanager.TelemetrySink, recording §4.F's
// watch:empty/watch:chunks events.
func (m *Metrics) Observe(ev streammanager.TelemetryEvent) {
	m.watchPollTotal.WithLabelValues(ev.Type).Inc()
	if ev.DelayMs > 0 {
		m.watchPollDelayMs.WithLabelValues(ev.Type).Observe(float64(ev.DelayMs))
	}
}
