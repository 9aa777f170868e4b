package monitoring

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	messagesTotal      *prometheus.CounterVec
	charactersTotal    *prometheus.CounterVec
	completionsTotal   *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	decodeFailures     *prometheus.CounterVec
	blockSegments      *prometheus.CounterVec
	wsClients          prometheus.Gauge
)

func initRegistry() {
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salesdesk",
			Name:      "messages_total",
			Help:      "Count of finalized messages per conversation and role.",
		},
		[]string{"conversation_id", "role"},
	)

	charactersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salesdesk",
			Name:      "characters_total",
			Help:      "Total Unicode characters contained in finalized messages.",
		},
		[]string{"conversation_id", "role"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salesdesk",
			Name:      "completions_total",
			Help:      "Completion-service calls per thread kind and outcome.",
		},
		[]string{"thread", "outcome"},
	)

	completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "salesdesk",
			Name:      "completion_duration_seconds",
			Help:      "Wall-clock duration of completion-service calls.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"thread"},
	)

	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salesdesk",
			Name:      "decode_failures_total",
			Help:      "Typed blocks whose payload failed to decode, by block kind.",
		},
		[]string{"kind"},
	)

	blockSegments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salesdesk",
			Name:      "block_segments_total",
			Help:      "Typed block segments rendered, by block kind.",
		},
		[]string{"kind"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "salesdesk",
			Name:      "ws_clients",
			Help:      "Active WebSocket dashboard connections.",
		},
	)

	prometheus.MustRegister(
		messagesTotal,
		charactersTotal,
		completionsTotal,
		completionDuration,
		decodeFailures,
		blockSegments,
		wsClients,
	)
}

func ensureInit() {
	initOnce.Do(initRegistry)
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	ensureInit()
	return promhttp.Handler()
}

// RecordMessage counts a finalized message.
func RecordMessage(conversationID, role, content string) {
	ensureInit()
	labels := prometheus.Labels{
		"conversation_id": sanitize(conversationID, "unknown"),
		"role":            sanitize(role, "unknown"),
	}
	messagesTotal.With(labels).Inc()
	charactersTotal.With(labels).Add(float64(utf8.RuneCountInString(content)))
}

// ObserveCompletion records one completion-service call.
func ObserveCompletion(thread, outcome string, duration time.Duration) {
	ensureInit()
	completionsTotal.WithLabelValues(sanitize(thread, "unknown"), sanitize(outcome, "unknown")).Inc()
	completionDuration.WithLabelValues(sanitize(thread, "unknown")).Observe(duration.Seconds())
}

// RecordBlockSegment counts a typed block handed to a view.
func RecordBlockSegment(kind string) {
	ensureInit()
	blockSegments.WithLabelValues(sanitize(kind, "unknown")).Inc()
}

// RecordDecodeFailure counts a block payload that failed to decode.
func RecordDecodeFailure(kind string) {
	ensureInit()
	decodeFailures.WithLabelValues(sanitize(kind, "unknown")).Inc()
}

// WSClientConnected increments the WebSocket client gauge.
func WSClientConnected() {
	ensureInit()
	wsClients.Inc()
}

// WSClientDisconnected decrements the WebSocket client gauge.
func WSClientDisconnected() {
	ensureInit()
	wsClients.Dec()
}

func sanitize(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
