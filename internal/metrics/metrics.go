package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groupchat_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "groupchat_sessions_active",
			Help: "Number of active sessions",
		},
	)

	SessionsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groupchat_sessions_ended_total",
			Help: "Total number of sessions explicitly ended",
		},
	)

	// Streaming metrics
	ChunksStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_chunks_streamed_total",
			Help: "Total outbound stream chunks by provider",
		},
		[]string{"provider"},
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groupchat_stream_duration_seconds",
			Help:    "Per-participant stream duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	ProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_provider_failures_total",
			Help: "Total mid-stream provider failures",
		},
		[]string{"provider", "reason"},
	)

	// Memory / synapse metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_messages_appended_total",
			Help: "Total messages appended to group memory",
		},
		[]string{"type"},
	)

	SynapsesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_synapses_detected_total",
			Help: "Total synapse connections by kind",
		},
		[]string{"kind"},
	)

	SummariesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_summaries_created_total",
			Help: "Total context summaries by outcome (llm, fallback, cached)",
		},
		[]string{"outcome"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_embedding_requests_total",
			Help: "Embedding lookups by result (lru_hit, cache_hit, ok, error)",
		},
		[]string{"result"},
	)

	// Store metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupchat_store_operations_total",
			Help: "Persistent store operations by op and status",
		},
		[]string{"op", "status"},
	)

	StoreFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groupchat_store_fallbacks_total",
			Help: "Operations degraded to the in-process fallback store",
		},
	)
)
