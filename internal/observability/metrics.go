package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConnections   prometheus.Gauge
	RequestsTotal       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	RetrievalSoftFails  prometheus.Counter
	StreamedFragments   prometheus.Counter
	ContextBuildLatency prometheus.Histogram
	DocumentsUpserted   prometheus.Counter
	ChunksIndexed       prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of active chat WebSocket connections.",
		}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and kind.",
		}, []string{"direction", "kind"}),
		PersistenceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Durable store failures by operation.",
		}, []string{"op"}),
		RetrievalSoftFails: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_soft_failures_total",
			Help:      "Semantic retrieval failures degraded to empty results.",
		}),
		StreamedFragments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streamed_fragments_total",
			Help:      "Model output fragments forwarded to clients.",
		}),
		ContextBuildLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_build_latency_ms",
			Help:      "Latency of the concurrent context assembly in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3200},
		}),
		DocumentsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_upserted_total",
			Help:      "Documents accepted for semantic indexing.",
		}),
		ChunksIndexed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks sent to the vector index.",
		}),
	}
}

func (m *Metrics) ObserveContextBuildLatency(d time.Duration) {
	m.ContextBuildLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
