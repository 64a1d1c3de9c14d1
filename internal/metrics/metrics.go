// ABOUTME: Prometheus metrics for the gateway's streaming and sync paths.
// ABOUTME: All collectors are registered on a caller-supplied registry.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the gateway records into.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	ChunksPublished   prometheus.Counter
	Exchanges         *prometheus.CounterVec
	ExchangeDuration  prometheus.Histogram
	GateInFlight      prometheus.Gauge
	SyncItemsFetched  prometheus.Counter
	SyncItemsUploaded prometheus.Counter
	SyncItemsFailed   prometheus.Counter
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		ChunksPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_stream_chunks_published_total",
			Help: "Partial answer chunks published to stream rooms.",
		}),
		Exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_answer_exchanges_total",
			Help: "Completed answer exchanges, by outcome.",
		}, []string{"outcome"}),
		ExchangeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_answer_exchange_duration_seconds",
			Help:    "Wall time of a full answer exchange.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		GateInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_sync_in_flight",
			Help: "Detail fetches currently holding a sync permit.",
		}),
		SyncItemsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sync_items_fetched_total",
			Help: "Scheme details fetched during hierarchy runs.",
		}),
		SyncItemsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sync_items_uploaded_total",
			Help: "Scheme details uploaded to the datastore.",
		}),
		SyncItemsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sync_items_failed_total",
			Help: "Scheme detail uploads that failed and were skipped.",
		}),
	}
}
