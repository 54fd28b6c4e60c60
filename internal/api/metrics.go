package api

import "github.com/prometheus/client_golang/prometheus"

// metrics groups the server's instrumentation. Each server owns its own
// registry so tests can spin up servers side by side.
type metrics struct {
	requests  *prometheus.CounterVec
	duration  prometheus.Histogram
	cacheHits prometheus.Counter
	items     prometheus.Histogram
	attempts  prometheus.Histogram
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cspay_split_requests_total",
			Help: "Split requests by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cspay_split_duration_seconds",
			Help:    "Wall time of one split request",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cspay_split_cache_hits_total",
			Help: "Splits served from a pre-computed candidate",
		}),
		items: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cspay_split_items",
			Help:    "Records per committed split",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cspay_split_attempts",
			Help:    "Engine searches per committed split; zero means a cache hit",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.cacheHits, m.items, m.attempts)
	return m
}

const (
	outcomeOK         = "ok"
	outcomeOutOfRange = "out_of_range"
	outcomeNotFound   = "not_found"
	outcomeConflict   = "conflict"
	outcomeInternal   = "internal"
)
