package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hypergopher/astroglossary"
)

// Metrics holds the Prometheus collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	posts    *prometheus.GaugeVec
}

// NewMetrics registers the server collectors on registry. A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astroglossary",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "astroglossary",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		posts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "astroglossary",
			Name:      "posts",
			Help:      "Stored posts by type.",
		}, []string{"type"}),
	}

	registry.MustRegister(m.requests, m.duration, m.posts)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// refreshPosts resets the per-type gauge from the gallery's counts.
func (m *Metrics) refreshPosts(ctx context.Context, gallery *astroglossary.Gallery) error {
	counts, err := gallery.TypeCounts(ctx)
	if err != nil {
		return err
	}

	m.posts.Reset()
	for _, t := range gallery.Types() {
		m.posts.WithLabelValues(t).Set(float64(counts[t]))
	}
	return nil
}
