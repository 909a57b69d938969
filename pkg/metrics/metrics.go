package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors shared by the auth client and the fetch cache.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchOutcomes *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	TokenRefresh  *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinsafe",
			Name:      "fetch_attempts_total",
			Help:      "Fetch attempts by resource and outcome.",
		}, []string{"resource", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coinsafe",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetches that reached the remote endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
		TokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinsafe",
			Name:      "token_refresh_total",
			Help:      "Access token refreshes by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.FetchOutcomes, m.FetchDuration, m.TokenRefresh)
	return m
}

func (m *Metrics) ObserveFetch(resource, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchOutcomes.WithLabelValues(resource, outcome).Inc()
	if seconds > 0 {
		m.FetchDuration.WithLabelValues(resource).Observe(seconds)
	}
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefresh.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
