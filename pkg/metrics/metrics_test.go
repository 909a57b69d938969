package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveFetch("prices", "fetched", 0.2)
	m.ObserveFetch("prices", "fetched", 0.1)
	m.ObserveFetch("prices", "skipped_fresh", 0)
	m.ObserveRefresh("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchOutcomes.WithLabelValues("prices", "fetched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchOutcomes.WithLabelValues("prices", "skipped_fresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("ok")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("prices", "fetched", 1)
		m.ObserveRefresh("failed")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRefresh("ok")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "coinsafe_token_refresh_total")
}
