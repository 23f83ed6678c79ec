package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("tree", reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/calculations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calculations/abc", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	total := testutil.ToFloat64(m.ReqTotal.WithLabelValues(http.MethodGet, "/v1/calculations/{id}", "404"))
	require.Equal(t, float64(1), total)
	require.NotZero(t, testutil.CollectAndCount(m.ReqDur))
	require.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))
}

func TestCalculationAndCacheCounters(t *testing.T) {
	m := New("tree", prometheus.NewRegistry())
	m.ObserveCalculation("calculate", "ok", 3*time.Millisecond)
	m.ObserveCalculation("calculate", "VALIDATION_ERROR", time.Millisecond)
	m.CacheLookup("hit")

	require.Equal(t, float64(1), testutil.ToFloat64(m.CalculationsTotal.WithLabelValues("calculate", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.RateCacheTotal.WithLabelValues("hit")))
	require.Equal(t, 1, testutil.CollectAndCount(m.CalculationDuration))
}

func TestDoubleRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New("tree", reg)
	b := New("tree", reg)
	a.CacheLookup("miss")
	require.Equal(t, float64(1), testutil.ToFloat64(b.RateCacheTotal.WithLabelValues("miss")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCalculation("calculate", "ok", time.Millisecond)
	m.CacheLookup("hit")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
