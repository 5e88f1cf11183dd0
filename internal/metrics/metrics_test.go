package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSearch("store", time.Millisecond)
	m.StoreLookup("main", "found")
	m.WebAPICall("hub", "missing")
	m.CacheResult(true)
	m.ObserveIngest(true, 1, 0, time.Second)
	m.BatchRetry()
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveSearch("store", 5*time.Millisecond)
	m.ObserveSearch("store", 5*time.Millisecond)
	m.ObserveSearch("not_found", time.Millisecond)
	m.StoreLookup("main", "missing")
	m.CacheResult(false)
	m.ObserveIngest(true, 12, 1, time.Second)
	m.BatchRetry()

	assert.InDelta(t, 2, testutil.ToFloat64(m.searches.WithLabelValues("store")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.searches.WithLabelValues("not_found")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.storeLookups.WithLabelValues("main", "missing")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheRequests.WithLabelValues("miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ingestRuns.WithLabelValues("success")), 0)
	assert.InDelta(t, 12, testutil.ToFloat64(m.ingestWritten), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ingestRejected), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.batchRetries), 0)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.StoreLookup("main", "found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `gpahub_store_lookups_total{outcome="found",store="main"} 1`))
}
