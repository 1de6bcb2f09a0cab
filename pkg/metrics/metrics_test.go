package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DocumentIndexed(3, 1)
	m.Flushed(nil)
	m.Flushed(errors.New("disk full"))
	m.CacheLookup(true)
	m.SearchDone(time.Now(), "miss", 0, nil)
	done := m.RequestStarted("GET", "/api/v1/search")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
	done(200)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocsIndexedTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.KeysDerivedTotal.WithLabelValues("word")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexFlushesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("zero_result")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/search", "200")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DocumentIndexed(1, 1)
		m.Flushed(nil)
		m.ShardState(0, 1, 1)
		m.CacheLookup(false)
		m.SearchDone(time.Now(), "hit", 1, nil)
		m.RequestStarted("GET", "/")(200)
	})
}

func TestServerExposesOnlyMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.DocumentIndexed(2, 0)
	srv := NewServer(0, reg)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docs_indexed_total")

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
