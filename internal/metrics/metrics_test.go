package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware)
	router.HandleFunc("/api/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/widgets/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	count := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/widgets/{id}", "418"))
	assert.Equal(t, 1.0, count, "requests are labeled by route template, not raw path")
	assert.Equal(t, 0.0, testutil.ToFloat64(httpInFlight))
}

func TestMiddlewareCollapsesUnroutedPaths(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scanner/probe/1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scanner/probe/2", nil))

	count := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/scanner", "404"))
	assert.Equal(t, 2.0, count, "unrouted paths share one first-segment label")
}

func TestMiddlewareSkipsMetricsEndpoint(t *testing.T) {
	before := testutil.CollectAndCount(httpRequests)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, before, testutil.CollectAndCount(httpRequests))
}

func TestDefaultStatusIsRecordedOnWrite(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/implicit", nil))

	count := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/implicit", "200"))
	assert.Equal(t, 1.0, count)
}

func TestRecordExportStatuses(t *testing.T) {
	RecordExport("gif", "completed", 2*time.Second)
	RecordExport("gif", "failed", time.Second)
	RecordExport("", "cancelled", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(exportsTotal.WithLabelValues("gif", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exportsTotal.WithLabelValues("gif", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exportsTotal.WithLabelValues("unknown", "cancelled")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordTileServed("titiler", "hit", 12*time.Millisecond)
	RecordTileServed("basemap", "miss", 30*time.Millisecond)
	RecordSearch("sentinel-2-l2a", "ok", 80*time.Millisecond)
	RecordRateLimited("stac")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "imagery_explorer_tiles_served_total")
	assert.Contains(t, body, `source="titiler"`)
	assert.Contains(t, body, "imagery_explorer_catalog_searches_total")
	assert.Contains(t, body, "imagery_explorer_exports_finished_total")
	assert.Contains(t, body, "imagery_explorer_upstream_rate_limited_total")
	assert.Contains(t, body, "go_goroutines")
}
