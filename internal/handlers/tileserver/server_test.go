package tileserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagery-explorer/internal/ratelimit"
)

type pingAPI struct{}

func (pingAPI) Mount(r *mux.Router) {
	r.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pong":true}`))
	}).Methods(http.MethodGet)
}

func TestHealthz(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"})
	rec := getTile(t, srv.Router(), "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointMounted(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"})
	rec := getTile(t, srv.Router(), "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imagery_explorer")
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0", API: pingAPI{}})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodOptions, "/api/ping", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")

	// Preflights for paths with no route still get CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/api/never-registered", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIMountedBehindClientLimiter(t *testing.T) {
	limiter := ratelimit.NewClientLimiter(1, 1)
	defer limiter.Close()

	srv := NewServer(Config{Addr: "127.0.0.1:0", API: pingAPI{}, Limiter: limiter})
	handler := srv.Router()

	rec := getTile(t, handler, "/api/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pong":true}`, rec.Body.String())

	rec = getTile(t, handler, "/api/ping")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestStaticUIServed(t *testing.T) {
	srv := NewServer(Config{
		Addr: "127.0.0.1:0",
		Static: fstest.MapFS{
			"index.html": &fstest.MapFile{Data: []byte("<title>Imagery Explorer</title>")},
			"app.js":     &fstest.MapFile{Data: []byte("console.log('ready')")},
		},
	})
	handler := srv.Router()

	rec := getTile(t, handler, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Imagery Explorer")

	rec = getTile(t, handler, "/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	require.NotEmpty(t, srv.URL())

	resp, err := http.Get(srv.URL() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}
