package exports

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/ratelimit"
)

func TestFetchTileReturnsBody(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("tile-bytes"))
	}))
	defer server.Close()

	fetcher := NewTileFetcher(nil, common.ProviderTiTiler)
	data, err := fetcher.FetchTile(context.Background(), server.URL+"/tiles/12/2074/1409.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("tile-bytes"), data)
	assert.Equal(t, UserAgent, gotUA)
}

func TestFetchTileOutsideCoverage(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNoContent} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		fetcher := NewTileFetcher(nil, common.ProviderTiTiler)
		_, err := fetcher.FetchTile(context.Background(), server.URL)
		assert.ErrorIs(t, err, ErrTileOutsideCoverage, "status %d", status)
		server.Close()
	}
}

func TestFetchTileServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewTileFetcher(nil, common.ProviderTiTiler)
	_, err := fetcher.FetchTile(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 500")
}

func TestFetchTilePausesWhileRateLimited(t *testing.T) {
	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	handler := ratelimit.NewHandler(ratelimit.DefaultRetryStrategy())
	defer handler.Close()

	fetcher := NewTileFetcher(handler, common.ProviderTiTiler)

	_, err := fetcher.FetchTile(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.True(t, handler.IsRateLimited(common.ProviderTiTiler))

	// Subsequent fetches fail fast without touching the server
	_, err = fetcher.FetchTile(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paused")
	assert.Equal(t, int64(1), atomic.LoadInt64(&requests))
}

func TestFetchTileCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tile"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := NewTileFetcher(nil, common.ProviderTiTiler)
	_, err := fetcher.FetchTile(ctx, server.URL)
	assert.Error(t, err)
}
