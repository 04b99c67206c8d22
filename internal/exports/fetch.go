package exports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"imagery-explorer/internal/ratelimit"
)

// UserAgent identifies export traffic to upstream tile services
const UserAgent = "ImageryExplorer/1.0"

// ErrTileOutsideCoverage marks tiles the renderer cannot produce
// because they fall outside the item's footprint. Exports leave these
// regions transparent instead of failing.
var ErrTileOutsideCoverage = errors.New("tile outside item coverage")

// TileFetcher fetches rendered tiles over HTTP with rate-limit
// awareness for one provider.
type TileFetcher struct {
	httpClient *http.Client
	rateLimits *ratelimit.Handler
	provider   string
}

// NewTileFetcher creates a fetcher for the given rate-limit provider key
func NewTileFetcher(rateLimits *ratelimit.Handler, provider string) *TileFetcher {
	return &TileFetcher{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
			},
		},
		rateLimits: rateLimits,
		provider:   provider,
	}
}

// FetchTile downloads a single tile
func (f *TileFetcher) FetchTile(ctx context.Context, tileURL string) ([]byte, error) {
	if f.rateLimits != nil && f.rateLimits.IsRateLimited(f.provider) {
		return nil, fmt.Errorf("tile fetch paused: %s is rate limited", f.provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if f.rateLimits != nil && f.rateLimits.CheckResponse(f.provider, resp) {
		return nil, fmt.Errorf("tile request rate limited: HTTP %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		// TiTiler answers 404 for tiles beyond the item's bounds
		return nil, ErrTileOutsideCoverage
	default:
		return nil, fmt.Errorf("tile request failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
