package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/ratelimit"
	"imagery-explorer/internal/registry"
)

const (
	// DefaultEndpoint is the Earth Search v1 catalog hosting the
	// builtin collections.
	DefaultEndpoint = "https://earth-search.aws.element84.com/v1"

	// UserAgent identifies the application in outgoing requests
	UserAgent = "ImageryExplorer/1.0"

	// DefaultLimit is the page size used when the caller does not ask
	// for a specific one.
	DefaultLimit = 50

	// MaxLimit caps the page size accepted by most STAC servers.
	MaxLimit = 200
)

// ErrRateLimited is returned when the catalog answers with a rate limit
// status (429, 403, 509). Callers can test for it with errors.Is.
var ErrRateLimited = errors.New("rate limited")

// Client talks to a STAC API over its search and collections endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimits *ratelimit.Handler
}

// NewClient creates a STAC API client. rateLimits may be nil, in which
// case rate limit statuses are reported as plain errors without backoff
// tracking.
func NewClient(baseURL string, rateLimits *ratelimit.Handler) *Client {
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		},
		rateLimits: rateLimits,
	}
}

// BaseURL returns the catalog root this client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SearchParams describes one catalog search. Bbox is west, south, east,
// north in WGS84 degrees. StartDate and EndDate are ISO8601 dates
// (YYYY-MM-DD); either side may be empty for an open interval.
// MaxCloudCover is a percentage ceiling, disabled when negative. The
// caller is expected to leave it negative for collections without cloud
// cover metadata.
type SearchParams struct {
	Collection    string     `json:"collection"`
	Bbox          [4]float64 `json:"bbox"`
	StartDate     string     `json:"startDate,omitempty"`
	EndDate       string     `json:"endDate,omitempty"`
	MaxCloudCover float64    `json:"maxCloudCover"`
	Limit         int        `json:"limit,omitempty"`
}

type searchBody struct {
	Collections []string               `json:"collections"`
	Bbox        []float64              `json:"bbox,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Limit       int                    `json:"limit"`
	Query       map[string]interface{} `json:"query,omitempty"`
}

func buildSearchBody(params SearchParams) ([]byte, error) {
	if params.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	body := searchBody{
		Collections: []string{params.Collection},
		Bbox:        params.Bbox[:],
		Limit:       limit,
	}

	datetime, err := datetimeInterval(params.StartDate, params.EndDate)
	if err != nil {
		return nil, err
	}
	body.Datetime = datetime

	if params.MaxCloudCover >= 0 {
		body.Query = map[string]interface{}{
			"eo:cloud_cover": map[string]float64{"lt": params.MaxCloudCover},
		}
	}

	return json.Marshal(body)
}

// datetimeInterval converts a pair of ISO8601 dates into the RFC3339
// interval form STAC expects. The start expands to midnight and the end
// to the last second of its day; empty sides become open ("..").
func datetimeInterval(startDate, endDate string) (string, error) {
	if startDate == "" && endDate == "" {
		return "", nil
	}

	start := ".."
	if startDate != "" {
		day, err := common.ParseISO8601(startDate)
		if err != nil {
			return "", fmt.Errorf("invalid start date %q: %w", startDate, err)
		}
		start = day.UTC().Format(time.RFC3339)
	}

	end := ".."
	if endDate != "" {
		day, err := common.ParseISO8601(endDate)
		if err != nil {
			return "", fmt.Errorf("invalid end date %q: %w", endDate, err)
		}
		end = day.UTC().Add(24*time.Hour - time.Second).Format(time.RFC3339)
	}

	return start + "/" + end, nil
}

// Search runs one page of a catalog search and returns the normalized
// items, newest first.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	body, err := buildSearchBody(params)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	log.Printf("[STAC] Searching %s bbox=%v dates=%s/%s",
		params.Collection, params.Bbox, params.StartDate, params.EndDate)

	return c.postSearch(ctx, c.baseURL+"/search", body)
}

// NextPage fetches the page after prev. It returns nil when prev has no
// next link.
func (c *Client) NextPage(ctx context.Context, prev *SearchResult) (*SearchResult, error) {
	if prev == nil || prev.next == nil {
		return nil, nil
	}
	next := prev.next

	if next.Method != "" && next.Method != http.MethodPost {
		return c.getSearch(ctx, next.Href)
	}

	body := next.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	return c.postSearch(ctx, next.Href, body)
}

func (c *Client) postSearch(ctx context.Context, url string, body []byte) (*SearchResult, error) {
	if c.rateLimits != nil && c.rateLimits.IsRateLimited(common.ProviderSTAC) {
		return nil, fmt.Errorf("search paused: catalog is %w", ErrRateLimited)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", UserAgent)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer response.Body.Close()

	if err := c.checkStatus("search", response); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	result, err := c.parseSearchResults(raw)
	if err != nil {
		return nil, err
	}

	log.Printf("[STAC] Search returned %d items (matched %d)", len(result.Items), result.Matched)
	return result, nil
}

func (c *Client) getSearch(ctx context.Context, url string) (*SearchResult, error) {
	if c.rateLimits != nil && c.rateLimits.IsRateLimited(common.ProviderSTAC) {
		return nil, fmt.Errorf("search paused: catalog is %w", ErrRateLimited)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", UserAgent)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer response.Body.Close()

	if err := c.checkStatus("search", response); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	return c.parseSearchResults(raw)
}

// FetchCollection retrieves the catalog's collection document and maps
// its spatial and temporal extent into registry form. It satisfies
// registry.ExtentSource.
func (c *Client) FetchCollectionExtent(ctx context.Context, collectionID string) (*registry.Extent, error) {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collectionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collection request failed: %w", err)
	}
	defer response.Body.Close()

	if err := c.checkStatus("collection", response); err != nil {
		return nil, err
	}

	var doc collectionDoc
	if err := json.NewDecoder(response.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding collection %s: %w", collectionID, err)
	}

	return doc.extent(), nil
}

// checkStatus maps a response status onto the client's error surface.
// Rate limit statuses are recorded with the handler before returning.
func (c *Client) checkStatus(operation string, response *http.Response) error {
	if c.rateLimits != nil {
		if c.rateLimits.CheckResponse(common.ProviderSTAC, response) {
			return fmt.Errorf("%s: catalog is %w (HTTP %d)", operation, ErrRateLimited, response.StatusCode)
		}
	} else if response.StatusCode == 429 || response.StatusCode == 403 || response.StatusCode == 509 {
		return fmt.Errorf("%s: catalog is %w (HTTP %d)", operation, ErrRateLimited, response.StatusCode)
	}

	switch {
	case (response.StatusCode >= 400) && (response.StatusCode < 500):
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("%s rejected by catalog: HTTP %d: %s", operation, response.StatusCode, bytes.TrimSpace(snippet))
	case response.StatusCode >= 500:
		return fmt.Errorf("%s failed upstream: HTTP %d", operation, response.StatusCode)
	default:
		return nil
	}
}

// collectionDoc is the slice of a STAC collection document the registry
// cares about.
type collectionDoc struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Extent struct {
		Spatial struct {
			Bbox [][]float64 `json:"bbox"`
		} `json:"spatial"`
		Temporal struct {
			Interval [][]*string `json:"interval"`
		} `json:"temporal"`
	} `json:"extent"`
}

func (d *collectionDoc) extent() *registry.Extent {
	extent := &registry.Extent{}

	if len(d.Extent.Spatial.Bbox) > 0 {
		extent.Bbox = d.Extent.Spatial.Bbox[0]
	}

	if len(d.Extent.Temporal.Interval) > 0 {
		interval := d.Extent.Temporal.Interval[0]
		if len(interval) > 0 && interval[0] != nil {
			if start, err := time.Parse(time.RFC3339, *interval[0]); err == nil {
				extent.TemporalStart = &start
			}
		}
		if len(interval) > 1 && interval[1] != nil {
			if end, err := time.Parse(time.RFC3339, *interval[1]); err == nil {
				extent.TemporalEnd = &end
			}
		}
	}

	return extent
}
