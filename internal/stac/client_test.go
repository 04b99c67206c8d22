package stac

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/ratelimit"
)

const searchResponseTwoItems = `{
	"type": "FeatureCollection",
	"context": {"returned": 2, "matched": 7, "limit": 50},
	"features": [
		{
			"type": "Feature",
			"id": "S2A_31UDQ_20240105_0_L2A",
			"collection": "sentinel-2-l2a",
			"bbox": [2.0, 48.5, 3.1, 49.4],
			"geometry": {"type": "Polygon", "coordinates": [[[2.0,48.5],[3.1,48.5],[3.1,49.4],[2.0,49.4],[2.0,48.5]]]},
			"properties": {"datetime": "2024-01-05T10:56:31Z", "eo:cloud_cover": 12.4},
			"assets": {
				"thumbnail": {"href": "https://example.com/thumbs/a.jpg", "roles": ["thumbnail"]},
				"visual": {"href": "https://example.com/cogs/a.tif", "roles": ["visual"]}
			},
			"links": [
				{"rel": "self", "href": "https://example.com/collections/sentinel-2-l2a/items/S2A_31UDQ_20240105_0_L2A"}
			]
		},
		{
			"type": "Feature",
			"id": "S2B_31UDQ_20240110_0_L2A",
			"collection": "sentinel-2-l2a",
			"bbox": [2.0, 48.5, 3.1, 49.4],
			"geometry": {"type": "Polygon", "coordinates": [[[2.0,48.5],[3.1,48.5],[3.1,49.4],[2.0,49.4],[2.0,48.5]]]},
			"properties": {"datetime": "2024-01-10T10:56:29Z"},
			"assets": {
				"preview": {"href": "https://example.com/thumbs/b.jpg", "roles": ["overview"]}
			},
			"links": []
		}
	],
	"links": []
}`

func TestSearchBuildsRequestBody(t *testing.T) {
	// Mock
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		fmt.Fprint(w, `{"type":"FeatureCollection","features":[],"links":[]}`)
	}))
	defer server.Close()

	// Tested code
	client := NewClient(server.URL, nil)
	_, err := client.Search(context.Background(), SearchParams{
		Collection:    "sentinel-2-l2a",
		Bbox:          [4]float64{2.25, 48.8, 2.45, 48.9},
		StartDate:     "2024-01-01",
		EndDate:       "2024-01-31",
		MaxCloudCover: 20,
		Limit:         25,
	})

	// Asserts
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"sentinel-2-l2a"}, captured["collections"])
	assert.Equal(t, []interface{}{2.25, 48.8, 2.45, 48.9}, captured["bbox"])
	assert.Equal(t, "2024-01-01T00:00:00Z/2024-01-31T23:59:59Z", captured["datetime"])
	assert.Equal(t, float64(25), captured["limit"])
	query := captured["query"].(map[string]interface{})
	cloud := query["eo:cloud_cover"].(map[string]interface{})
	assert.Equal(t, float64(20), cloud["lt"])
}

func TestSearchOmitsOptionalFilters(t *testing.T) {
	// Mock
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		fmt.Fprint(w, `{"type":"FeatureCollection","features":[],"links":[]}`)
	}))
	defer server.Close()

	// Tested code
	client := NewClient(server.URL, nil)
	_, err := client.Search(context.Background(), SearchParams{
		Collection:    "cop-dem-glo-30",
		Bbox:          [4]float64{2.25, 48.8, 2.45, 48.9},
		MaxCloudCover: -1,
	})

	// Asserts
	require.NoError(t, err)
	assert.NotContains(t, captured, "datetime")
	assert.NotContains(t, captured, "query")
	assert.Equal(t, float64(DefaultLimit), captured["limit"])
}

func TestSearchOpenEndedInterval(t *testing.T) {
	datetime, err := datetimeInterval("2023-06-15", "")
	require.NoError(t, err)
	assert.Equal(t, "2023-06-15T00:00:00Z/..", datetime)

	datetime, err = datetimeInterval("", "2023-06-15")
	require.NoError(t, err)
	assert.Equal(t, "../2023-06-15T23:59:59Z", datetime)

	_, err = datetimeInterval("15/06/2023", "")
	assert.Error(t, err)
}

func TestSearchNormalizesItems(t *testing.T) {
	// Mock
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchResponseTwoItems)
	}))
	defer server.Close()

	// Tested code
	client := NewClient(server.URL, nil)
	result, err := client.Search(context.Background(), SearchParams{
		Collection: "sentinel-2-l2a",
		Bbox:       [4]float64{2.0, 48.5, 3.1, 49.4},
	})

	// Asserts
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, 7, result.Matched)
	assert.False(t, result.HasMore())

	// Newest first even though the catalog returned it second
	first := result.Items[0]
	assert.Equal(t, "S2B_31UDQ_20240110_0_L2A", first.ID)
	assert.Equal(t, "2024-01-10T10:56:29Z", first.Datetime.Format("2006-01-02T15:04:05Z"))
	assert.Equal(t, float64(-1), first.CloudCover)
	assert.Equal(t, "https://example.com/thumbs/b.jpg", first.ThumbnailURL)
	assert.Equal(t, server.URL+"/collections/sentinel-2-l2a/items/S2B_31UDQ_20240110_0_L2A", first.SelfHref)

	second := result.Items[1]
	assert.Equal(t, "S2A_31UDQ_20240105_0_L2A", second.ID)
	assert.InDelta(t, 12.4, second.CloudCover, 0.001)
	assert.Equal(t, "https://example.com/thumbs/a.jpg", second.ThumbnailURL)
	assert.Equal(t, "https://example.com/collections/sentinel-2-l2a/items/S2A_31UDQ_20240105_0_L2A", second.SelfHref)
	assert.Equal(t, []float64{2.0, 48.5, 3.1, 49.4}, second.Bbox)
}

func TestSearchPagination(t *testing.T) {
	// Mock
	var secondBody map[string]interface{}
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"type": "FeatureCollection",
			"features": [],
			"links": [
				{"rel": "next", "href": "%s/search/page2", "method": "POST", "body": {"collections": ["sentinel-2-l2a"], "token": "next:S2B"}}
			]
		}`, server.URL)
	})
	mux.HandleFunc("/search/page2", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &secondBody))
		fmt.Fprint(w, `{"type":"FeatureCollection","features":[],"links":[]}`)
	})

	// Tested code
	client := NewClient(server.URL, nil)
	first, err := client.Search(context.Background(), SearchParams{
		Collection: "sentinel-2-l2a",
		Bbox:       [4]float64{2.0, 48.5, 3.1, 49.4},
	})
	require.NoError(t, err)
	require.True(t, first.HasMore())

	second, err := client.NextPage(context.Background(), first)

	// Asserts
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.False(t, second.HasMore())
	assert.Equal(t, "next:S2B", secondBody["token"])

	third, err := client.NextPage(context.Background(), second)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestSearchRateLimitedResponse(t *testing.T) {
	// Mock
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	handler := ratelimit.NewHandler(nil)
	defer handler.Close()
	handler.SetAutoRetry(false)

	// Tested code
	client := NewClient(server.URL, handler)
	_, err := client.Search(context.Background(), SearchParams{
		Collection: "sentinel-2-l2a",
		Bbox:       [4]float64{2.0, 48.5, 3.1, 49.4},
	})

	// Asserts
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, handler.IsRateLimited(common.ProviderSTAC))

	// Subsequent searches short-circuit without touching the catalog
	_, err = client.Search(context.Background(), SearchParams{
		Collection: "sentinel-2-l2a",
		Bbox:       [4]float64{2.0, 48.5, 3.1, 49.4},
	})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSearchServerError(t *testing.T) {
	// Mock
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	// Tested code
	client := NewClient(server.URL, nil)
	_, err := client.Search(context.Background(), SearchParams{
		Collection: "sentinel-2-l2a",
		Bbox:       [4]float64{2.0, 48.5, 3.1, 49.4},
	})

	// Asserts
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSearchMalformedBody(t *testing.T) {
	// Mock
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type": "Feature", "geometry": null, "properties": {}}`)
	}))
	defer server.Close()

	// Tested code
	client := NewClient(server.URL, nil)
	_, err := client.Search(context.Background(), SearchParams{
		Collection: "sentinel-2-l2a",
		Bbox:       [4]float64{2.0, 48.5, 3.1, 49.4},
	})

	// Asserts
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FeatureCollection")
}

func TestFetchCollectionExtent(t *testing.T) {
	// Mock
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/sentinel-2-l2a", r.URL.Path)
		fmt.Fprint(w, `{
			"id": "sentinel-2-l2a",
			"title": "Sentinel-2 Level 2A",
			"extent": {
				"spatial": {"bbox": [[-180, -90, 180, 90]]},
				"temporal": {"interval": [["2015-06-27T10:25:31Z", null]]}
			}
		}`)
	}))
	defer server.Close()

	// Tested code
	client := NewClient(server.URL, nil)
	extent, err := client.FetchCollectionExtent(context.Background(), "sentinel-2-l2a")

	// Asserts
	require.NoError(t, err)
	require.NotNil(t, extent)
	assert.Equal(t, []float64{-180, -90, 180, 90}, extent.Bbox)
	require.NotNil(t, extent.TemporalStart)
	assert.Equal(t, "2015-06-27", extent.TemporalStart.Format("2006-01-02"))
	assert.Nil(t, extent.TemporalEnd)
}
