package stac

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/venicegeo/geojson-go/geojson"

	"imagery-explorer/internal/registry"
)

// Item is one catalog result normalized for the result list and layer
// selection. CloudCover is a percentage, -1 when the collection does not
// report it.
type Item struct {
	ID           string    `json:"id"`
	Collection   string    `json:"collection"`
	Datetime     time.Time `json:"datetime"`
	CloudCover   float64   `json:"cloudCover"`
	Bbox         []float64 `json:"bbox,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	SelfHref     string    `json:"selfHref"`
}

// SearchResult is one page of search results. Matched is the catalog's
// total hit count when it reports one, otherwise the page length.
type SearchResult struct {
	Items   []Item `json:"items"`
	Matched int    `json:"matched"`

	next *nextPage
}

// HasMore reports whether the catalog offered a further page.
func (r *SearchResult) HasMore() bool {
	return r != nil && r.next != nil
}

type nextPage struct {
	Href   string
	Method string
	Body   json.RawMessage
}

// Link is a STAC link object. POST-style pagination links carry the body
// for the follow-up request.
type Link struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Type   string          `json:"type,omitempty"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Asset is a STAC asset object, trimmed to the fields the explorer uses.
type Asset struct {
	Href  string   `json:"href"`
	Title string   `json:"title,omitempty"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// searchEnvelope captures the response members geojson-go does not carry
// through: item collections, assets, and the link set en route to the
// next page.
type searchEnvelope struct {
	Features []itemEnvelope `json:"features"`
	Links    []Link         `json:"links"`

	NumberMatched int `json:"numberMatched"`
	Context       struct {
		Matched int `json:"matched"`
	} `json:"context"`
}

type itemEnvelope struct {
	Collection string           `json:"collection"`
	Assets     map[string]Asset `json:"assets"`
	Links      []Link           `json:"links"`
}

func (c *Client) parseSearchResults(raw []byte) (*SearchResult, error) {
	parsed, err := geojson.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	fc, ok := parsed.(*geojson.FeatureCollection)
	if !ok {
		return nil, fmt.Errorf("search response is not a FeatureCollection")
	}

	var envelope searchEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parsing search response links: %w", err)
	}

	result := &SearchResult{
		Items: make([]Item, 0, len(fc.Features)),
	}

	for i, feature := range fc.Features {
		var shell itemEnvelope
		if i < len(envelope.Features) {
			shell = envelope.Features[i]
		}
		result.Items = append(result.Items, c.itemFromFeature(feature, shell))
	}

	// Newest acquisitions first, catalog order preserved on ties
	sort.SliceStable(result.Items, func(i, j int) bool {
		return result.Items[i].Datetime.After(result.Items[j].Datetime)
	})

	result.Matched = envelope.NumberMatched
	if result.Matched == 0 {
		result.Matched = envelope.Context.Matched
	}
	if result.Matched == 0 {
		result.Matched = len(result.Items)
	}

	for _, link := range envelope.Links {
		if link.Rel == "next" && link.Href != "" {
			method := link.Method
			if method == "" && len(link.Body) > 0 {
				method = http.MethodPost
			}
			result.next = &nextPage{Href: link.Href, Method: method, Body: link.Body}
			break
		}
	}

	return result, nil
}

func (c *Client) itemFromFeature(feature *geojson.Feature, shell itemEnvelope) Item {
	item := Item{
		ID:         feature.IDStr(),
		Collection: shell.Collection,
		CloudCover: -1,
		Bbox:       feature.ForceBbox(),
	}

	datetime := feature.PropertyString("datetime")
	if datetime == "" {
		// Composite items carry an interval instead of an instant
		datetime = feature.PropertyString("start_datetime")
	}
	if datetime != "" {
		if acquired, err := time.Parse(time.RFC3339, datetime); err == nil {
			item.Datetime = acquired
		}
	}

	if _, present := feature.Properties["eo:cloud_cover"]; present {
		item.CloudCover = feature.PropertyFloat("eo:cloud_cover")
	}

	item.ThumbnailURL = thumbnailFromAssets(shell.Assets)

	for _, link := range shell.Links {
		if link.Rel == "self" && link.Href != "" {
			item.SelfHref = link.Href
			break
		}
	}
	if item.SelfHref == "" && item.Collection != "" && item.ID != "" {
		item.SelfHref = registry.ItemURL(c.baseURL, item.Collection, item.ID)
	}

	return item
}

// thumbnailFromAssets prefers the conventional "thumbnail" asset key and
// falls back to role matching.
func thumbnailFromAssets(assets map[string]Asset) string {
	if asset, ok := assets["thumbnail"]; ok && asset.Href != "" {
		return asset.Href
	}
	for _, role := range []string{"thumbnail", "overview"} {
		for _, asset := range assets {
			for _, r := range asset.Roles {
				if r == role && asset.Href != "" {
					return asset.Href
				}
			}
		}
	}
	return ""
}
