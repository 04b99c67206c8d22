package explorer

import (
	"fmt"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/utils/naming"
)

// Endpoints carries the upstream service URLs layer resolution needs.
type Endpoints struct {
	STAC    string
	TiTiler string
}

// Layer is one map overlay descriptor handed to the UI. TileURL is a
// {z}/{x}/{y} template routed through the local tile proxy so responses
// are cached and upstream rate limits apply once per tile.
type Layer struct {
	ItemID      string           `json:"itemId"`
	Collection  string           `json:"collection"`
	Band        string           `json:"band"`
	Date        string           `json:"date,omitempty"`
	CloudCover  float64          `json:"cloudCover"`
	TileURL     string           `json:"tileUrl"`
	Legend      *registry.Legend `json:"legend,omitempty"`
	Opacity     float64          `json:"opacity"`
	Attribution string           `json:"attribution,omitempty"`
	MinZoom     int              `json:"minZoom"`
	MaxZoom     int              `json:"maxZoom"`
	Bbox        []float64        `json:"bbox,omitempty"`
}

// layerVersion is a short token identifying a band+range combination.
// It versions browser-cached tile URLs and disk cache layers so a band
// or range change never serves stale pixels.
func layerVersion(state LayerState) string {
	if state.Rescale != nil {
		return fmt.Sprintf("%s-r%g-%g", naming.SafeName(state.Band), state.Rescale.Min, state.Rescale.Max)
	}
	return naming.SafeName(state.Band)
}

// ProxyTileTemplate returns the local proxy tile template for one
// workspace item. The v parameter is ignored server-side; it only keys
// the browser cache.
func ProxyTileTemplate(workspaceID, itemID string, state LayerState) string {
	return fmt.Sprintf("/tiles/items/%s/%s/{z}/{x}/{y}.png?v=%s", workspaceID, itemID, layerVersion(state))
}

// CacheLayerKey returns the disk cache layer identifier for an item's
// current render state.
func CacheLayerKey(itemID string, state LayerState) string {
	return naming.SafeName(itemID) + "-" + layerVersion(state)
}

// ResolveLayers projects the selection into overlay descriptors, one
// per visible selected item in selection order. The band and rescale
// state are validated against the renderer URL builder so a stale
// workspace surfaces as an error here rather than as broken tiles.
func (w *Workspace) ResolveLayers(reg *registry.Registry, endpoints Endpoints) ([]Layer, error) {
	layers := make([]Layer, 0, len(w.Selected))
	for _, itemID := range w.Selected {
		state, ok := w.Layers[itemID]
		if !ok || !state.Visible {
			continue
		}
		item, err := w.Item(itemID)
		if err != nil {
			return nil, err
		}
		collection, err := reg.Get(item.Collection)
		if err != nil {
			return nil, err
		}
		if _, err := reg.BuildTileURL(endpoints.TiTiler, endpoints.STAC, item.Collection, itemID, state.Band, state.Rescale); err != nil {
			return nil, fmt.Errorf("layer %s: %w", itemID, err)
		}
		legend, err := reg.Legend(item.Collection, state.Band, state.Rescale)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", itemID, err)
		}
		if legend.Title == "" && len(legend.Gradient) == 0 && len(legend.Classes) == 0 {
			legend = nil
		}

		layers = append(layers, Layer{
			ItemID:      itemID,
			Collection:  item.Collection,
			Band:        state.Band,
			Date:        common.FormatISO8601(item.Datetime),
			CloudCover:  item.CloudCover,
			TileURL:     ProxyTileTemplate(w.ID, itemID, state),
			Legend:      legend,
			Opacity:     state.Opacity,
			Attribution: collection.Attribution,
			MinZoom:     collection.MinZoom,
			MaxZoom:     collection.MaxZoom,
			Bbox:        item.Bbox,
		})
	}
	return layers, nil
}

// ResolveTileTemplate builds the upstream renderer URL template for one
// selected item. The tile proxy calls this to satisfy proxied requests.
func (w *Workspace) ResolveTileTemplate(reg *registry.Registry, endpoints Endpoints, itemID string) (string, error) {
	state, err := w.layerState(itemID)
	if err != nil {
		return "", err
	}
	item, err := w.Item(itemID)
	if err != nil {
		return "", err
	}
	return reg.BuildTileURL(endpoints.TiTiler, endpoints.STAC, item.Collection, item.ID, state.Band, state.Rescale)
}
