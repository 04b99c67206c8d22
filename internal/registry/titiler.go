package registry

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// RescaleOverride replaces a band's default rescale range for one layer
type RescaleOverride struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ItemURL returns the canonical STAC URL for an item
func ItemURL(stacEndpoint, collectionID, itemID string) string {
	return fmt.Sprintf("%s/collections/%s/items/%s",
		strings.TrimSuffix(stacEndpoint, "/"), collectionID, url.PathEscape(itemID))
}

// BuildTileURL maps (collection, item, band, optional rescale override) to a
// TiTiler tile URL template with {z}/{x}/{y} placeholders left in place.
// Parameter order is fixed so the result is stable for cache keys.
func (r *Registry) BuildTileURL(titilerEndpoint, stacEndpoint, collectionID, itemID, bandID string, override *RescaleOverride) (string, error) {
	collection, err := r.Get(collectionID)
	if err != nil {
		return "", err
	}
	band, err := collection.Band(bandID)
	if err != nil {
		return "", err
	}
	if itemID == "" {
		return "", fmt.Errorf("item ID is empty")
	}

	rescale := band.Rescale
	if override != nil {
		if !band.RescaleAdjustable {
			return "", fmt.Errorf("band %s/%s does not accept rescale overrides", collectionID, bandID)
		}
		if override.Min >= override.Max {
			return "", fmt.Errorf("rescale override min %g must be less than max %g", override.Min, override.Max)
		}
		rescale = [2]float64{override.Min, override.Max}
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSuffix(titilerEndpoint, "/"))
	sb.WriteString("/stac/tiles/WebMercatorQuad/{z}/{x}/{y}.png")

	sb.WriteString("?url=")
	sb.WriteString(url.QueryEscape(ItemURL(stacEndpoint, collectionID, itemID)))

	if band.Expression != "" {
		sb.WriteString("&expression=")
		sb.WriteString(url.QueryEscape(band.Expression))
		sb.WriteString("&asset_as_band=true")
	} else {
		for _, asset := range band.Assets {
			sb.WriteString("&assets=")
			sb.WriteString(url.QueryEscape(asset))
		}
	}

	if rescale[0] != 0 || rescale[1] != 0 {
		sb.WriteString("&rescale=")
		sb.WriteString(formatRescale(rescale))
	}

	if band.Colormap != "" {
		sb.WriteString("&colormap_name=")
		sb.WriteString(url.QueryEscape(band.Colormap))
	} else if band.ColormapJSON != nil {
		// json.Marshal orders map keys, keeping the URL deterministic
		encoded, err := json.Marshal(band.ColormapJSON)
		if err != nil {
			return "", fmt.Errorf("failed to encode colormap: %w", err)
		}
		sb.WriteString("&colormap=")
		sb.WriteString(url.QueryEscape(string(encoded)))
	}

	return sb.String(), nil
}

// ExpandTileURL substitutes concrete tile coordinates into a URL template
func ExpandTileURL(template string, z, x, y int) string {
	s := strings.Replace(template, "{z}", strconv.Itoa(z), 1)
	s = strings.Replace(s, "{x}", strconv.Itoa(x), 1)
	s = strings.Replace(s, "{y}", strconv.Itoa(y), 1)
	return s
}

func formatRescale(rescale [2]float64) string {
	return strconv.FormatFloat(rescale[0], 'f', -1, 64) + "," + strconv.FormatFloat(rescale[1], 'f', -1, 64)
}
