package naming

import (
	"fmt"
	"strings"
)

// SafeName reduces an arbitrary identifier (STAC item IDs, band names)
// to filesystem-safe characters
func SafeName(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	out := strings.Trim(sb.String(), "-.")
	if out == "" {
		return "unnamed"
	}
	return out
}

// GeoTIFFFilename creates a standardized GeoTIFF filename
// Format: {item}_{band}_{quadkey}_z{zoom}_{bbox}.tif
func GeoTIFFFilename(itemID, band string, south, west, north, east float64, zoom int) string {
	quadkey := Quadkey(south, west, north, east, zoom)
	return fmt.Sprintf("%s_%s_%s_z%d_%s.tif",
		SafeName(itemID), SafeName(band), quadkey, zoom,
		BBoxString(south, west, north, east))
}

// TilesDirName creates a standardized tiles directory name
// Format: {item}_{band}_z{zoom}_tiles
func TilesDirName(itemID, band string, zoom int) string {
	return fmt.Sprintf("%s_%s_z%d_tiles", SafeName(itemID), SafeName(band), zoom)
}

// TimelapseFilename creates a standardized animation filename
// Format: {collection}_{band}_{quadkey}_z{zoom}_{frames}f.gif
func TimelapseFilename(collectionID, band string, south, west, north, east float64, zoom, frames int) string {
	quadkey := Quadkey(south, west, north, east, zoom)
	return fmt.Sprintf("%s_%s_%s_z%d_%df.gif",
		SafeName(collectionID), SafeName(band), quadkey, zoom, frames)
}

// LayerKey builds the cache layer identifier for a rendered item+band
// combination. It is embedded in disk cache paths.
func LayerKey(itemID, band string) string {
	return SafeName(itemID) + "-" + SafeName(band)
}
