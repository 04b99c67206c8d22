package common

import "fmt"

// DownloadFormat represents the output format options for imagery exports
type DownloadFormat struct {
	SaveTiles   bool // Save individual tiles in OGC ZXY structure
	SaveGeoTIFF bool // Save merged GeoTIFF raster
	SaveGIF     bool // Assemble stitched frames into an animated GIF (range exports only)
}

// ParseDownloadFormat converts a format string to DownloadFormat struct
// Accepted values: "tiles", "geotiff", "both", "gif"
func ParseDownloadFormat(format string) (DownloadFormat, error) {
	switch format {
	case "tiles":
		return DownloadFormat{SaveTiles: true}, nil
	case "geotiff":
		return DownloadFormat{SaveGeoTIFF: true}, nil
	case "both":
		return DownloadFormat{SaveTiles: true, SaveGeoTIFF: true}, nil
	case "gif":
		return DownloadFormat{SaveGeoTIFF: true, SaveGIF: true}, nil
	default:
		return DownloadFormat{}, fmt.Errorf("invalid format: %s (must be 'tiles', 'geotiff', 'both', or 'gif')", format)
	}
}

// String returns the string representation of the download format
func (df DownloadFormat) String() string {
	if df.SaveGIF {
		return "gif"
	} else if df.SaveTiles && df.SaveGeoTIFF {
		return "both"
	} else if df.SaveTiles {
		return "tiles"
	} else if df.SaveGeoTIFF {
		return "geotiff"
	}
	return "none"
}
