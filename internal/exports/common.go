package exports

import (
	"fmt"
	"path/filepath"
	"strings"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/tiles"
)

// DownloadProgress tracks the progress of an export operation
type DownloadProgress struct {
	Downloaded  int    `json:"downloaded"`
	Total       int    `json:"total"`
	Percent     int    `json:"percent"`
	Status      string `json:"status"`
	CurrentItem int    `json:"currentItem"` // For time series exports (1-based)
	TotalItems  int    `json:"totalItems"`  // For time series exports
}

const (
	DefaultWorkers = 10 // Default number of concurrent download workers

	// MaxTilesPerExport bounds a single scene export. Anything larger
	// hammers the renderer and produces rasters nobody opens.
	MaxTilesPerExport = 2048
)

// ValidateCoordinates validates zoom level and bounding box
func ValidateCoordinates(bbox common.BoundingBox, zoom int) error {
	if zoom < tiles.MinZoom || zoom > tiles.MaxZoom {
		return fmt.Errorf("zoom level %d out of range [%d, %d]", zoom, tiles.MinZoom, tiles.MaxZoom)
	}
	return bbox.Validate()
}

// CheckTileBudget rejects exports whose bbox covers more than
// MaxTilesPerExport tiles at the requested zoom, naming the highest
// zoom that would fit.
func CheckTileBudget(bbox common.BoundingBox, zoom int) error {
	count, err := tiles.CountInBounds(bbox.South, bbox.West, bbox.North, bbox.East, zoom)
	if err != nil {
		return err
	}
	if count <= MaxTilesPerExport {
		return nil
	}
	return fmt.Errorf("export covers %d tiles at zoom %d, above the %d tile limit; use zoom %d or below, or shrink the area",
		count, zoom, MaxTilesPerExport, MaxZoomForBudget(bbox))
}

// MaxZoomForBudget returns the highest zoom at which the bbox stays
// within the per-export tile limit
func MaxZoomForBudget(bbox common.BoundingBox) int {
	for z := tiles.MaxZoom; z > tiles.MinZoom; z-- {
		count, err := tiles.CountInBounds(bbox.South, bbox.West, bbox.North, bbox.East, z)
		if err == nil && count <= MaxTilesPerExport {
			return z
		}
	}
	return tiles.MinZoom
}

// ValidateOutputPath validates that a file path stays inside the export
// directory. This prevents path traversal from malicious input.
func ValidateOutputPath(exportDir, filePath string) error {
	if exportDir == "" || filePath == "" {
		return fmt.Errorf("export directory or file path is empty")
	}

	absExportDir, err := filepath.Abs(exportDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for export directory: %w", err)
	}

	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for file: %w", err)
	}

	relPath, err := filepath.Rel(absExportDir, absFilePath)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}

	if strings.HasPrefix(relPath, "..") {
		return fmt.Errorf("path traversal attempt detected: %s is outside export directory %s", filePath, exportDir)
	}

	return nil
}
