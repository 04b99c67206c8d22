package taskqueue

import (
	"imagery-explorer/internal/common"
	"imagery-explorer/internal/tiles"
)

// avgTileSizeKB is the working average for rendered imagery tiles,
// used only for pre-export size estimates shown to the user.
const avgTileSizeKB = 15.0

// EstimateTileCount returns how many tiles one item needs for a bbox
// at a given zoom. Returns 0 when the bounds or zoom are invalid.
func EstimateTileCount(bbox common.BoundingBox, zoom int) int {
	count, err := tiles.CountInBounds(bbox.South, bbox.West, bbox.North, bbox.East, zoom)
	if err != nil {
		return 0
	}
	return count
}

// EstimateDownloadSize estimates the download size in MB
func EstimateDownloadSize(tileCount int) float64 {
	return float64(tileCount) * avgTileSizeKB / 1024.0
}

// EstimateTask estimates total tiles and size for a task across all
// of its items
func EstimateTask(task *ExportTask) (tileCount int, sizeMB float64) {
	perItem := EstimateTileCount(task.BBox, task.Zoom)
	tileCount = perItem * len(task.Items)
	sizeMB = EstimateDownloadSize(tileCount)
	return tileCount, sizeMB
}
