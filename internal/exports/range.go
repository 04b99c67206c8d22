package exports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"image"
	"sort"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/tiles"
)

// FrameResult describes the outcome of one scene in a time series export
type FrameResult struct {
	ItemID     string `json:"itemId"`
	Date       string `json:"date"`
	OutputPath string `json:"outputPath,omitempty"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skipReason,omitempty"`
}

// ExportTimeSeries exports a sequence of scenes over the same area,
// oldest first. Scenes whose center tile matches the previous frame
// byte-for-byte are skipped as duplicates, and scenes whose center
// tile is blank or transparent are skipped as having no coverage.
// Individual scene failures do not abort the series.
func (d *Downloader) ExportTimeSeries(ctx context.Context, scenes []Scene, bbox common.BoundingBox, zoom int, format common.DownloadFormat) ([]FrameResult, error) {
	if err := ValidateCoordinates(bbox, zoom); err != nil {
		return nil, fmt.Errorf("invalid coordinates: %w", err)
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scenes to export")
	}

	ordered := make([]Scene, len(scenes))
	copy(ordered, scenes)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Date < ordered[j].Date
	})

	d.emitLog(fmt.Sprintf("Starting time series export: %d scenes at zoom %d", len(ordered), zoom))

	d.SetRangeExportState(true, 0, len(ordered))
	defer d.SetRangeExportState(false, 0, 0)

	centerLat := (bbox.South + bbox.North) / 2
	centerLon := (bbox.West + bbox.East) / 2

	results := make([]FrameResult, 0, len(ordered))
	seenHashes := make(map[[32]byte]bool)
	exportedCount := 0
	var errs []error

	for i, scene := range ordered {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		d.SetRangeExportState(true, i+1, len(ordered))
		d.emitProgress(DownloadProgress{
			Percent:     (i * 100) / len(ordered),
			Status:      fmt.Sprintf("Scene %d/%d: %s", i+1, len(ordered), scene.Date),
			CurrentItem: i + 1,
			TotalItems:  len(ordered),
		})

		// Probe the center tile before committing to a full download.
		// Many revisits render identical pixels (no new acquisition) or
		// nothing at all over this area, and one tile tells us that.
		if reason := d.probeScene(ctx, scene, centerLat, centerLon, zoom, seenHashes); reason != "" {
			d.emitLog(fmt.Sprintf("Skipping %s: %s", scene.Date, reason))
			results = append(results, FrameResult{
				ItemID:     scene.ItemID,
				Date:       scene.Date,
				Skipped:    true,
				SkipReason: reason,
			})
			continue
		}

		outputPath, err := d.ExportScene(ctx, scene, bbox, zoom, format)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			d.emitLog(fmt.Sprintf("Scene %s failed: %v", scene.Date, err))
			errs = append(errs, fmt.Errorf("scene %s: %w", scene.Date, err))
			results = append(results, FrameResult{
				ItemID:     scene.ItemID,
				Date:       scene.Date,
				Skipped:    true,
				SkipReason: fmt.Sprintf("export failed: %v", err),
			})
			continue
		}

		results = append(results, FrameResult{
			ItemID:     scene.ItemID,
			Date:       scene.Date,
			OutputPath: outputPath,
		})
		exportedCount++
	}

	d.emitLog(fmt.Sprintf("Time series export complete: %d exported, %d skipped", exportedCount, len(results)-exportedCount))

	d.trackEvent("export_range_complete", map[string]interface{}{
		"scenes":   len(ordered),
		"exported": exportedCount,
		"skipped":  len(results) - exportedCount,
		"zoom":     zoom,
		"format":   format.String(),
	})

	if exportedCount == 0 {
		if len(errs) > 0 {
			return results, fmt.Errorf("all %d scenes failed, first: %w", len(errs), errs[0])
		}
		return results, fmt.Errorf("no scenes exported (all duplicates or without coverage)")
	}

	d.emitProgress(DownloadProgress{
		Percent:    100,
		Status:     "Complete",
		TotalItems: len(ordered),
	})

	return results, nil
}

// probeScene fetches the scene's center tile and returns a skip reason,
// or "" when the scene should be exported. Probe failures never skip;
// the full export gets to decide for itself.
func (d *Downloader) probeScene(ctx context.Context, scene Scene, centerLat, centerLon float64, zoom int, seen map[[32]byte]bool) string {
	tile, err := tiles.ForWgs84(centerLat, centerLon, zoom)
	if err != nil {
		return ""
	}

	probeURL := registry.ExpandTileURL(scene.URLTemplate, tile.Z, tile.X, tile.Y)
	data, err := d.fetcher.FetchTile(ctx, probeURL)
	if errors.Is(err, ErrTileOutsideCoverage) {
		return "no coverage over this area"
	}
	if err != nil {
		d.emitLog(fmt.Sprintf("Center tile probe failed for %s: %v", scene.Date, err))
		return ""
	}

	if d.tileCache != nil {
		d.tileCache.Set(common.ProviderTiTiler, scene.LayerKey, tile.Z, tile.X, tile.Y, data)
	}

	hash := sha256.Sum256(data)
	if seen[hash] {
		return "identical to a previous scene"
	}
	seen[hash] = true

	if IsBlankTile(data) {
		return "blank imagery (no data over this area)"
	}

	return ""
}

// IsBlankTile reports whether tile data renders as empty imagery:
// fully transparent, uniformly white, or uniformly black. Renderers
// answer these for dates with no usable acquisition over an area.
func IsBlankTile(data []byte) bool {
	if len(data) < 100 {
		return true // Too small to be a real image
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false // Can't decode, assume it's valid
	}

	bounds := img.Bounds()
	if bounds.Dx() < 10 || bounds.Dy() < 10 {
		return true // Too small
	}

	// Sample pixels at various positions
	samplePoints := []image.Point{
		{bounds.Min.X + bounds.Dx()/4, bounds.Min.Y + bounds.Dy()/4},
		{bounds.Min.X + bounds.Dx()/2, bounds.Min.Y + bounds.Dy()/2},
		{bounds.Min.X + 3*bounds.Dx()/4, bounds.Min.Y + 3*bounds.Dy()/4},
		{bounds.Min.X + bounds.Dx()/4, bounds.Min.Y + 3*bounds.Dy()/4},
		{bounds.Min.X + 3*bounds.Dx()/4, bounds.Min.Y + bounds.Dy()/4},
	}

	// Fully transparent samples mean the renderer drew nothing
	allTransparent := true
	for _, pt := range samplePoints {
		if _, _, _, a := img.At(pt.X, pt.Y).RGBA(); a != 0 {
			allTransparent = false
			break
		}
	}
	if allTransparent {
		return true
	}

	refR, refG, refB, _ := img.At(samplePoints[0].X, samplePoints[0].Y).RGBA()

	// Check if all samples are nearly identical (within tolerance)
	tolerance := uint32(500)
	allSame := true
	for _, pt := range samplePoints[1:] {
		r, g, b, _ := img.At(pt.X, pt.Y).RGBA()
		if absDiff(r, refR) > tolerance || absDiff(g, refG) > tolerance || absDiff(b, refB) > tolerance {
			allSame = false
			break
		}
	}

	if allSame {
		// RGBA values are in 0-65535 range
		if refR > 60000 && refG > 60000 && refB > 60000 {
			return true // White/blank
		}
		if refR < 5000 && refG < 5000 && refB < 5000 {
			return true // Black/blank
		}
	}

	return false
}

// absDiff returns absolute difference between two uint32 values
func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
