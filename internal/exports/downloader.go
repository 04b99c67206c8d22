package exports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "image/jpeg" // custom basemap sources may render JPEG tiles

	"golang.org/x/sync/semaphore"

	"imagery-explorer/internal/cache"
	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/tiles"
	"imagery-explorer/internal/utils/naming"
	"imagery-explorer/pkg/geotiff"
)

// Scene identifies one rendered item+band ready for export
type Scene struct {
	ItemID      string
	Band        string
	Date        string // acquisition date (YYYY-MM-DD), used in metadata and captions
	URLTemplate string // tile URL template with {z}/{x}/{y} placeholders
	LayerKey    string // cache layer identifier (see naming.LayerKey)
}

// tileResult holds the result of a tile download
type tileResult struct {
	tile tiles.Tile
	data []byte // nil when the tile falls outside item coverage
	err  error
}

// Downloader turns rendered scenes into files on disk: tile trees,
// georeferenced rasters, or both.
type Downloader struct {
	fetcher            *TileFetcher
	tileCache          *cache.PersistentTileCache
	exportPath         string
	progressCallback   func(DownloadProgress)
	logCallback        func(string)
	trackEventCallback func(string, map[string]interface{})
	maxWorkers         int
	sem                *semaphore.Weighted

	// Time series export state
	inRangeExport    bool
	currentItemIndex int
	totalItemsInRange int
	mu               sync.Mutex
}

// NewDownloader creates a new scene downloader with injected dependencies
func NewDownloader(
	fetcher *TileFetcher,
	tileCache *cache.PersistentTileCache,
	exportPath string,
	progressCallback func(DownloadProgress),
	logCallback func(string),
	trackEventCallback func(string, map[string]interface{}),
	maxWorkers int,
) *Downloader {
	if maxWorkers <= 0 {
		maxWorkers = DefaultWorkers
	}

	return &Downloader{
		fetcher:            fetcher,
		tileCache:          tileCache,
		exportPath:         exportPath,
		progressCallback:   progressCallback,
		logCallback:        logCallback,
		trackEventCallback: trackEventCallback,
		maxWorkers:         maxWorkers,
		sem:                semaphore.NewWeighted(int64(maxWorkers)),
	}
}

// SetRangeExportState sets the time series export state for progress tracking
func (d *Downloader) SetRangeExportState(inRange bool, currentIndex, totalItems int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inRangeExport = inRange
	d.currentItemIndex = currentIndex
	d.totalItemsInRange = totalItems
}

// GetRangeExportState returns the current time series export state
func (d *Downloader) GetRangeExportState() (inRange bool, currentIndex, totalItems int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inRangeExport, d.currentItemIndex, d.totalItemsInRange
}

// emitLog emits a log message if callback is set
func (d *Downloader) emitLog(message string) {
	if d.logCallback != nil {
		d.logCallback(message)
	}
}

// emitProgress emits download progress if callback is set
func (d *Downloader) emitProgress(progress DownloadProgress) {
	if d.progressCallback != nil {
		d.progressCallback(progress)
	}
}

// trackEvent tracks an analytics event if callback is set
func (d *Downloader) trackEvent(event string, properties map[string]interface{}) {
	if d.trackEventCallback != nil {
		d.trackEventCallback(event, properties)
	}
}

// ExportScene downloads all tiles covering a bbox for one scene and
// writes the requested outputs. It returns the primary output path:
// the GeoTIFF when one is produced, otherwise the tile directory.
func (d *Downloader) ExportScene(ctx context.Context, scene Scene, bbox common.BoundingBox, zoom int, format common.DownloadFormat) (string, error) {
	if err := ValidateCoordinates(bbox, zoom); err != nil {
		return "", fmt.Errorf("invalid coordinates: %w", err)
	}
	if err := CheckTileBudget(bbox, zoom); err != nil {
		return "", err
	}

	d.emitLog(fmt.Sprintf("Starting export of %s (%s) at zoom %d", scene.ItemID, scene.Band, zoom))

	tileList, err := tiles.InBounds(bbox.South, bbox.West, bbox.North, bbox.East, zoom)
	if err != nil {
		return "", err
	}

	total := len(tileList)
	if total == 0 {
		return "", fmt.Errorf("no tiles in bounding box")
	}
	d.emitLog(fmt.Sprintf("Downloading %d tiles with %d workers...", total, d.maxWorkers))

	// Download tiles concurrently with semaphore-based worker pool.
	// The semaphore is shared across exports so parallel jobs still
	// respect the global concurrency cap.
	var downloaded int64
	tileChan := make(chan tiles.Tile, total)
	resultChan := make(chan tileResult, total)
	errorChan := make(chan error, total)

	var wg sync.WaitGroup
	for i := 0; i < d.maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range tileChan {
				if err := d.sem.Acquire(ctx, 1); err != nil {
					errorChan <- err
					continue
				}

				var data []byte

				// Check cache first
				if d.tileCache != nil {
					cacheKey := cache.BuildKey(common.ProviderTiTiler, scene.LayerKey, tile.Z, tile.X, tile.Y)
					var found bool
					data, found = d.tileCache.Get(cacheKey)
					if found {
						d.sem.Release(1)
						resultChan <- tileResult{tile: tile, data: data}
						continue
					}
				}

				tileURL := registry.ExpandTileURL(scene.URLTemplate, tile.Z, tile.X, tile.Y)
				data, err := d.fetcher.FetchTile(ctx, tileURL)

				d.sem.Release(1)

				if errors.Is(err, ErrTileOutsideCoverage) {
					// Leave the region transparent
					resultChan <- tileResult{tile: tile}
					continue
				}

				if err == nil && d.tileCache != nil {
					d.tileCache.Set(common.ProviderTiTiler, scene.LayerKey, tile.Z, tile.X, tile.Y, data)
				}

				resultChan <- tileResult{tile: tile, data: data, err: err}
			}
		}()
	}

	// Send tiles to workers
	go func() {
		for _, tile := range tileList {
			select {
			case <-ctx.Done():
				close(tileChan)
				return
			case tileChan <- tile:
			}
		}
		close(tileChan)
	}()

	go func() {
		wg.Wait()
		close(resultChan)
		close(errorChan)
	}()

	bounds, err := tiles.Grid(tileList)
	if err != nil {
		return "", fmt.Errorf("failed to calculate tile bounds: %w", err)
	}
	cols := bounds.Cols()
	rows := bounds.Rows()
	d.emitLog(fmt.Sprintf("Grid: %d cols x %d rows", cols, rows))

	// Create output image only if we need a raster
	var outputImg *image.NRGBA
	var outputWidth, outputHeight int
	if format.SaveGeoTIFF {
		outputWidth = cols * tiles.TileSize
		outputHeight = rows * tiles.TileSize
		outputImg = image.NewNRGBA(image.Rect(0, 0, outputWidth, outputHeight))
	}

	// Create tiles directory if saving individual tiles ({z}/{x}/{y}.png)
	var tilesDir string
	if format.SaveTiles {
		tilesDir = filepath.Join(d.exportPath, naming.TilesDirName(scene.ItemID, scene.Band, zoom))
		if err := os.MkdirAll(tilesDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create tiles directory: %w", err)
		}
	}

	inRangeExport, currentItemIndex, totalItemsInRange := d.GetRangeExportState()

	// Process results and stitch tiles
	successCount := 0
	skippedCount := 0
	var errs []error
	for result := range resultChan {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		count := atomic.AddInt64(&downloaded, 1)

		percent := int((count * 100) / int64(total))
		var status string
		if inRangeExport {
			status = fmt.Sprintf("Scene %d/%d: downloading tile %d/%d", currentItemIndex, totalItemsInRange, count, total)
		} else {
			status = fmt.Sprintf("Downloading tile %d/%d", count, total)
		}

		d.emitProgress(DownloadProgress{
			Downloaded:  int(count),
			Total:       total,
			Percent:     percent,
			Status:      status,
			CurrentItem: currentItemIndex,
			TotalItems:  totalItemsInRange,
		})

		if result.err != nil {
			errs = append(errs, result.err)
			continue
		}
		if result.data == nil {
			// Outside item coverage
			skippedCount++
			continue
		}

		// Save individual tile if requested
		if format.SaveTiles {
			xDir := filepath.Join(tilesDir, fmt.Sprintf("%d", zoom), fmt.Sprintf("%d", result.tile.X))
			if err := os.MkdirAll(xDir, 0755); err != nil {
				log.Printf("Failed to create tile directories: %v", err)
			} else {
				tilePath := filepath.Join(xDir, fmt.Sprintf("%d.png", result.tile.Y))
				if err := os.WriteFile(tilePath, result.data, 0644); err != nil {
					log.Printf("Failed to save tile: %v", err)
				}
			}
		}

		// Decode and stitch for the raster output
		if format.SaveGeoTIFF {
			img, _, err := image.Decode(bytes.NewReader(result.data))
			if err != nil {
				errs = append(errs, fmt.Errorf("tile %d/%d/%d: %w", result.tile.Z, result.tile.X, result.tile.Y, err))
				continue
			}

			xOff := (result.tile.X - bounds.MinX) * tiles.TileSize
			yOff := (result.tile.Y - bounds.MinY) * tiles.TileSize
			draw.Draw(outputImg, image.Rect(xOff, yOff, xOff+tiles.TileSize, yOff+tiles.TileSize), img, image.Point{}, draw.Src)
		}
		successCount++
	}

	for err := range errorChan {
		if err != nil {
			errs = append(errs, err)
		}
	}

	d.emitLog(fmt.Sprintf("Processed %d/%d tiles (%d outside coverage)", successCount, total, skippedCount))

	d.trackEvent("export_complete", map[string]interface{}{
		"collectionItem": scene.ItemID,
		"band":           scene.Band,
		"zoom":           zoom,
		"total":          total,
		"success":        successCount,
		"failed":         total - successCount - skippedCount,
		"format":         format.String(),
	})

	if successCount == 0 {
		return "", fmt.Errorf("no tiles downloaded for %s (item may not cover this area)", scene.ItemID)
	}

	outputPath := tilesDir

	if format.SaveGeoTIFF {
		// Georeference in Web Mercator (EPSG:3857)
		originX, originY := tiles.ToWebMercator(bounds.MinX, bounds.MinY, zoom)
		endX, endY := tiles.ToWebMercator(bounds.MaxX+1, bounds.MaxY+1, zoom)
		pixelWidth := (endX - originX) / float64(outputWidth)
		pixelHeight := (originY - endY) / float64(outputHeight)

		tifPath := filepath.Join(d.exportPath, naming.GeoTIFFFilename(scene.ItemID, scene.Band, bbox.South, bbox.West, bbox.North, bbox.East, zoom))

		d.emitProgress(DownloadProgress{
			Downloaded: total,
			Total:      total,
			Percent:    99,
			Status:     "Encoding GeoTIFF file...",
		})
		d.emitLog("Encoding GeoTIFF file...")
		if err := d.saveGeoTIFF(outputImg, tifPath, originX, originY, pixelWidth, pixelHeight, scene); err != nil {
			return "", fmt.Errorf("failed to save GeoTIFF: %w", err)
		}

		d.emitLog(fmt.Sprintf("Saved: %s", tifPath))

		// PNG sidecar for viewers and timelapse assembly
		d.savePNGCopy(outputImg, tifPath)
		outputPath = tifPath
	}

	if format.SaveTiles {
		d.emitLog(fmt.Sprintf("Tiles saved to: %s", tilesDir))
	}

	d.emitProgress(DownloadProgress{
		Downloaded: total,
		Total:      total,
		Percent:    100,
		Status:     "Complete",
	})

	if len(errs) > 0 {
		return outputPath, fmt.Errorf("encountered %d errors during export, first: %w", len(errs), errs[0])
	}

	return outputPath, nil
}

// saveGeoTIFF writes the stitched raster with EPSG:3857 georeferencing
func (d *Downloader) saveGeoTIFF(img image.Image, outputPath string, originX, originY, pixelWidth, pixelHeight float64, scene Scene) error {
	if err := ValidateOutputPath(d.exportPath, outputPath); err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	opts := geotiff.Options{
		OriginX:     originX,
		OriginY:     originY,
		PixelScaleX: pixelWidth,
		PixelScaleY: pixelHeight,
		Description: fmt.Sprintf("%s %s", scene.ItemID, scene.Band),
		Date:        scene.Date,
	}
	if err := geotiff.EncodeWebMercator(f, img, opts); err != nil {
		return fmt.Errorf("failed to encode GeoTIFF: %w", err)
	}

	return nil
}

// savePNGCopy saves a PNG copy of an image alongside its GeoTIFF.
// GeoTIFF files with custom geo tags may not decode with standard
// image viewers, so the sidecar is what previews and animations read.
func (d *Downloader) savePNGCopy(img image.Image, tifPath string) {
	pngPath := strings.TrimSuffix(tifPath, ".tif") + ".png"
	pngFile, err := os.Create(pngPath)
	if err != nil {
		log.Printf("Failed to create PNG file: %v", err)
		return
	}
	defer pngFile.Close()

	if err := png.Encode(pngFile, img); err != nil {
		log.Printf("Failed to encode PNG: %v", err)
		return
	}
	d.emitLog(fmt.Sprintf("Saved PNG copy: %s", filepath.Base(pngPath)))
}
