// Package timelapse assembles time series export frames into animated
// GIFs with per-frame date captions.
package timelapse

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/tiff" // frames may only exist as GeoTIFFs

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/utils/naming"
)

// Frame is one source image in the animation
type Frame struct {
	Path string `json:"path"` // stitched raster from a scene export (.tif or .png)
	Date string `json:"date"` // acquisition date (YYYY-MM-DD)
}

// Request describes a timelapse assembly job
type Request struct {
	CollectionID string             `json:"collectionId"`
	Band         string             `json:"band"`
	BBox         common.BoundingBox `json:"bbox"`
	Zoom         int                `json:"zoom"`
	Frames       []Frame            `json:"frames"`
}

// Options contains all options for GIF assembly
type Options struct {
	MaxDimension int     `json:"maxDimension"` // longest output side in pixels; 0 keeps source size
	FrameDelay   float64 `json:"frameDelay"`   // seconds each frame is shown
	LoopCount    int     `json:"loopCount"`    // 0 loops forever
	ShowDates    bool    `json:"showDates"`
	FontSize     float64 `json:"fontSize"`
	DatePosition string  `json:"datePosition"` // "top-left", "top-right", "bottom-left", "bottom-right", "center"
	FontData     []byte  `json:"-"`            // optional TTF/OTF bytes for captions
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		MaxDimension: 1080,
		FrameDelay:   0.5,
		LoopCount:    0,
		ShowDates:    true,
		FontSize:     36,
		DatePosition: "bottom-right",
	}
}

// ProgressCallback is called during assembly to report progress
type ProgressCallback func(current, total, percent int, status string)

// Assembler renders frames and encodes the animation
type Assembler struct {
	opts             Options
	face             font.Face
	progressCallback ProgressCallback
	logCallback      func(string)
}

// NewAssembler creates an assembler. When caption rendering is enabled
// and no usable font data is supplied, captions fall back to the fixed
// 7x13 bitmap face.
func NewAssembler(opts Options, progressCallback ProgressCallback, logCallback func(string)) *Assembler {
	a := &Assembler{
		opts:             opts,
		progressCallback: progressCallback,
		logCallback:      logCallback,
	}
	if opts.ShowDates {
		a.face = loadFace(opts)
	}
	return a
}

func loadFace(opts Options) font.Face {
	if len(opts.FontData) > 0 {
		f, err := opentype.Parse(opts.FontData)
		if err != nil {
			log.Printf("[Timelapse] Failed to parse caption font: %v", err)
			return basicfont.Face7x13
		}
		size := opts.FontSize
		if size <= 0 {
			size = DefaultOptions().FontSize
		}
		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			log.Printf("[Timelapse] Failed to create caption font face: %v", err)
			return basicfont.Face7x13
		}
		return face
	}
	return basicfont.Face7x13
}

// emitLog sends a log message via callback if available
func (a *Assembler) emitLog(message string) {
	if a.logCallback != nil {
		a.logCallback(message)
	} else {
		log.Println(message)
	}
}

// emitProgress sends a progress update via callback if available
func (a *Assembler) emitProgress(current, total, percent int, status string) {
	if a.progressCallback != nil {
		a.progressCallback(current, total, percent, status)
	}
}

// Assemble renders every frame and writes the animated GIF under
// outputDir. Frames that cannot be loaded are logged and skipped.
// It returns the output path.
func (a *Assembler) Assemble(req Request, outputDir string) (string, error) {
	if len(req.Frames) == 0 {
		return "", fmt.Errorf("no frames to assemble")
	}

	ordered := make([]Frame, len(req.Frames))
	copy(ordered, req.Frames)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Date < ordered[j].Date
	})

	a.emitLog(fmt.Sprintf("Assembling timelapse from %d frames", len(ordered)))

	// GIF delays are in 100ths of a second
	delay := int(a.opts.FrameDelay * 100)
	if delay < 1 {
		delay = 1
	}

	images := make([]*image.Paletted, 0, len(ordered))
	delays := make([]int, 0, len(ordered))
	var canvasW, canvasH int

	for i, frame := range ordered {
		a.emitProgress(i, len(ordered), (i*100)/len(ordered),
			fmt.Sprintf("Processing frame %d/%d: %s", i+1, len(ordered), frame.Date))

		src, err := a.loadFrame(frame.Path)
		if err != nil {
			a.emitLog(fmt.Sprintf("Skipping frame %s: %v", frame.Date, err))
			continue
		}

		rendered := a.renderFrame(src, frame.Date, canvasW, canvasH)
		if canvasW == 0 {
			canvasW = rendered.Bounds().Dx()
			canvasH = rendered.Bounds().Dy()
		}

		paletted := image.NewPaletted(rendered.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, rendered.Bounds(), rendered, image.Point{})

		images = append(images, paletted)
		delays = append(delays, delay)
	}

	if len(images) == 0 {
		return "", fmt.Errorf("no frames could be loaded")
	}

	name := naming.TimelapseFilename(req.CollectionID, req.Band,
		req.BBox.South, req.BBox.West, req.BBox.North, req.BBox.East, req.Zoom, len(images))
	outputPath := filepath.Join(outputDir, name)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	a.emitProgress(len(images), len(images), 99, "Encoding GIF...")

	f, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	err = gif.EncodeAll(f, &gif.GIF{
		Image:     images,
		Delay:     delays,
		LoopCount: a.opts.LoopCount,
		Config: image.Config{
			Width:  canvasW,
			Height: canvasH,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode GIF: %w", err)
	}

	a.emitLog(fmt.Sprintf("Timelapse exported: %s (%d frames)", outputPath, len(images)))
	a.emitProgress(len(images), len(images), 100, fmt.Sprintf("Complete: %s", filepath.Base(outputPath)))

	return outputPath, nil
}

// loadFrame opens a frame image, preferring the PNG sidecar when the
// path points at a GeoTIFF. The sidecar decodes faster and viewers of
// intermediate files keep working even if it was deleted, since the
// registered TIFF decoder reads the raster itself.
func (a *Assembler) loadFrame(path string) (image.Image, error) {
	if strings.HasSuffix(path, ".tif") {
		sidecar := strings.TrimSuffix(path, ".tif") + ".png"
		if _, err := os.Stat(sidecar); err == nil {
			path = sidecar
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// renderFrame composites a frame onto an opaque canvas, downscales it
// to the target size and draws the date caption. A zero target size
// derives the canvas from the source and MaxDimension.
func (a *Assembler) renderFrame(src image.Image, date string, targetW, targetH int) *image.RGBA {
	b := src.Bounds()
	w, h := targetW, targetH
	if w == 0 || h == 0 {
		w, h = b.Dx(), b.Dy()
		longest := w
		if h > longest {
			longest = h
		}
		if a.opts.MaxDimension > 0 && longest > a.opts.MaxDimension {
			scale := float64(a.opts.MaxDimension) / float64(longest)
			w = int(float64(w) * scale)
			h = int(float64(h) * scale)
			if w < 1 {
				w = 1
			}
			if h < 1 {
				h = 1
			}
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))

	// Regions outside item coverage are transparent in the export;
	// give them a solid background so dithering stays stable.
	draw.Draw(out, out.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	if w == b.Dx() && h == b.Dy() {
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Over)
	} else {
		xdraw.CatmullRom.Scale(out, out.Bounds(), src, b, xdraw.Over, nil)
	}

	a.drawDateCaption(out, date)
	return out
}

// drawDateCaption draws the acquisition date onto the frame
func (a *Assembler) drawDateCaption(dst *image.RGBA, date string) {
	if a.face == nil || date == "" {
		return
	}

	caption := date
	if parsed, err := common.ParseISO8601(date); err == nil {
		caption = common.FormatTimelapseOverlay(parsed)
	}

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: a.face,
	}

	bounds, _ := drawer.BoundString(caption)
	textWidth := (bounds.Max.X - bounds.Min.X).Ceil()
	textHeight := (bounds.Max.Y - bounds.Min.Y).Ceil()

	width := dst.Bounds().Dx()
	height := dst.Bounds().Dy()
	padding := 16

	var x, y int
	switch a.opts.DatePosition {
	case "top-left":
		x = padding
		y = padding + textHeight
	case "top-right":
		x = width - textWidth - padding
		y = padding + textHeight
	case "bottom-left":
		x = padding
		y = height - padding
	case "center":
		x = (width - textWidth) / 2
		y = (height + textHeight) / 2
	default: // bottom-right
		x = width - textWidth - padding
		y = height - padding
	}

	shadow := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{0, 0, 0, 180}),
		Face: a.face,
		Dot:  fixed.P(x+2, y+2),
	}
	shadow.DrawString(caption)

	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(caption)
}

// Close releases the caption font face
func (a *Assembler) Close() error {
	if a.face != nil {
		return a.face.Close()
	}
	return nil
}
