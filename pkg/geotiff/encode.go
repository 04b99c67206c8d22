// Package geotiff writes uncompressed RGBA GeoTIFFs with the tags GIS
// tools need to place the raster in EPSG:3857 (Web Mercator).
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"sort"
)

// TIFF field types
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeDouble   = 12
)

// TIFF and GeoTIFF tag IDs. Exported so callers can attach extras
// through Encode.
const (
	TagImageWidth        uint16 = 256
	TagImageLength       uint16 = 257
	TagBitsPerSample     uint16 = 258
	TagCompression       uint16 = 259
	TagPhotometric       uint16 = 262
	TagImageDescription  uint16 = 270
	TagStripOffsets      uint16 = 273
	TagSamplesPerPixel   uint16 = 277
	TagRowsPerStrip      uint16 = 278
	TagStripByteCounts   uint16 = 279
	TagXResolution       uint16 = 282
	TagYResolution       uint16 = 283
	TagResolutionUnit    uint16 = 296
	TagDateTime          uint16 = 306
	TagExtraSamples      uint16 = 338
	TagModelPixelScale   uint16 = 33550
	TagModelTiepoint     uint16 = 33922
	TagGeoKeyDirectory   uint16 = 34735
	TagGeoDoubleParams   uint16 = 34736
	TagGeoASCIIParams    uint16 = 34737
)

var enc = binary.LittleEndian

// Options describes how a raster is georeferenced. Coordinates are
// EPSG:3857 meters; the origin anchors the outer corner of pixel (0,0).
type Options struct {
	OriginX     float64
	OriginY     float64
	PixelScaleX float64 // meters per pixel, east
	PixelScaleY float64 // meters per pixel, south (sign is ignored)

	// Optional metadata strings. Description typically names the item
	// and band; Date is the acquisition date.
	Description string
	Date        string
}

// EncodeWebMercator writes img to w as a GeoTIFF georeferenced to
// EPSG:3857 using the supplied options.
func EncodeWebMercator(w io.Writer, img image.Image, opts Options) error {
	// GeoKeyDirectory: version 1.1.0, four keys.
	// GTModelType projected, GTRasterType pixel-is-area,
	// ProjectedCSType EPSG:3857, ProjLinearUnits meter.
	tags := map[uint16]interface{}{
		TagGeoKeyDirectory: []uint16{
			1, 1, 0, 4,
			1024, 0, 1, 1,
			1025, 0, 1, 1,
			3072, 0, 1, 3857,
			3076, 0, 1, 9001,
		},
		TagModelPixelScale: []float64{opts.PixelScaleX, math.Abs(opts.PixelScaleY), 0},
		TagModelTiepoint:   []float64{0, 0, 0, opts.OriginX, opts.OriginY, 0},
	}
	if opts.Description != "" {
		tags[TagImageDescription] = opts.Description
	}
	if opts.Date != "" {
		tags[TagDateTime] = opts.Date
	}
	return Encode(w, img, tags)
}

// Encode writes img to w as a single-strip uncompressed RGBA TIFF.
// extraTags maps tag ID to value; supported value types are []uint16
// (SHORT), []float64 (DOUBLE) and string (ASCII).
func Encode(w io.Writer, img image.Image, extraTags map[uint16]interface{}) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return fmt.Errorf("empty image")
	}

	pixels := packPixels(img)

	entries := []ifdEntry{
		{TagImageWidth, typeLong, 1, enc32(uint32(width))},
		{TagImageLength, typeLong, 1, enc32(uint32(height))},
		{TagBitsPerSample, typeShort, 4, enc16s([]uint16{8, 8, 8, 8})},
		{TagCompression, typeShort, 1, enc16(1)},  // none
		{TagPhotometric, typeShort, 1, enc16(2)},  // RGB
		{TagSamplesPerPixel, typeShort, 1, enc16(4)},
		{TagRowsPerStrip, typeLong, 1, enc32(uint32(height))},
		{TagXResolution, typeRational, 1, encRational(72, 1)},
		{TagYResolution, typeRational, 1, encRational(72, 1)},
		{TagResolutionUnit, typeShort, 1, enc16(2)}, // inch
		{TagExtraSamples, typeShort, 1, enc16(2)},   // unassociated alpha
		// Offsets are fixed up once the IFD layout is known
		{TagStripOffsets, typeLong, 1, make([]byte, 4)},
		{TagStripByteCounts, typeLong, 1, enc32(uint32(len(pixels)))},
	}

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			entries = append(entries, ifdEntry{tag, typeShort, uint32(len(v)), enc16s(v)})
		case []float64:
			entries = append(entries, ifdEntry{tag, typeDouble, uint32(len(v)), encDoubles(v)})
		case string:
			b := append([]byte(v), 0) // ASCII values are NUL terminated
			entries = append(entries, ifdEntry{tag, typeASCII, uint32(len(b)), b})
		default:
			return fmt.Errorf("unsupported value type %T for tag %d", val, tag)
		}
	}

	// Entries must appear in ascending tag order
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: 8-byte header, IFD, overflow values, pixel strip.
	// Values longer than 4 bytes move to the overflow area and the
	// entry holds their offset instead.
	ifdSize := 2 + 12*len(entries) + 4
	overflowStart := 8 + ifdSize

	var overflow bytes.Buffer
	for i := range entries {
		if len(entries[i].value) > 4 {
			offset := uint32(overflowStart + overflow.Len())
			overflow.Write(entries[i].value)
			entries[i].value = enc32(offset)
		}
	}

	pixelsOffset := uint32(overflowStart + overflow.Len())
	for i := range entries {
		if entries[i].tag == TagStripOffsets {
			entries[i].value = enc32(pixelsOffset)
		}
	}

	// Header: little endian magic, version 42, IFD at offset 8
	if _, err := w.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}); err != nil {
		return err
	}

	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, enc, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.typ); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.count); err != nil {
			return err
		}
		var val [4]byte
		copy(val[:], e.value) // short values sit left-aligned in the field
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}
	// No further IFDs
	if err := binary.Write(w, enc, uint32(0)); err != nil {
		return err
	}

	if _, err := overflow.WriteTo(w); err != nil {
		return err
	}
	if _, err := w.Write(pixels); err != nil {
		return err
	}

	return nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// packPixels returns the image as tightly packed 8-bit RGBA rows
func packPixels(img image.Image) []byte {
	bounds := img.Bounds()

	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(bounds)
		draw.Draw(nrgba, bounds, img, bounds.Min, draw.Src)
	}

	rowLen := bounds.Dx() * 4
	if nrgba.Stride == rowLen && len(nrgba.Pix) == rowLen*bounds.Dy() {
		return nrgba.Pix
	}

	out := make([]byte, 0, rowLen*bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+rowLen]
		out = append(out, row...)
	}
	return out
}

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}
