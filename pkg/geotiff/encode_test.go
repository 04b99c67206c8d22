package geotiff

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

type rawTag struct {
	typ   uint16
	count uint32
	value [4]byte
}

// parseTags reads the first IFD of a little-endian TIFF, asserting
// ascending tag order along the way
func parseTags(t *testing.T, data []byte) map[uint16]rawTag {
	t.Helper()
	le := binary.LittleEndian

	require.Greater(t, len(data), 8)
	require.Equal(t, []byte{'I', 'I'}, data[0:2])
	require.Equal(t, uint16(42), le.Uint16(data[2:4]))

	offset := le.Uint32(data[4:8])
	count := int(le.Uint16(data[offset : offset+2]))

	tags := make(map[uint16]rawTag, count)
	pos := int(offset) + 2
	last := -1
	for i := 0; i < count; i++ {
		tag := le.Uint16(data[pos:])
		require.Greater(t, int(tag), last, "IFD entries must ascend by tag")
		last = int(tag)

		var value [4]byte
		copy(value[:], data[pos+8:pos+12])
		tags[tag] = rawTag{
			typ:   le.Uint16(data[pos+2:]),
			count: le.Uint32(data[pos+4:]),
			value: value,
		}
		pos += 12
	}
	return tags
}

// tagDoubles follows a DOUBLE tag's offset into the overflow area
func tagDoubles(t *testing.T, data []byte, tags map[uint16]rawTag, id uint16) []float64 {
	t.Helper()
	le := binary.LittleEndian

	tag, ok := tags[id]
	require.True(t, ok, "tag %d missing", id)
	require.Equal(t, uint16(typeDouble), tag.typ)

	offset := le.Uint32(tag.value[:])
	out := make([]float64, tag.count)
	for i := range out {
		out[i] = math.Float64frombits(le.Uint64(data[int(offset)+i*8:]))
	}
	return out
}

// tagShorts reads a SHORT tag's values, inline or from the overflow area
func tagShorts(t *testing.T, data []byte, tags map[uint16]rawTag, id uint16) []uint16 {
	t.Helper()
	le := binary.LittleEndian

	tag, ok := tags[id]
	require.True(t, ok, "tag %d missing", id)
	require.Equal(t, uint16(typeShort), tag.typ)

	out := make([]uint16, tag.count)
	if tag.count <= 2 {
		for i := range out {
			out[i] = le.Uint16(tag.value[i*2:])
		}
		return out
	}
	offset := le.Uint32(tag.value[:])
	for i := range out {
		out[i] = le.Uint16(data[int(offset)+i*2:])
	}
	return out
}

func tagString(t *testing.T, data []byte, tags map[uint16]rawTag, id uint16) string {
	t.Helper()
	le := binary.LittleEndian

	tag, ok := tags[id]
	require.True(t, ok, "tag %d missing", id)
	require.Equal(t, uint16(typeASCII), tag.typ)

	var raw []byte
	if tag.count <= 4 {
		raw = tag.value[:tag.count]
	} else {
		offset := le.Uint32(tag.value[:])
		raw = data[offset : offset+tag.count]
	}
	require.Equal(t, byte(0), raw[len(raw)-1], "ASCII values are NUL terminated")
	return string(raw[:len(raw)-1])
}

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})
	img.SetNRGBA(2, 0, color.NRGBA{B: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	img.SetNRGBA(2, 1, color.NRGBA{})
	return img
}

func TestEncodePixelsSurviveDecode(t *testing.T) {
	src := testImage()

	var buf bytes.Buffer
	require.NoError(t, EncodeWebMercator(&buf, src, Options{
		OriginX:     261848.0,
		OriginY:     6250566.0,
		PixelScaleX: 9.554,
		PixelScaleY: 9.554,
	}))

	decoded, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), decoded.Bounds())

	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			want := src.NRGBAAt(x, y)
			got := color.NRGBAModel.Convert(decoded.At(x, y)).(color.NRGBA)
			assert.Equal(t, want, got, "pixel %d,%d", x, y)
		}
	}
}

func TestEncodeWritesWebMercatorTags(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeWebMercator(&buf, testImage(), Options{
		OriginX:     244000.5,
		OriginY:     6262000.25,
		PixelScaleX: 19.109,
		PixelScaleY: -19.109, // sign must not leak into the scale tag
		Description: "S2A_T31UDQ_20240601 visual",
		Date:        "2024-06-01",
	}))

	data := buf.Bytes()
	tags := parseTags(t, data)

	tiepoint := tagDoubles(t, data, tags, TagModelTiepoint)
	assert.Equal(t, []float64{0, 0, 0, 244000.5, 6262000.25, 0}, tiepoint)

	scale := tagDoubles(t, data, tags, TagModelPixelScale)
	assert.Equal(t, []float64{19.109, 19.109, 0}, scale)

	keys := tagShorts(t, data, tags, TagGeoKeyDirectory)
	require.Len(t, keys, 20)
	assert.Equal(t, []uint16{1, 1, 0, 4}, keys[:4])
	assert.Equal(t, []uint16{3072, 0, 1, 3857}, keys[12:16], "projected CRS key")
	assert.Equal(t, []uint16{3076, 0, 1, 9001}, keys[16:20], "linear unit key")

	assert.Equal(t, "S2A_T31UDQ_20240601 visual", tagString(t, data, tags, TagImageDescription))
	assert.Equal(t, "2024-06-01", tagString(t, data, tags, TagDateTime))
}

func TestEncodeStripLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeWebMercator(&buf, testImage(), Options{PixelScaleX: 1, PixelScaleY: 1}))

	data := buf.Bytes()
	le := binary.LittleEndian
	tags := parseTags(t, data)

	widthTag := tags[TagImageWidth]
	assert.Equal(t, uint32(3), le.Uint32(widthTag.value[:]))
	lengthTag := tags[TagImageLength]
	assert.Equal(t, uint32(2), le.Uint32(lengthTag.value[:]))

	byteCountTag := tags[TagStripByteCounts]
	byteCount := le.Uint32(byteCountTag.value[:])
	assert.Equal(t, uint32(3*2*4), byteCount)

	offsetsTag := tags[TagStripOffsets]
	stripOffset := le.Uint32(offsetsTag.value[:])
	assert.Equal(t, int(stripOffset)+int(byteCount), len(data), "pixel strip ends the file")

	// First pixel is pure red in RGBA order
	assert.Equal(t, []byte{255, 0, 0, 255}, data[stripOffset:stripOffset+4])
}

func TestEncodeConvertsNonNRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(1, 0, color.RGBA{G: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src, nil))

	decoded, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	got := color.NRGBAModel.Convert(decoded.At(0, 0)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, got)
}

func TestEncodeRejectsBadInput(t *testing.T) {
	var buf bytes.Buffer

	err := Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 0, 0)), nil)
	assert.ErrorContains(t, err, "empty image")

	err = Encode(&buf, testImage(), map[uint16]interface{}{40000: 3.14})
	assert.ErrorContains(t, err, "unsupported value type")
}
