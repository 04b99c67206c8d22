package naming

import (
	"fmt"
	"math"
	"strings"
)

// Quadkey generates a quadkey string for the tile covering the center
// of a bbox at the given zoom. Exports use it as a short location code
// in filenames.
func Quadkey(south, west, north, east float64, zoom int) string {
	centerLat := (south + north) / 2
	centerLon := (west + east) / 2

	n := math.Pow(2, float64(zoom))
	x := int((centerLon + 180.0) / 360.0 * n)
	y := int((1.0 - math.Log(math.Tan(centerLat*math.Pi/180.0)+1.0/math.Cos(centerLat*math.Pi/180.0))/math.Pi) / 2.0 * n)

	var quadkey strings.Builder
	for i := zoom; i > 0; i-- {
		digit := 0
		mask := 1 << (i - 1)
		if (x & mask) != 0 {
			digit++
		}
		if (y & mask) != 0 {
			digit += 2
		}
		quadkey.WriteByte(byte('0' + digit))
	}
	return quadkey.String()
}

// SanitizeCoordinate formats a coordinate for use in filenames (removes
// minus sign, uses N/S/E/W and 'p' for the decimal point so names stay
// valid on Windows)
func SanitizeCoordinate(coord float64, isLat bool) string {
	dir := "E"
	if isLat {
		if coord < 0 {
			dir = "S"
		} else {
			dir = "N"
		}
	} else {
		if coord < 0 {
			dir = "W"
		}
	}
	coordStr := fmt.Sprintf("%.4f", math.Abs(coord))
	coordStr = strings.Replace(coordStr, ".", "p", 1)
	return coordStr + dir
}

// BBoxString renders a bbox compactly for filenames
func BBoxString(south, west, north, east float64) string {
	return fmt.Sprintf("%s-%s_%s-%s",
		SanitizeCoordinate(south, true),
		SanitizeCoordinate(north, true),
		SanitizeCoordinate(west, false),
		SanitizeCoordinate(east, false))
}
