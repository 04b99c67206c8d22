package tiles

import (
	"fmt"
	"math"
)

// Tile represents a Web Mercator map tile in the slippy XYZ scheme (EPSG:3857)
type Tile struct {
	Z int
	X int // Column from west
	Y int // Row from top (north)
}

const (
	MinZoom = 0
	MaxZoom = 23

	// Web Mercator constants
	Equator    = 40075016.685578 // Earth's equator in meters
	EpsgNumber = 3857

	// Latitude limits of the Web Mercator projection
	MinLat = -85.051129
	MaxLat = 85.051129

	MinLon = -180.0
	MaxLon = 180.0

	// TileSize is the standard tile edge in pixels
	TileSize = 256
)

// WebMercator represents coordinates in Web Mercator projection
type WebMercator struct {
	X float64 // meters east
	Y float64 // meters north
}

// Wgs84 represents WGS84 lat/lon coordinates
type Wgs84 struct {
	Lat float64
	Lon float64
}

// New creates a tile, validating zoom and grid position
func New(z, x, y int) (Tile, error) {
	if z < MinZoom || z > MaxZoom {
		return Tile{}, fmt.Errorf("zoom %d out of range [%d, %d]", z, MinZoom, MaxZoom)
	}
	size := 1 << z
	if x < 0 || x >= size {
		return Tile{}, fmt.Errorf("x %d out of range [0, %d] for zoom %d", x, size-1, z)
	}
	if y < 0 || y >= size {
		return Tile{}, fmt.Errorf("y %d out of range [0, %d] for zoom %d", y, size-1, z)
	}
	return Tile{Z: z, X: x, Y: y}, nil
}

// toCoordinate converts a fractional grid position to Web Mercator
func (t Tile) toCoordinate(x, y float64) WebMercator {
	n := float64(int(1) << t.Z)
	return WebMercator{
		X: (x/n - 0.5) * Equator,
		Y: (0.5 - y/n) * Equator,
	}
}

// Center returns the tile center in WGS84
func (t Tile) Center() Wgs84 {
	return t.toCoordinate(float64(t.X)+0.5, float64(t.Y)+0.5).ToWgs84()
}

// MercatorBounds returns the bounding box in Web Mercator (minX, minY, maxX, maxY)
func (t Tile) MercatorBounds() (minX, minY, maxX, maxY float64) {
	ll := t.toCoordinate(float64(t.X), float64(t.Y+1)) // lower-left
	ur := t.toCoordinate(float64(t.X+1), float64(t.Y)) // upper-right
	return ll.X, ll.Y, ur.X, ur.Y
}

// Bounds returns the geographic bounding box (south, west, north, east)
func (t Tile) Bounds() (south, west, north, east float64) {
	minX, minY, maxX, maxY := t.MercatorBounds()
	sw := WebMercator{X: minX, Y: minY}.ToWgs84()
	ne := WebMercator{X: maxX, Y: maxY}.ToWgs84()
	return sw.Lat, sw.Lon, ne.Lat, ne.Lon
}

// ToWgs84 converts Web Mercator to WGS84
func (m WebMercator) ToWgs84() Wgs84 {
	lon := m.X / Equator * 360.0
	lat := math.Atan(math.Sinh(m.Y/Equator*2*math.Pi)) * 180.0 / math.Pi
	return Wgs84{Lat: lat, Lon: lon}
}

// ToWebMercator converts WGS84 to Web Mercator
// Latitude is clamped to the projection's valid range to avoid infinity at the poles
func (w Wgs84) ToWebMercator() WebMercator {
	lat := w.Lat
	if lat > MaxLat {
		lat = MaxLat
	} else if lat < MinLat {
		lat = MinLat
	}
	x := w.Lon / 360.0 * Equator
	latRad := lat * math.Pi / 180.0
	y := math.Log(math.Tan(math.Pi/4+latRad/2)) / (2 * math.Pi) * Equator
	return WebMercator{X: x, Y: y}
}

// ForCoord returns the tile containing a Web Mercator coordinate at a given zoom
func ForCoord(coord WebMercator, zoom int) (Tile, error) {
	size := 1 << zoom
	x := int((0.5 + coord.X/Equator) * float64(size))
	y := int((0.5 - coord.Y/Equator) * float64(size))

	// Clamp to valid range
	x = clamp(x, 0, size-1)
	y = clamp(y, 0, size-1)

	return New(zoom, x, y)
}

// ForWgs84 returns the tile containing a WGS84 coordinate at a given zoom
func ForWgs84(lat, lon float64, zoom int) (Tile, error) {
	return ForCoord(Wgs84{Lat: lat, Lon: lon}.ToWebMercator(), zoom)
}

// InBounds returns all tiles within a WGS84 bounding box at a given zoom
func InBounds(south, west, north, east float64, zoom int) ([]Tile, error) {
	minX, minY, maxX, maxY, err := gridRange(south, west, north, east, zoom)
	if err != nil {
		return nil, err
	}

	var out []Tile
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tile, err := New(zoom, x, y)
			if err != nil {
				return nil, err
			}
			out = append(out, tile)
		}
	}
	return out, nil
}

// CountInBounds returns how many tiles a bounding box covers at a given zoom
// without materializing them
func CountInBounds(south, west, north, east float64, zoom int) (int, error) {
	minX, minY, maxX, maxY, err := gridRange(south, west, north, east, zoom)
	if err != nil {
		return 0, err
	}
	return (maxX - minX + 1) * (maxY - minY + 1), nil
}

func gridRange(south, west, north, east float64, zoom int) (minX, minY, maxX, maxY int, err error) {
	if zoom < MinZoom || zoom > MaxZoom {
		return 0, 0, 0, 0, fmt.Errorf("zoom %d out of range [%d, %d]", zoom, MinZoom, MaxZoom)
	}

	sw := Wgs84{Lat: south, Lon: west}.ToWebMercator()
	ne := Wgs84{Lat: north, Lon: east}.ToWebMercator()

	size := 1 << zoom

	minX = int((0.5 + sw.X/Equator) * float64(size))
	maxX = int((0.5 + ne.X/Equator) * float64(size))
	maxY = int((0.5 - sw.Y/Equator) * float64(size)) // south = larger y
	minY = int((0.5 - ne.Y/Equator) * float64(size)) // north = smaller y

	// Clamp to valid range
	minX = clamp(minX, 0, size-1)
	maxX = clamp(maxX, 0, size-1)
	minY = clamp(minY, 0, size-1)
	maxY = clamp(maxY, 0, size-1)

	return minX, minY, maxX, maxY, nil
}

// ResolutionAtZoom returns approximate meters per pixel at a given zoom level
func ResolutionAtZoom(zoom int) float64 {
	// At zoom 0, the entire world (Equator meters) fits in 256 pixels
	return Equator / float64(int(TileSize)<<zoom)
}

// ToWebMercator converts a tile position at a zoom level to Web Mercator coordinates
// Returns the top-left corner of the tile
func ToWebMercator(x, y, zoom int) (mx, my float64) {
	n := float64(int(1) << zoom)
	mx = (float64(x)/n - 0.5) * Equator
	my = (0.5 - float64(y)/n) * Equator
	return mx, my
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
