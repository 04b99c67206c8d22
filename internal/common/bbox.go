package common

import "fmt"

// BoundingBox represents a geographic bounding box in WGS84 degrees
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Validate checks that the box is well formed and within range
func (b BoundingBox) Validate() error {
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("latitude out of range: south=%f north=%f", b.South, b.North)
	}
	if b.West < -180 || b.East > 180 {
		return fmt.Errorf("longitude out of range: west=%f east=%f", b.West, b.East)
	}
	if b.South >= b.North {
		return fmt.Errorf("south %f must be below north %f", b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("west %f must be left of east %f", b.West, b.East)
	}
	return nil
}

// Center returns the midpoint of the box
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.South + b.North) / 2, (b.West + b.East) / 2
}

// AsSlice returns the box in STAC order: west, south, east, north
func (b BoundingBox) AsSlice() [4]float64 {
	return [4]float64{b.West, b.South, b.East, b.North}
}
