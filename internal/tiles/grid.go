package tiles

import "fmt"

// GridBounds represents the min/max x and y extent of a tile set
type GridBounds struct {
	MinX int
	MaxX int
	MinY int
	MaxY int
}

// Cols returns the number of columns in the bounds
func (g GridBounds) Cols() int {
	return g.MaxX - g.MinX + 1
}

// Rows returns the number of rows in the bounds
func (g GridBounds) Rows() int {
	return g.MaxY - g.MinY + 1
}

// Grid calculates the min/max extent from a slice of tiles
func Grid(ts []Tile) (GridBounds, error) {
	if len(ts) == 0 {
		return GridBounds{}, fmt.Errorf("no tiles provided")
	}

	bounds := GridBounds{
		MinX: ts[0].X,
		MaxX: ts[0].X,
		MinY: ts[0].Y,
		MaxY: ts[0].Y,
	}

	for _, t := range ts[1:] {
		if t.X < bounds.MinX {
			bounds.MinX = t.X
		}
		if t.X > bounds.MaxX {
			bounds.MaxX = t.X
		}
		if t.Y < bounds.MinY {
			bounds.MinY = t.Y
		}
		if t.Y > bounds.MaxY {
			bounds.MaxY = t.Y
		}
	}

	return bounds, nil
}
