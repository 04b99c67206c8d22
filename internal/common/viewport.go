package common

// Viewport is a map camera position shared between saved settings and
// workspace state.
type Viewport struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zoom float64 `json:"zoom"`
}
