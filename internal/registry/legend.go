package registry

import (
	"fmt"
	"strconv"
)

// ColorStop is one point of a legend gradient, position in [0, 1]
type ColorStop struct {
	Position float64 `json:"position"`
	Color    string  `json:"color"`
}

// Legend is the resolved display legend for a band, with any dynamic
// rescale override reflected in the min/max labels
type Legend struct {
	Title    string        `json:"title"`
	Units    string        `json:"units,omitempty"`
	MinLabel string        `json:"minLabel,omitempty"`
	MaxLabel string        `json:"maxLabel,omitempty"`
	Gradient []ColorStop   `json:"gradient,omitempty"`
	Classes  []LegendClass `json:"classes,omitempty"`
}

// colormapGradients approximates the TiTiler colormap names used by the
// builtin bands as display gradients. Unknown names fall back to gray.
var colormapGradients = map[string][]ColorStop{
	"viridis": {
		{Position: 0, Color: "#440154"},
		{Position: 0.25, Color: "#3b528b"},
		{Position: 0.5, Color: "#21918c"},
		{Position: 0.75, Color: "#5ec962"},
		{Position: 1, Color: "#fde725"},
	},
	"rdylgn": {
		{Position: 0, Color: "#a50026"},
		{Position: 0.25, Color: "#f46d43"},
		{Position: 0.5, Color: "#ffffbf"},
		{Position: 0.75, Color: "#66bd63"},
		{Position: 1, Color: "#006837"},
	},
	"rdbu": {
		{Position: 0, Color: "#67001f"},
		{Position: 0.25, Color: "#d6604d"},
		{Position: 0.5, Color: "#f7f7f7"},
		{Position: 0.75, Color: "#4393c3"},
		{Position: 1, Color: "#053061"},
	},
	"magma": {
		{Position: 0, Color: "#000004"},
		{Position: 0.25, Color: "#51127c"},
		{Position: 0.5, Color: "#b73779"},
		{Position: 0.75, Color: "#fc8961"},
		{Position: 1, Color: "#fcfdbf"},
	},
	"terrain": {
		{Position: 0, Color: "#333399"},
		{Position: 0.15, Color: "#0099ff"},
		{Position: 0.25, Color: "#00cc66"},
		{Position: 0.5, Color: "#ffff99"},
		{Position: 0.75, Color: "#805c54"},
		{Position: 1, Color: "#ffffff"},
	},
	"gray": {
		{Position: 0, Color: "#000000"},
		{Position: 1, Color: "#ffffff"},
	},
}

// Legend resolves the display legend for a band. Discrete classification
// bands return their classes; continuous bands return a gradient with
// min/max labels derived from the effective rescale range.
func (r *Registry) Legend(collectionID, bandID string, override *RescaleOverride) (*Legend, error) {
	collection, err := r.Get(collectionID)
	if err != nil {
		return nil, err
	}
	band, err := collection.Band(bandID)
	if err != nil {
		return nil, err
	}

	legend := &Legend{Title: band.Legend.Title, Units: band.Legend.Units}

	if len(band.Legend.Classes) > 0 {
		legend.Classes = band.Legend.Classes
		return legend, nil
	}

	rescale := band.Rescale
	overridden := false
	if override != nil {
		if !band.RescaleAdjustable {
			return nil, fmt.Errorf("band %s/%s does not accept rescale overrides", collectionID, bandID)
		}
		if override.Min >= override.Max {
			return nil, fmt.Errorf("rescale override min %g must be less than max %g", override.Min, override.Max)
		}
		rescale = [2]float64{override.Min, override.Max}
		overridden = true
	}

	legend.MinLabel = band.Legend.MinLabel
	legend.MaxLabel = band.Legend.MaxLabel
	if rescale[0] != 0 || rescale[1] != 0 {
		if overridden || legend.MinLabel == "" {
			legend.MinLabel = formatLegendValue(rescale[0])
		}
		if overridden || legend.MaxLabel == "" {
			legend.MaxLabel = formatLegendValue(rescale[1])
		}
	}

	if band.Colormap != "" {
		stops, ok := colormapGradients[band.Colormap]
		if !ok {
			stops = colormapGradients["gray"]
		}
		legend.Gradient = stops
	}

	return legend, nil
}

func formatLegendValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
