package registry

// builtinCollections is the static collection/band table the explorer ships with.
// Asset names follow the Earth Search v1 catalog.
func builtinCollections() []*Collection {
	return []*Collection{
		{
			ID:              "sentinel-2-l2a",
			Title:           "Sentinel-2 Level-2A",
			Description:     "Atmospherically corrected Sentinel-2 surface reflectance, 10-60m, 5-day revisit.",
			Attribution:     "Copernicus Sentinel data, processed by ESA / Element 84",
			DefaultBand:     "truecolor",
			DefaultMaxCloud: 20,
			MinZoom:         8,
			MaxZoom:         16,
			Capabilities:    FilterCapabilities{DateRange: true, CloudCover: true},
			Bands: []Band{
				{
					ID:     "truecolor",
					Label:  "True color",
					Assets: []string{"visual"},
					Legend: LegendSpec{Title: "Natural color (B04/B03/B02)"},
				},
				{
					ID:                "falsecolor",
					Label:             "False color (NIR)",
					Description:       "Vegetation appears red; useful for plant vigor and land/water boundaries.",
					Assets:            []string{"nir", "red", "green"},
					Rescale:           [2]float64{0, 5000},
					RescaleAdjustable: true,
					Legend:            LegendSpec{Title: "Color infrared (B08/B04/B03)"},
				},
				{
					ID:                "ndvi",
					Label:             "NDVI",
					Description:       "Normalized difference vegetation index.",
					Expression:        "(nir-red)/(nir+red)",
					Rescale:           [2]float64{-1, 1},
					RescaleAdjustable: true,
					Colormap:          "rdylgn",
					Legend:            LegendSpec{Title: "Vegetation index", Units: "NDVI"},
				},
				{
					ID:                "ndwi",
					Label:             "NDWI",
					Description:       "Normalized difference water index.",
					Expression:        "(green-nir)/(green+nir)",
					Rescale:           [2]float64{-1, 1},
					RescaleAdjustable: true,
					Colormap:          "rdbu",
					Legend:            LegendSpec{Title: "Water index", Units: "NDWI"},
				},
				{
					ID:                "swir",
					Label:             "SWIR composite",
					Description:       "Shortwave infrared composite; highlights burn scars and moisture.",
					Assets:            []string{"swir22", "nir", "red"},
					Rescale:           [2]float64{0, 5000},
					RescaleAdjustable: true,
					Legend:            LegendSpec{Title: "SWIR composite (B12/B08/B04)"},
				},
				{
					ID:     "scl",
					Label:  "Scene classification",
					Assets: []string{"scl"},
					ColormapJSON: map[string]string{
						"0":  "#000000",
						"1":  "#ff0000",
						"2":  "#2f2f2f",
						"3":  "#643200",
						"4":  "#00a000",
						"5":  "#ffe65a",
						"6":  "#0000ff",
						"7":  "#808080",
						"8":  "#c0c0c0",
						"9":  "#ffffff",
						"10": "#64c8ff",
						"11": "#ff96ff",
					},
					Legend: LegendSpec{
						Title: "Scene classification",
						Classes: []LegendClass{
							{Value: 0, Label: "No data", Color: "#000000"},
							{Value: 1, Label: "Saturated / defective", Color: "#ff0000"},
							{Value: 2, Label: "Cast shadows", Color: "#2f2f2f"},
							{Value: 3, Label: "Cloud shadows", Color: "#643200"},
							{Value: 4, Label: "Vegetation", Color: "#00a000"},
							{Value: 5, Label: "Not vegetated", Color: "#ffe65a"},
							{Value: 6, Label: "Water", Color: "#0000ff"},
							{Value: 7, Label: "Unclassified", Color: "#808080"},
							{Value: 8, Label: "Cloud medium probability", Color: "#c0c0c0"},
							{Value: 9, Label: "Cloud high probability", Color: "#ffffff"},
							{Value: 10, Label: "Thin cirrus", Color: "#64c8ff"},
							{Value: 11, Label: "Snow or ice", Color: "#ff96ff"},
						},
					},
				},
			},
		},
		{
			ID:          "sentinel-1-grd",
			Title:       "Sentinel-1 GRD",
			Description: "C-band synthetic aperture radar backscatter; sees through clouds, day and night.",
			Attribution: "Copernicus Sentinel data, processed by ESA / Element 84",
			DefaultBand: "vv",
			MinZoom:     7,
			MaxZoom:     14,
			// Radar imaging is cloud-independent, so no cloud filter
			Capabilities: FilterCapabilities{DateRange: true},
			Bands: []Band{
				{
					ID:                "vv",
					Label:             "VV polarization",
					Assets:            []string{"vv"},
					Rescale:           [2]float64{0, 350},
					RescaleAdjustable: true,
					Colormap:          "gray",
					Legend:            LegendSpec{Title: "VV backscatter amplitude"},
				},
				{
					ID:                "vh",
					Label:             "VH polarization",
					Assets:            []string{"vh"},
					Rescale:           [2]float64{0, 200},
					RescaleAdjustable: true,
					Colormap:          "gray",
					Legend:            LegendSpec{Title: "VH backscatter amplitude"},
				},
				{
					ID:                "ratio",
					Label:             "VV/VH ratio",
					Description:       "Polarization ratio; separates volume scatterers from surfaces.",
					Expression:        "vv/vh",
					Rescale:           [2]float64{0, 10},
					RescaleAdjustable: true,
					Colormap:          "viridis",
					Legend:            LegendSpec{Title: "Polarization ratio", Units: "VV/VH"},
				},
			},
		},
		{
			ID:              "landsat-c2-l2",
			Title:           "Landsat Collection 2 Level-2",
			Description:     "Landsat 8/9 surface reflectance and temperature, 30m, 8-day combined revisit.",
			Attribution:     "USGS Landsat, hosted by AWS Open Data",
			DefaultBand:     "truecolor",
			DefaultMaxCloud: 30,
			MinZoom:         7,
			MaxZoom:         14,
			Capabilities:    FilterCapabilities{DateRange: true, CloudCover: true},
			Bands: []Band{
				{
					ID:    "truecolor",
					Label: "True color",
					// Surface reflectance DN: reflectance = DN * 0.0000275 - 0.2
					Assets:            []string{"red", "green", "blue"},
					Rescale:           [2]float64{7273, 18182},
					RescaleAdjustable: true,
					Legend:            LegendSpec{Title: "Natural color", MinLabel: "0.0", MaxLabel: "0.3"},
				},
				{
					ID:                "ndvi",
					Label:             "NDVI",
					Expression:        "(nir08-red)/(nir08+red)",
					Rescale:           [2]float64{-1, 1},
					RescaleAdjustable: true,
					Colormap:          "rdylgn",
					Legend:            LegendSpec{Title: "Vegetation index", Units: "NDVI"},
				},
				{
					ID:    "thermal",
					Label: "Surface temperature",
					// Temperature DN: kelvin = DN * 0.00341802 + 149
					Assets:   []string{"lwir11"},
					Rescale:  [2]float64{41252, 50026},
					Colormap: "magma",
					Legend:   LegendSpec{Title: "Surface temperature", Units: "K", MinLabel: "290 K", MaxLabel: "320 K"},
				},
			},
		},
		{
			ID:          "cop-dem-glo-30",
			Title:       "Copernicus DEM GLO-30",
			Description: "Global 30m digital elevation model derived from TanDEM-X.",
			Attribution: "ESA Copernicus DEM, hosted by AWS Open Data",
			DefaultBand: "elevation",
			MinZoom:     6,
			MaxZoom:     13,
			// Static dataset: neither date nor cloud filters apply
			Capabilities: FilterCapabilities{},
			Bands: []Band{
				{
					ID:                "elevation",
					Label:             "Elevation",
					Assets:            []string{"data"},
					Rescale:           [2]float64{0, 4000},
					RescaleAdjustable: true,
					Colormap:          "terrain",
					Legend:            LegendSpec{Title: "Elevation", Units: "m"},
				},
				{
					ID:                "elevation-gray",
					Label:             "Elevation (grayscale)",
					Assets:            []string{"data"},
					Rescale:           [2]float64{0, 4000},
					RescaleAdjustable: true,
					Colormap:          "gray",
					Legend:            LegendSpec{Title: "Elevation", Units: "m"},
				},
			},
		},
	}
}
