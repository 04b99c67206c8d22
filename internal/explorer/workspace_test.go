package explorer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
)

var testViewport = common.Viewport{Lat: 48.8566, Lon: 2.3522, Zoom: 11}

var testEndpoints = Endpoints{
	STAC:    "https://stac.test/v1",
	TiTiler: "https://titiler.test",
}

func testItem(id string, date time.Time) stac.Item {
	return stac.Item{
		ID:         id,
		Collection: "sentinel-2-l2a",
		Datetime:   date,
		CloudCover: 12.5,
		Bbox:       []float64{2.0, 48.5, 2.8, 49.1},
	}
}

// testWorkspace returns a workspace with three Sentinel-2 results and
// nothing selected.
func testWorkspace() *Workspace {
	ws := NewWorkspace("Paris June 2024", testViewport)
	ws.SetSearch(stac.SearchParams{
		Collection:    "sentinel-2-l2a",
		Bbox:          [4]float64{2.2, 48.8, 2.4, 48.9},
		StartDate:     "2024-06-01",
		EndDate:       "2024-06-30",
		MaxCloudCover: 20,
		Limit:         12,
	}, []stac.Item{
		testItem("S2A_0601", time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)),
		testItem("S2B_0611", time.Date(2024, 6, 11, 10, 30, 0, 0, time.UTC)),
		testItem("S2A_0621", time.Date(2024, 6, 21, 10, 30, 0, 0, time.UTC)),
	})
	return ws
}

func TestNewWorkspaceDefaults(t *testing.T) {
	ws := NewWorkspace("Test", testViewport)

	_, err := uuid.Parse(ws.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Test", ws.Name)
	assert.Equal(t, testViewport, ws.Viewport)
	assert.NotNil(t, ws.Results)
	assert.NotNil(t, ws.Selected)
	assert.NotNil(t, ws.Layers)
	assert.False(t, ws.CreatedAt.IsZero())
	assert.Equal(t, ws.CreatedAt, ws.UpdatedAt)
}

func TestSetViewport(t *testing.T) {
	ws := NewWorkspace("Test", testViewport)

	next := common.Viewport{Lat: -33.87, Lon: 151.21, Zoom: 13.5}
	require.NoError(t, ws.SetViewport(next))
	assert.Equal(t, next, ws.Viewport)

	assert.Error(t, ws.SetViewport(common.Viewport{Lat: 95, Lon: 0, Zoom: 5}))
	assert.Error(t, ws.SetViewport(common.Viewport{Lat: 0, Lon: -190, Zoom: 5}))
	assert.Error(t, ws.SetViewport(common.Viewport{Lat: 0, Lon: 0, Zoom: 30}))
	assert.Equal(t, next, ws.Viewport, "rejected viewport must not be applied")
}

func TestSelectItemOrderedIdempotent(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()

	require.NoError(t, ws.SelectItem(reg, "S2B_0611"))
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))
	assert.Equal(t, []string{"S2B_0611", "S2A_0601"}, ws.Selected)

	state := ws.Layers["S2B_0611"]
	assert.Equal(t, "truecolor", state.Band)
	assert.True(t, state.Visible)
	assert.Equal(t, 1.0, state.Opacity)
	assert.Nil(t, state.Rescale)

	// Selecting again changes nothing
	require.NoError(t, ws.SelectItem(reg, "S2B_0611"))
	assert.Equal(t, []string{"S2B_0611", "S2A_0601"}, ws.Selected)

	err := ws.SelectItem(reg, "nonexistent")
	assert.ErrorContains(t, err, "not in the current results")
}

func TestDeselectItem(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))
	require.NoError(t, ws.SelectItem(reg, "S2B_0611"))

	ws.DeselectItem("S2A_0601")
	assert.Equal(t, []string{"S2B_0611"}, ws.Selected)
	assert.NotContains(t, ws.Layers, "S2A_0601")

	// Deselecting an unselected item is a no-op
	ws.DeselectItem("S2A_0601")
	assert.Equal(t, []string{"S2B_0611"}, ws.Selected)
}

func TestSetSearchPrunesVanishedSelection(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))
	require.NoError(t, ws.SelectItem(reg, "S2B_0611"))

	ws.SetSearch(stac.SearchParams{Collection: "sentinel-2-l2a"}, []stac.Item{
		testItem("S2B_0611", time.Date(2024, 6, 11, 10, 30, 0, 0, time.UTC)),
		testItem("S2C_0701", time.Date(2024, 7, 1, 10, 30, 0, 0, time.UTC)),
	})

	assert.Equal(t, []string{"S2B_0611"}, ws.Selected)
	assert.Contains(t, ws.Layers, "S2B_0611")
	assert.NotContains(t, ws.Layers, "S2A_0601")
}

func TestSetBand(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))

	require.NoError(t, ws.SetBand(reg, "S2A_0601", "ndvi"))
	assert.Equal(t, "ndvi", ws.Layers["S2A_0601"].Band)

	// A range tuned for one band does not survive a band switch
	require.NoError(t, ws.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: 0, Max: 0.8}))
	require.NotNil(t, ws.Layers["S2A_0601"].Rescale)
	require.NoError(t, ws.SetBand(reg, "S2A_0601", "ndwi"))
	assert.Nil(t, ws.Layers["S2A_0601"].Rescale)

	// Re-setting the same band keeps the range
	require.NoError(t, ws.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: -0.5, Max: 0.5}))
	require.NoError(t, ws.SetBand(reg, "S2A_0601", "ndwi"))
	assert.NotNil(t, ws.Layers["S2A_0601"].Rescale)

	err := ws.SetBand(reg, "S2A_0601", "thermal")
	assert.Error(t, err, "band from another collection must be rejected")

	err = ws.SetBand(reg, "S2B_0611", "ndvi")
	assert.ErrorContains(t, err, "not selected")
}

func TestSetRange(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))

	// The default true color band has no adjustable range
	err := ws.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: 0, Max: 3000})
	assert.ErrorContains(t, err, "fixed range")

	require.NoError(t, ws.SetBand(reg, "S2A_0601", "ndvi"))
	require.NoError(t, ws.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: 0.1, Max: 0.9}))
	state := ws.Layers["S2A_0601"]
	require.NotNil(t, state.Rescale)
	assert.Equal(t, 0.1, state.Rescale.Min)
	assert.Equal(t, 0.9, state.Rescale.Max)

	err = ws.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: 0.9, Max: 0.1})
	assert.ErrorContains(t, err, "less than max")

	// nil restores the band default
	require.NoError(t, ws.SetRange(reg, "S2A_0601", nil))
	assert.Nil(t, ws.Layers["S2A_0601"].Rescale)
}

func TestSetVisibilityAndOpacity(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))

	require.NoError(t, ws.SetVisibility("S2A_0601", false))
	assert.False(t, ws.Layers["S2A_0601"].Visible)
	require.NoError(t, ws.SetVisibility("S2A_0601", true))
	assert.True(t, ws.Layers["S2A_0601"].Visible)

	require.NoError(t, ws.SetOpacity("S2A_0601", 0.35))
	assert.Equal(t, 0.35, ws.Layers["S2A_0601"].Opacity)

	assert.Error(t, ws.SetOpacity("S2A_0601", 1.2))
	assert.Error(t, ws.SetOpacity("S2A_0601", -0.1))
	assert.Equal(t, 0.35, ws.Layers["S2A_0601"].Opacity)

	assert.Error(t, ws.SetVisibility("S2B_0611", false))
	assert.Error(t, ws.SetOpacity("S2B_0611", 0.5))
}

func TestResolveLayers(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2B_0611"))
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))
	require.NoError(t, ws.SetBand(reg, "S2A_0601", "ndvi"))
	require.NoError(t, ws.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: 0, Max: 0.8}))
	require.NoError(t, ws.SetOpacity("S2A_0601", 0.6))

	layers, err := ws.ResolveLayers(reg, testEndpoints)
	require.NoError(t, err)
	require.Len(t, layers, 2)

	first := layers[0]
	assert.Equal(t, "S2B_0611", first.ItemID)
	assert.Equal(t, "sentinel-2-l2a", first.Collection)
	assert.Equal(t, "truecolor", first.Band)
	assert.Equal(t, "2024-06-11", first.Date)
	assert.Equal(t, "/tiles/items/"+ws.ID+"/S2B_0611/{z}/{x}/{y}.png?v=truecolor", first.TileURL)
	assert.Equal(t, 1.0, first.Opacity)
	assert.Contains(t, first.Attribution, "Copernicus")
	assert.Equal(t, 8, first.MinZoom)
	assert.Equal(t, 16, first.MaxZoom)
	require.NotNil(t, first.Legend)
	assert.Equal(t, "Natural color (B04/B03/B02)", first.Legend.Title)

	second := layers[1]
	assert.Equal(t, "ndvi", second.Band)
	assert.Equal(t, "/tiles/items/"+ws.ID+"/S2A_0601/{z}/{x}/{y}.png?v=ndvi-r0-0.8", second.TileURL)
	assert.Equal(t, 0.6, second.Opacity)
	require.NotNil(t, second.Legend)
	assert.Equal(t, "Vegetation index", second.Legend.Title)
	assert.Equal(t, "NDVI", second.Legend.Units)
	assert.Equal(t, "0", second.Legend.MinLabel)
	assert.Equal(t, "0.8", second.Legend.MaxLabel)
	assert.NotEmpty(t, second.Legend.Gradient)

	// Hidden layers drop out but keep their slot in the selection
	require.NoError(t, ws.SetVisibility("S2B_0611", false))
	layers, err = ws.ResolveLayers(reg, testEndpoints)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "S2A_0601", layers[0].ItemID)
	assert.Equal(t, []string{"S2B_0611", "S2A_0601"}, ws.Selected)
}

func TestResolveTileTemplate(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))
	require.NoError(t, ws.SetBand(reg, "S2A_0601", "ndvi"))

	got, err := ws.ResolveTileTemplate(reg, testEndpoints, "S2A_0601")
	require.NoError(t, err)
	want, err := reg.BuildTileURL(testEndpoints.TiTiler, testEndpoints.STAC, "sentinel-2-l2a", "S2A_0601", "ndvi", nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ws.ResolveTileTemplate(reg, testEndpoints, "S2B_0611")
	assert.ErrorContains(t, err, "not selected")
}

func TestCacheLayerKey(t *testing.T) {
	plain := LayerState{Band: "truecolor"}
	assert.Equal(t, "S2A_0601-truecolor", CacheLayerKey("S2A_0601", plain))

	ranged := LayerState{Band: "ndvi", Rescale: &registry.RescaleOverride{Min: -0.2, Max: 0.9}}
	assert.Equal(t, "S2A_0601-ndvi-r-0.2-0.9", CacheLayerKey("S2A_0601", ranged))

	// Keys land in cache paths, so raw item IDs must be sanitized
	spaced := CacheLayerKey("item with/slash", plain)
	assert.NotContains(t, spaced, "/")
	assert.NotContains(t, spaced, " ")
}

func TestCloneIsolation(t *testing.T) {
	reg := registry.Default()
	ws := testWorkspace()
	require.NoError(t, ws.SelectItem(reg, "S2A_0601"))
	require.NoError(t, ws.SetBand(reg, "S2A_0601", "ndvi"))
	require.NoError(t, ws.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: 0, Max: 0.5}))

	clone := ws.Clone()
	require.NoError(t, clone.SelectItem(reg, "S2B_0611"))
	require.NoError(t, clone.SetBand(reg, "S2A_0601", "truecolor"))
	clone.Search.Collection = "landsat-c2-l2"
	clone.Results[0].ID = "mutated"

	assert.Equal(t, []string{"S2A_0601"}, ws.Selected)
	assert.Equal(t, "ndvi", ws.Layers["S2A_0601"].Band)
	require.NotNil(t, ws.Layers["S2A_0601"].Rescale)
	assert.Equal(t, 0.5, ws.Layers["S2A_0601"].Rescale.Max)
	assert.Equal(t, "sentinel-2-l2a", ws.Search.Collection)
	assert.Equal(t, "S2A_0601", ws.Results[0].ID)
}
