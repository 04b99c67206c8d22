package explorer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
)

func TestStoreCreateGetListDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	ws1, err := store.Create("Alpha", testViewport)
	require.NoError(t, err)
	ws2, err := store.Create("", testViewport)
	require.NoError(t, err)
	assert.Contains(t, ws2.Name, "Workspace ", "empty name gets a default")

	assert.FileExists(t, filepath.Join(dir, "workspaces", ws1.ID+".json"))
	assert.FileExists(t, filepath.Join(dir, "workspaces", "index.json"))

	listed := store.List()
	require.Len(t, listed, 2)
	assert.Equal(t, ws1.ID, listed[0].ID)
	assert.Equal(t, ws2.ID, listed[1].ID)

	got, err := store.Get(ws1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)

	_, err = store.Get("missing")
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, store.Delete(ws1.ID))
	assert.NoFileExists(t, filepath.Join(dir, "workspaces", ws1.ID+".json"))
	require.Len(t, store.List(), 1)

	err = store.Delete(ws1.ID)
	assert.ErrorContains(t, err, "not found")
}

func TestStoreUpdate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ws, err := store.Create("Update me", testViewport)
	require.NoError(t, err)

	next := common.Viewport{Lat: 35.68, Lon: 139.69, Zoom: 9}
	updated, err := store.Update(ws.ID, func(w *Workspace) error {
		return w.SetViewport(next)
	})
	require.NoError(t, err)
	assert.Equal(t, next, updated.Viewport)
	assert.False(t, updated.UpdatedAt.Before(ws.UpdatedAt))

	got, err := store.Get(ws.ID)
	require.NoError(t, err)
	assert.Equal(t, next, got.Viewport)

	// A failing mutation leaves the stored state untouched
	_, err = store.Update(ws.ID, func(w *Workspace) error {
		return w.SetViewport(common.Viewport{Lat: 200, Lon: 0, Zoom: 5})
	})
	require.Error(t, err)
	got, err = store.Get(ws.ID)
	require.NoError(t, err)
	assert.Equal(t, next, got.Viewport)

	_, err = store.Update("missing", func(w *Workspace) error { return nil })
	assert.ErrorContains(t, err, "not found")
}

func TestStoreReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	reg := registry.Default()

	store1, err := NewStore(dir)
	require.NoError(t, err)
	wsA, err := store1.Create("First", testViewport)
	require.NoError(t, err)
	wsB, err := store1.Create("Second", testViewport)
	require.NoError(t, err)

	_, err = store1.Update(wsB.ID, func(w *Workspace) error {
		w.SetSearch(stac.SearchParams{
			Collection: "sentinel-2-l2a",
			Bbox:       [4]float64{2.2, 48.8, 2.4, 48.9},
			StartDate:  "2024-06-01",
			EndDate:    "2024-06-30",
		}, []stac.Item{
			testItem("S2A_0601", time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)),
		})
		if err := w.SelectItem(reg, "S2A_0601"); err != nil {
			return err
		}
		if err := w.SetBand(reg, "S2A_0601", "ndvi"); err != nil {
			return err
		}
		return w.SetRange(reg, "S2A_0601", &registry.RescaleOverride{Min: 0.2, Max: 0.9})
	})
	require.NoError(t, err)

	store2, err := NewStore(dir)
	require.NoError(t, err)

	listed := store2.List()
	require.Len(t, listed, 2)
	assert.Equal(t, wsA.ID, listed[0].ID)
	assert.Equal(t, wsB.ID, listed[1].ID)

	got, err := store2.Get(wsB.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Name)
	require.NotNil(t, got.Search)
	assert.Equal(t, "sentinel-2-l2a", got.Search.Collection)
	require.Len(t, got.Results, 1)
	assert.Equal(t, []string{"S2A_0601"}, got.Selected)
	state := got.Layers["S2A_0601"]
	assert.Equal(t, "ndvi", state.Band)
	require.NotNil(t, state.Rescale)
	assert.Equal(t, 0.2, state.Rescale.Min)

	// The reloaded workspace still resolves layers
	layers, err := got.ResolveLayers(reg, testEndpoints)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "ndvi", layers[0].Band)
}

func TestStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store1, err := NewStore(dir)
	require.NoError(t, err)
	ws, err := store1.Create("Survivor", testViewport)
	require.NoError(t, err)

	wsDir := filepath.Join(dir, "workspaces")
	require.NoError(t, os.WriteFile(filepath.Join(wsDir, "broken.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(wsDir, "no-id.json"), []byte(`{"name":"ghost"}`), 0644))

	store2, err := NewStore(dir)
	require.NoError(t, err, "corrupt files must not fail startup")

	listed := store2.List()
	require.Len(t, listed, 1)
	assert.Equal(t, ws.ID, listed[0].ID)
}

func TestStoreRebuildsMissingIndex(t *testing.T) {
	dir := t.TempDir()
	store1, err := NewStore(dir)
	require.NoError(t, err)
	ws1, err := store1.Create("One", testViewport)
	require.NoError(t, err)
	ws2, err := store1.Create("Two", testViewport)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "workspaces", "index.json")))

	store2, err := NewStore(dir)
	require.NoError(t, err)
	listed := store2.List()
	require.Len(t, listed, 2)
	ids := []string{listed[0].ID, listed[1].ID}
	assert.ElementsMatch(t, []string{ws1.ID, ws2.ID}, ids)
}

func TestStoreNormalizesLegacyFiles(t *testing.T) {
	dir := t.TempDir()
	wsDir := filepath.Join(dir, "workspaces")
	require.NoError(t, os.MkdirAll(wsDir, 0755))

	// A hand-edited file with a duplicated selection entry and a
	// selected item that lost its layer state
	legacy := `{
		"id": "legacy-ws",
		"name": "Legacy",
		"viewport": {"lat": 10, "lon": 20, "zoom": 5},
		"selected": ["a", "b", "a"],
		"layers": {"a": {"band": "truecolor", "visible": true, "opacity": 1}},
		"createdAt": "2024-01-01T00:00:00Z",
		"updatedAt": "2024-01-01T00:00:00Z"
	}`
	require.NoError(t, os.WriteFile(filepath.Join(wsDir, "legacy-ws.json"), []byte(legacy), 0644))

	store, err := NewStore(dir)
	require.NoError(t, err)

	got, err := store.Get("legacy-ws")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Selected)
	assert.Len(t, got.Layers, 1)
	assert.NotNil(t, got.Results)
}
