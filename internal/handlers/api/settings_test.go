package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagery-explorer/internal/config"
	"imagery-explorer/internal/wmts"
)

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings config.UserSettings
	decodeResponse(t, rec, &settings)
	assert.Equal(t, "sentinel-2-l2a", settings.DefaultCollection)
	assert.Equal(t, 10, settings.MaxWorkers)

	settings.MaxWorkers = 4
	settings.Theme = "dark"
	rec = env.do(t, http.MethodPut, "/api/settings", settings)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/settings", nil)
	decodeResponse(t, rec, &settings)
	assert.Equal(t, 4, settings.MaxWorkers)
	assert.Equal(t, "dark", settings.Theme)
}

func TestCustomSourceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	source := config.CustomSource{
		Name:    "cloudless",
		Type:    "xyz",
		URL:     "https://tiles.example/{z}/{x}/{y}.jpg",
		MaxZoom: 14,
		Enabled: true,
	}

	rec := env.do(t, http.MethodPost, "/api/settings/sources", source)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/settings/sources", source)
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate names are rejected")

	bad := source
	bad.Name = "broken"
	bad.URL = "https://tiles.example/tile.jpg"
	rec = env.do(t, http.MethodPost, "/api/settings/sources", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "xyz sources need tile placeholders")

	source.MaxZoom = 16
	rec = env.do(t, http.MethodPut, "/api/settings/sources/cloudless", source)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, ok := env.handler.Settings.CustomSource("cloudless")
	require.True(t, ok)
	assert.Equal(t, 16, stored.MaxZoom)

	rec = env.do(t, http.MethodPut, "/api/settings/sources/nope", source)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/settings/sources/cloudless", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/settings/sources/cloudless", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

const wmtsCapabilitiesFixture = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1" version="1.0.0">
  <Contents>
    <Layer>
      <ows:Title>Sentinel-2 cloudless</ows:Title>
      <ows:Identifier>s2cloudless</ows:Identifier>
      <TileMatrixSetLink>
        <TileMatrixSet>g</TileMatrixSet>
      </TileMatrixSetLink>
      <ResourceURL format="image/jpeg" resourceType="tile" template="https://tiles.example/wmts/s2cloudless/{TileMatrix}/{TileRow}/{TileCol}.jpg"/>
    </Layer>
  </Contents>
</Capabilities>`

func TestValidateWMTSEndpoint(t *testing.T) {
	env := newTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(wmtsCapabilitiesFixture))
	}))
	defer server.Close()

	rec := env.do(t, http.MethodPost, "/api/settings/sources/validate-wmts",
		map[string]string{"url": server.URL})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Layers []wmts.LayerInfo `json:"layers"`
	}
	decodeResponse(t, rec, &resp)
	require.Len(t, resp.Layers, 1)
	assert.Equal(t, "s2cloudless", resp.Layers[0].Name)
	assert.Equal(t, "https://tiles.example/wmts/s2cloudless/{z}/{y}/{x}.jpg", resp.Layers[0].TemplateURL)

	rec = env.do(t, http.MethodPost, "/api/settings/sources/validate-wmts",
		map[string]string{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDatePresetLifecycle(t *testing.T) {
	env := newTestEnv(t)

	preset := config.DateRangePreset{Name: "Growing season", StartDate: "2024-04-01", EndDate: "2024-09-30", Enabled: true}
	rec := env.do(t, http.MethodPost, "/api/settings/presets", preset)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/settings/presets/default",
		map[string]string{"name": "Growing season"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Growing season", env.handler.Settings.Get().DefaultDatePreset)

	rec = env.do(t, http.MethodPut, "/api/settings/presets/default",
		map[string]string{"name": "Winter"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/settings/presets/Growing%20season", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/settings/presets/Growing%20season", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
