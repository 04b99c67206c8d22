package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsReturnsDefaultsWhenMissing(t *testing.T) {
	dataDir := t.TempDir()

	settings, err := LoadSettings(dataDir)

	require.NoError(t, err)
	assert.Equal(t, DefaultSTACEndpoint, settings.STACEndpoint)
	assert.Equal(t, DefaultTiTilerEndpoint, settings.TiTilerEndpoint)
	assert.Equal(t, "sentinel-2-l2a", settings.DefaultCollection)
	assert.Equal(t, 250, settings.CacheMaxSizeMB)
	assert.Equal(t, 10, settings.MaxWorkers)
}

func TestLoadSettingsMergesMissingFields(t *testing.T) {
	// Mock: a partial settings file from an older install
	dataDir := t.TempDir()
	path := SettingsPath(dataDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"cacheMaxSizeMB": 500, "theme": "dark"}`), 0644))

	// Tested code
	settings, err := LoadSettings(dataDir)

	// Asserts
	require.NoError(t, err)
	assert.Equal(t, 500, settings.CacheMaxSizeMB)
	assert.Equal(t, "dark", settings.Theme)
	assert.Equal(t, 30, settings.CacheTTLDays)
	assert.Equal(t, DefaultSTACEndpoint, settings.STACEndpoint)
	assert.NotEmpty(t, settings.DateRangePresets)
	assert.NotNil(t, settings.CustomSources)
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	dataDir := t.TempDir()

	settings := DefaultSettings()
	settings.DefaultCollection = "landsat-c2-l2"
	settings.CustomSources = []CustomSource{
		{Name: "osm-fr", Type: "xyz", URL: "https://a.tile.openstreetmap.fr/osmfr/{z}/{x}/{y}.png", Enabled: true},
	}
	require.NoError(t, SaveSettings(dataDir, settings))

	loaded, err := LoadSettings(dataDir)
	require.NoError(t, err)
	assert.Equal(t, "landsat-c2-l2", loaded.DefaultCollection)
	require.Len(t, loaded.CustomSources, 1)
	assert.Equal(t, "osm-fr", loaded.CustomSources[0].Name)

	// No stray temp file after the rename
	_, err = os.Stat(SettingsPath(dataDir) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSaveSettingsWritesValidJSON(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, SaveSettings(dataDir, DefaultSettings()))

	data, err := os.ReadFile(SettingsPath(dataDir))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "stacEndpoint")
	assert.Contains(t, decoded, "exportPath")
}

func TestValidateCustomSource(t *testing.T) {
	cases := []struct {
		name    string
		source  CustomSource
		wantErr string
	}{
		{
			name:   "valid xyz",
			source: CustomSource{Name: "osm", Type: "xyz", URL: "https://tile.example.com/{z}/{x}/{y}.png"},
		},
		{
			name:   "valid wmts",
			source: CustomSource{Name: "ign", Type: "wmts", URL: "https://wmts.example.com/capabilities.xml"},
		},
		{
			name:    "missing name",
			source:  CustomSource{Type: "xyz", URL: "https://tile.example.com/{z}/{x}/{y}.png"},
			wantErr: "name is required",
		},
		{
			name:    "missing placeholders",
			source:  CustomSource{Name: "bad", Type: "xyz", URL: "https://tile.example.com/tiles.png"},
			wantErr: "placeholder",
		},
		{
			name:    "unknown type",
			source:  CustomSource{Name: "bad", Type: "wcs", URL: "https://example.com"},
			wantErr: "invalid source type",
		},
		{
			name:    "relative wmts url",
			source:  CustomSource{Name: "bad", Type: "wmts", URL: "capabilities.xml"},
			wantErr: "absolute",
		},
		{
			name:    "inverted zoom range",
			source:  CustomSource{Name: "bad", Type: "xyz", URL: "https://t.example.com/{z}/{x}/{y}.png", MinZoom: 12, MaxZoom: 4},
			wantErr: "exceeds",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCustomSource(&tc.source)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestResolvePresetLookback(t *testing.T) {
	settings := DefaultSettings()

	start, end, ok := settings.ResolvePreset("Last 30 Days")

	require.True(t, ok)
	assert.Equal(t, time.Now().Format("2006-01-02"), end)
	assert.Equal(t, time.Now().AddDate(0, 0, -30).Format("2006-01-02"), start)
}

func TestResolvePresetExplicitRange(t *testing.T) {
	settings := &UserSettings{
		DateRangePresets: []DateRangePreset{
			{Name: "Summer 2024", StartDate: "2024-06-01", EndDate: "2024-08-31"},
		},
	}

	start, end, ok := settings.ResolvePreset("Summer 2024")
	require.True(t, ok)
	assert.Equal(t, "2024-06-01", start)
	assert.Equal(t, "2024-08-31", end)

	_, _, ok = settings.ResolvePreset("Winter 1999")
	assert.False(t, ok)
}

func TestEnvOverridesEndpoints(t *testing.T) {
	t.Setenv(EnvSTACEndpoint, "https://stac.internal.example.com")
	t.Setenv(EnvTiTilerEndpoint, "")

	settings := &UserSettings{
		STACEndpoint:    "https://stac.from-settings.example.com",
		TiTilerEndpoint: "https://titiler.from-settings.example.com",
	}

	assert.Equal(t, "https://stac.internal.example.com", GetSTACEndpoint(settings))
	assert.Equal(t, "https://titiler.from-settings.example.com", GetTiTilerEndpoint(settings))
	assert.Equal(t, DefaultTiTilerEndpoint, GetTiTilerEndpoint(nil))
}

func TestGetMaxWorkers(t *testing.T) {
	settings := &UserSettings{MaxWorkers: 4}

	assert.Equal(t, 4, GetMaxWorkers(settings))

	t.Setenv(EnvMaxWorkers, "16")
	assert.Equal(t, 16, GetMaxWorkers(settings))

	t.Setenv(EnvMaxWorkers, "not-a-number")
	assert.Equal(t, 4, GetMaxWorkers(settings))
}
