package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagery-explorer/internal/common"
)

// Default endpoints for the hosted services the explorer talks to.
// Overridable per install through settings or environment.
const (
	DefaultSTACEndpoint    = "https://earth-search.aws.element84.com/v1"
	DefaultTiTilerEndpoint = "https://titiler.xyz"
)

// CustomSource represents a user-added basemap source
type CustomSource struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "xyz" or "wmts"
	URL         string `json:"url"`
	Attribution string `json:"attribution,omitempty"`
	MaxZoom     int    `json:"maxZoom,omitempty"`
	MinZoom     int    `json:"minZoom,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// DateRangePreset is a saved acquisition date filter. LookbackDays
// makes the preset relative (a window ending today); otherwise the
// explicit start and end dates apply.
type DateRangePreset struct {
	Name         string `json:"name"`
	StartDate    string `json:"startDate,omitempty"` // YYYY-MM-DD
	EndDate      string `json:"endDate,omitempty"`   // YYYY-MM-DD
	LookbackDays int    `json:"lookbackDays,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Export settings
	ExportPath string `json:"exportPath"`
	MaxWorkers int    `json:"maxWorkers"`

	// Cache settings
	CacheMaxSizeMB int `json:"cacheMaxSizeMB"`
	CacheTTLDays   int `json:"cacheTTLDays"`

	// Catalog and tile service endpoints
	STACEndpoint    string `json:"stacEndpoint"`
	TiTilerEndpoint string `json:"titilerEndpoint"`

	// Default map settings
	DefaultCollection string           `json:"defaultCollection"`
	DefaultZoom       int              `json:"defaultZoom"`
	DefaultCenterLat  float64          `json:"defaultCenterLat"`
	DefaultCenterLon  float64          `json:"defaultCenterLon"`
	LastViewport      *common.Viewport `json:"lastViewport,omitempty"`

	// Behavior toggles. Kept in the negative so the zero value matches
	// the default.
	DisableAutoRetry  bool `json:"disableAutoRetry"`
	TelemetryDisabled bool `json:"telemetryDisabled"`

	// Custom basemap sources
	CustomSources []CustomSource `json:"customSources"`

	// Saved acquisition date filters
	DateRangePresets  []DateRangePreset `json:"dateRangePresets"`
	DefaultDatePreset string            `json:"defaultDatePreset"` // Name of preset applied on load

	// UI preferences
	Theme           string `json:"theme"` // "light", "dark", "system"
	ShowTileGrid    bool   `json:"showTileGrid"`
	ShowCoordinates bool   `json:"showCoordinates"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()
	exportPath := filepath.Join(homeDir, "Downloads", "imagery-exports")

	return &UserSettings{
		ExportPath:        exportPath,
		MaxWorkers:        10,
		CacheMaxSizeMB:    250,
		CacheTTLDays:      30,
		STACEndpoint:      DefaultSTACEndpoint,
		TiTilerEndpoint:   DefaultTiTilerEndpoint,
		DefaultCollection: "sentinel-2-l2a",
		DefaultZoom:       10,
		DefaultCenterLat:  48.8566, // Paris
		DefaultCenterLon:  2.3522,
		CustomSources:     []CustomSource{},
		DateRangePresets: []DateRangePreset{
			{
				Name:         "Last 30 Days",
				LookbackDays: 30,
				Enabled:      true,
			},
			{
				Name:         "Last 12 Months",
				LookbackDays: 365,
				Enabled:      true,
			},
			{
				Name:      "Summer 2024",
				StartDate: "2024-06-01",
				EndDate:   "2024-08-31",
				Enabled:   false,
			},
		},
		DefaultDatePreset: "Last 30 Days",
		Theme:             "system",
		ShowTileGrid:      false,
		ShowCoordinates:   false,
	}
}

// DefaultDataDir returns the base directory for settings, caches and
// export state.
func DefaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".imagery-explorer")
}

// SettingsPath returns the settings file path under the data directory
func SettingsPath(dataDir string) string {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(dataDir, "settings", "settings.json")
}

// LoadSettings loads user settings from disk
func LoadSettings(dataDir string) (*UserSettings, error) {
	settingsPath := SettingsPath(dataDir)

	// If file doesn't exist, return defaults
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.ExportPath == "" {
		settings.ExportPath = defaults.ExportPath
	}
	if settings.MaxWorkers == 0 {
		settings.MaxWorkers = defaults.MaxWorkers
	}
	if settings.CacheMaxSizeMB == 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.CacheTTLDays == 0 {
		settings.CacheTTLDays = defaults.CacheTTLDays
	}
	if settings.STACEndpoint == "" {
		settings.STACEndpoint = defaults.STACEndpoint
	}
	if settings.TiTilerEndpoint == "" {
		settings.TiTilerEndpoint = defaults.TiTilerEndpoint
	}
	if settings.DefaultCollection == "" {
		settings.DefaultCollection = defaults.DefaultCollection
	}
	if settings.DefaultZoom == 0 {
		settings.DefaultZoom = defaults.DefaultZoom
	}
	if settings.DefaultCenterLat == 0 && settings.DefaultCenterLon == 0 {
		settings.DefaultCenterLat = defaults.DefaultCenterLat
		settings.DefaultCenterLon = defaults.DefaultCenterLon
	}
	if settings.Theme == "" {
		settings.Theme = defaults.Theme
	}
	if settings.DateRangePresets == nil {
		settings.DateRangePresets = defaults.DateRangePresets
		settings.DefaultDatePreset = defaults.DefaultDatePreset
	}
	if settings.CustomSources == nil {
		settings.CustomSources = []CustomSource{}
	}

	return &settings, nil
}

// SaveSettings saves user settings to disk. The write goes through a
// temp file and rename so a crash never leaves a torn settings file.
func SaveSettings(dataDir string, settings *UserSettings) error {
	settingsPath := SettingsPath(dataDir)

	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	return nil
}

// ValidateCustomSource validates a custom basemap source configuration
func ValidateCustomSource(source *CustomSource) error {
	if source.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if source.URL == "" {
		return fmt.Errorf("source URL is required")
	}

	switch source.Type {
	case "xyz":
		for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
			if !strings.Contains(source.URL, placeholder) {
				return fmt.Errorf("xyz source URL must contain %s placeholder", placeholder)
			}
		}
	case "wmts":
		if !strings.HasPrefix(source.URL, "http://") && !strings.HasPrefix(source.URL, "https://") {
			return fmt.Errorf("wmts capabilities URL must be absolute")
		}
	case "":
		return fmt.Errorf("source type is required")
	default:
		return fmt.Errorf("invalid source type: %s (must be xyz or wmts)", source.Type)
	}

	if source.MinZoom < 0 || source.MaxZoom < 0 {
		return fmt.Errorf("zoom levels cannot be negative")
	}
	if source.MaxZoom != 0 && source.MinZoom > source.MaxZoom {
		return fmt.Errorf("minZoom %d exceeds maxZoom %d", source.MinZoom, source.MaxZoom)
	}

	return nil
}

// ResolvePreset returns the date range for a named preset, expanding
// relative lookback windows against today.
func (s *UserSettings) ResolvePreset(name string) (startDate, endDate string, ok bool) {
	for _, preset := range s.DateRangePresets {
		if preset.Name != name {
			continue
		}
		if preset.LookbackDays > 0 {
			end := time.Now()
			start := end.AddDate(0, 0, -preset.LookbackDays)
			return common.FormatISO8601(start), common.FormatISO8601(end), true
		}
		return preset.StartDate, preset.EndDate, true
	}
	return "", "", false
}
