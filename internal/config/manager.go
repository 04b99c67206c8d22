package config

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"imagery-explorer/internal/common"
)

// Sentinel errors for settings sub-resource lookups.
var (
	ErrSourceExists   = errors.New("source already exists")
	ErrSourceNotFound = errors.New("source not found")
	ErrPresetNotFound = errors.New("preset not found")
)

// Manager owns the live user settings: one loaded copy guarded by a
// mutex, persisted on every mutation. HTTP handlers and the export
// pipeline share it so there is a single source of truth.
type Manager struct {
	mu       sync.Mutex
	dataDir  string
	settings *UserSettings
}

// NewManager loads settings from the data directory, falling back to
// defaults when no settings file exists.
func NewManager(dataDir string) (*Manager, error) {
	settings, err := LoadSettings(dataDir)
	if err != nil {
		return nil, err
	}
	return &Manager{dataDir: dataDir, settings: settings}, nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() *UserSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.clone()
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return SettingsPath(m.dataDir)
}

// Save validates, persists, and adopts a full settings payload.
// Cache sizing takes effect on the next start; everything else applies
// immediately.
func (m *Manager) Save(settings *UserSettings) error {
	if settings.ExportPath == "" {
		return fmt.Errorf("export path cannot be empty")
	}
	if settings.CacheMaxSizeMB <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if settings.CacheTTLDays <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	for i := range settings.CustomSources {
		if err := ValidateCustomSource(&settings.CustomSources[i]); err != nil {
			return fmt.Errorf("custom source %q: %w", settings.CustomSources[i].Name, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := SaveSettings(m.dataDir, settings); err != nil {
		return err
	}
	m.settings = settings.clone()
	log.Printf("[Config] Settings saved; cache sizing applies on next start")
	return nil
}

// SaveViewport remembers the last map camera position so the next
// session opens where this one left off.
func (m *Manager) SaveViewport(v common.Viewport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings.LastViewport = &v
	return SaveSettings(m.dataDir, m.settings)
}

// CustomSource looks up an enabled custom basemap source by name.
func (m *Manager) CustomSource(name string) (*CustomSource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.settings.CustomSources {
		if m.settings.CustomSources[i].Name == name {
			source := m.settings.CustomSources[i]
			return &source, true
		}
	}
	return nil, false
}

// AddCustomSource validates and appends a custom basemap source.
func (m *Manager) AddCustomSource(source CustomSource) error {
	if err := ValidateCustomSource(&source); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.settings.CustomSources {
		if existing.Name == source.Name {
			return fmt.Errorf("source %s: %w", source.Name, ErrSourceExists)
		}
	}
	m.settings.CustomSources = append(m.settings.CustomSources, source)
	if err := SaveSettings(m.dataDir, m.settings); err != nil {
		return err
	}
	log.Printf("[Config] Added custom source: %s (%s)", source.Name, source.Type)
	return nil
}

// UpdateCustomSource replaces a custom source by name.
func (m *Manager) UpdateCustomSource(name string, source CustomSource) error {
	if err := ValidateCustomSource(&source); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for i, existing := range m.settings.CustomSources {
		if existing.Name == name {
			m.settings.CustomSources[i] = source
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("source %s: %w", name, ErrSourceNotFound)
	}
	if err := SaveSettings(m.dataDir, m.settings); err != nil {
		return err
	}
	log.Printf("[Config] Updated custom source: %s", name)
	return nil
}

// RemoveCustomSource removes a custom source by name.
func (m *Manager) RemoveCustomSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	kept := make([]CustomSource, 0, len(m.settings.CustomSources))
	for _, source := range m.settings.CustomSources {
		if source.Name == name {
			found = true
			continue
		}
		kept = append(kept, source)
	}
	if !found {
		return fmt.Errorf("source %s: %w", name, ErrSourceNotFound)
	}
	m.settings.CustomSources = kept
	if err := SaveSettings(m.dataDir, m.settings); err != nil {
		return err
	}
	log.Printf("[Config] Removed custom source: %s", name)
	return nil
}

// AddDateRangePreset appends a saved date filter.
func (m *Manager) AddDateRangePreset(preset DateRangePreset) error {
	if preset.Name == "" {
		return fmt.Errorf("preset name is required")
	}
	if preset.LookbackDays < 0 {
		return fmt.Errorf("lookback days cannot be negative")
	}
	if preset.LookbackDays == 0 {
		if !common.ValidateISO8601(preset.StartDate) {
			return fmt.Errorf("invalid start date: %s", preset.StartDate)
		}
		if !common.ValidateISO8601(preset.EndDate) {
			return fmt.Errorf("invalid end date: %s", preset.EndDate)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.settings.DateRangePresets {
		if existing.Name == preset.Name {
			return fmt.Errorf("preset '%s' already exists", preset.Name)
		}
	}
	m.settings.DateRangePresets = append(m.settings.DateRangePresets, preset)
	if err := SaveSettings(m.dataDir, m.settings); err != nil {
		return err
	}
	log.Printf("[Config] Added date range preset: %s", preset.Name)
	return nil
}

// RemoveDateRangePreset removes a saved date filter by name. If it was
// the default preset, the default is cleared too.
func (m *Manager) RemoveDateRangePreset(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	kept := make([]DateRangePreset, 0, len(m.settings.DateRangePresets))
	for _, preset := range m.settings.DateRangePresets {
		if preset.Name == name {
			found = true
			continue
		}
		kept = append(kept, preset)
	}
	if !found {
		return fmt.Errorf("preset %s: %w", name, ErrPresetNotFound)
	}
	m.settings.DateRangePresets = kept
	if m.settings.DefaultDatePreset == name {
		m.settings.DefaultDatePreset = ""
	}
	if err := SaveSettings(m.dataDir, m.settings); err != nil {
		return err
	}
	log.Printf("[Config] Removed date range preset: %s", name)
	return nil
}

// SetDefaultDatePreset marks a preset as the one applied on load.
// An empty name clears the default.
func (m *Manager) SetDefaultDatePreset(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != "" {
		found := false
		for _, preset := range m.settings.DateRangePresets {
			if preset.Name == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("preset %s: %w", name, ErrPresetNotFound)
		}
	}
	m.settings.DefaultDatePreset = name
	return SaveSettings(m.dataDir, m.settings)
}

func (s *UserSettings) clone() *UserSettings {
	out := *s
	out.CustomSources = append([]CustomSource(nil), s.CustomSources...)
	out.DateRangePresets = append([]DateRangePreset(nil), s.DateRangePresets...)
	if s.LastViewport != nil {
		v := *s.LastViewport
		out.LastViewport = &v
	}
	return &out
}
