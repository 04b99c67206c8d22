package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variable names understood by the explorer. Environment
// values win over the settings file for endpoint overrides.
const (
	EnvAddr            = "IMXP_ADDR"
	EnvDataDir         = "IMXP_DATA_DIR"
	EnvSTACEndpoint    = "IMXP_STAC_ENDPOINT"
	EnvTiTilerEndpoint = "IMXP_TITILER_ENDPOINT"
	EnvBasemapURL      = "IMXP_BASEMAP_URL"
	EnvMaxWorkers      = "IMXP_MAX_WORKERS"
)

// DefaultAddr binds to loopback only; the explorer serves a single
// local user unless deliberately exposed.
const DefaultAddr = "127.0.0.1:8472"

// DefaultBasemapURL is the OpenStreetMap tile endpoint used for the
// background layer.
const DefaultBasemapURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

// LoadEnvFile loads variables from a dotenv file when it exists. A
// missing file is not an error; anything else is logged and ignored so
// a malformed file never blocks startup.
func LoadEnvFile(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Printf("[Config] Failed to load env file %s: %v", path, err)
	}
}

// GetAddr returns the listen address for the HTTP server
func GetAddr() string {
	if addr, ok := os.LookupEnv(EnvAddr); ok && addr != "" {
		return addr
	}
	return DefaultAddr
}

// GetDataDir returns the base data directory
func GetDataDir() string {
	if dir, ok := os.LookupEnv(EnvDataDir); ok && dir != "" {
		return dir
	}
	return DefaultDataDir()
}

// GetSTACEndpoint returns the STAC catalog root, preferring the
// environment over the saved settings.
func GetSTACEndpoint(settings *UserSettings) string {
	if endpoint, ok := os.LookupEnv(EnvSTACEndpoint); ok && endpoint != "" {
		return endpoint
	}
	if settings != nil && settings.STACEndpoint != "" {
		return settings.STACEndpoint
	}
	return DefaultSTACEndpoint
}

// GetTiTilerEndpoint returns the tile service root, preferring the
// environment over the saved settings.
func GetTiTilerEndpoint(settings *UserSettings) string {
	if endpoint, ok := os.LookupEnv(EnvTiTilerEndpoint); ok && endpoint != "" {
		return endpoint
	}
	if settings != nil && settings.TiTilerEndpoint != "" {
		return settings.TiTilerEndpoint
	}
	return DefaultTiTilerEndpoint
}

// GetBasemapURL returns the XYZ template for the background layer
func GetBasemapURL() string {
	if url, ok := os.LookupEnv(EnvBasemapURL); ok && url != "" {
		return url
	}
	return DefaultBasemapURL
}

// GetMaxWorkers returns the export worker count, preferring the
// environment over the saved settings.
func GetMaxWorkers(settings *UserSettings) int {
	if raw, ok := os.LookupEnv(EnvMaxWorkers); ok && raw != "" {
		if workers, err := strconv.Atoi(raw); err == nil && workers > 0 {
			return workers
		}
		log.Printf("[Config] Ignoring invalid %s value %q", EnvMaxWorkers, raw)
	}
	if settings != nil && settings.MaxWorkers > 0 {
		return settings.MaxWorkers
	}
	return DefaultSettings().MaxWorkers
}
