package common

// Provider name constants for consistent naming across the application
const (
	// ProviderSTAC is the rate-limit and internal identifier for the STAC search API
	ProviderSTAC = "stac"

	// ProviderTiTiler is the rate-limit and cache identifier for the TiTiler rendering service
	ProviderTiTiler = "titiler"

	// ProviderBasemap is the rate-limit and cache identifier for background basemap sources
	ProviderBasemap = "basemap"

	// DisplayNameSTAC is the human-readable name shown in the UI
	DisplayNameSTAC = "STAC Catalog"

	// DisplayNameTiTiler is the human-readable name shown in the UI
	DisplayNameTiTiler = "TiTiler"

	// DisplayNameBasemap is the human-readable name shown in the UI
	DisplayNameBasemap = "Basemap"
)
