package tileserver

import (
	"fmt"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/cache"
	"imagery-explorer/internal/common"
	"imagery-explorer/internal/metrics"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/utils/naming"
)

// defaultBasemapMaxZoom caps proxied requests against the built-in
// OpenStreetMap basemap, which serves nothing past zoom 19.
const defaultBasemapMaxZoom = 19

// handleBasemapTile proxies basemap tiles with the same two-level
// caching as item tiles.
// URL format: /tiles/basemap/{source}/{z}/{x}/{y}
// The source is "default" for the built-in basemap or the name of an
// enabled custom source from settings. Requests outside the source's
// zoom range get a transparent tile so the map keeps rendering.
func (s *Server) handleBasemapTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	yRaw := vars["y"]
	y, err := strconv.Atoi(strings.TrimSuffix(yRaw, path.Ext(yRaw)))
	if err != nil {
		http.Error(w, "invalid Y coordinate", http.StatusBadRequest)
		return
	}
	vars["y"] = strconv.Itoa(y)
	z, x, y, ok := parseTileCoords(w, vars)
	if !ok {
		return
	}

	source := vars["source"]
	template, minZoom, maxZoom, err := s.basemapTemplate(source)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if z < minZoom || (maxZoom > 0 && z > maxZoom) {
		s.serveTransparentTile(w)
		return
	}

	start := time.Now()
	sourceKey := naming.SafeName(source)
	cacheKey := cache.BuildKey(common.ProviderBasemap, sourceKey, z, x, y)

	if data, found := s.memCacheGet(cacheKey); found {
		s.serveTile(w, data, http.DetectContentType(data), "HIT")
		metrics.RecordTileServed(common.ProviderBasemap, "hit", time.Since(start))
		return
	}

	if s.cfg.DiskCache != nil {
		if data, found := s.cfg.DiskCache.Get(cacheKey); found {
			s.memCacheSet(cacheKey, data)
			s.serveTile(w, data, http.DetectContentType(data), "HIT")
			metrics.RecordTileServed(common.ProviderBasemap, "hit", time.Since(start))
			return
		}
	}

	tileURL := registry.ExpandTileURL(template, z, x, y)
	data, err := s.basemapFetch.FetchTile(r.Context(), tileURL)
	if err != nil {
		s.handleFetchError(w, r, common.ProviderBasemap, err)
		return
	}

	s.memCacheSet(cacheKey, data)
	if s.cfg.DiskCache != nil {
		if err := s.cfg.DiskCache.Set(common.ProviderBasemap, sourceKey, z, x, y, data); err != nil {
			log.Printf("[TileProxy] Failed to cache basemap tile %s: %v", cacheKey, err)
		}
	}

	s.serveTile(w, data, http.DetectContentType(data), "MISS")
	metrics.RecordTileServed(common.ProviderBasemap, "miss", time.Since(start))
}

// basemapTemplate resolves a source name to its XYZ template and zoom
// range. WMTS capability URLs cannot be fetched as tiles directly;
// they have to be resolved to a layer template when the source is
// added, so only xyz sources are served here.
func (s *Server) basemapTemplate(source string) (template string, minZoom, maxZoom int, err error) {
	if source == "default" {
		return s.cfg.BasemapURL, 0, defaultBasemapMaxZoom, nil
	}

	if s.cfg.Settings != nil {
		if src, ok := s.cfg.Settings.CustomSource(source); ok {
			if !src.Enabled {
				return "", 0, 0, fmt.Errorf("basemap source %s is disabled", source)
			}
			if src.Type != "xyz" {
				return "", 0, 0, fmt.Errorf("basemap source %s is not an xyz source", source)
			}
			return src.URL, src.MinZoom, src.MaxZoom, nil
		}
	}

	return "", 0, 0, fmt.Errorf("unknown basemap source: %s", source)
}
