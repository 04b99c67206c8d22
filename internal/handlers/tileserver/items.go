package tileserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/cache"
	"imagery-explorer/internal/common"
	"imagery-explorer/internal/explorer"
	"imagery-explorer/internal/exports"
	"imagery-explorer/internal/metrics"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/tiles"
)

// transparentPNG is a 1x1 transparent PNG. The map widget stretches it
// to tile size, so tiles outside an item's footprint render as empty
// space instead of broken images.
var transparentPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00,
	0x01, 0x03, 0x00, 0x00, 0x00, 0x66, 0xbc, 0x3a, 0x25, 0x00, 0x00, 0x00,
	0x03, 0x50, 0x4c, 0x54, 0x45, 0x00, 0x00, 0x00, 0xa7, 0x7a, 0x3d, 0xda,
	0x00, 0x00, 0x00, 0x01, 0x74, 0x52, 0x4e, 0x53, 0x00, 0x40, 0xe6, 0xd8,
	0x66, 0x00, 0x00, 0x00, 0x1f, 0x49, 0x44, 0x41, 0x54, 0x68, 0xde, 0xed,
	0xc1, 0x01, 0x0d, 0x00, 0x00, 0x00, 0xc2, 0xa0, 0xf7, 0x4f, 0x6d, 0x0e,
	0x37, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xbe, 0x0d,
	0x21, 0x00, 0x00, 0x01, 0x9a, 0x60, 0xe1, 0xd5, 0x00, 0x00, 0x00, 0x00,
	0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// handleItemTile serves rendered STAC item tiles through the cache.
// URL format: /tiles/items/{workspace}/{item}/{z}/{x}/{y}.png
// The workspace's layer state decides band and rescale, so the browser
// never sees the upstream TiTiler URL. A ?v= query param versions the
// browser cache across band switches; the server ignores it.
func (s *Server) handleItemTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	z, x, y, ok := parseTileCoords(w, vars)
	if !ok {
		return
	}

	workspaceID := vars["workspace"]
	itemID := vars["item"]

	template, state, err := s.cfg.Store.ResolveTileTemplate(s.cfg.Registry, s.cfg.Endpoints(), workspaceID, itemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	start := time.Now()
	layerKey := explorer.CacheLayerKey(itemID, state)
	cacheKey := cache.BuildKey(common.ProviderTiTiler, layerKey, z, x, y)

	if data, found := s.memCacheGet(cacheKey); found {
		if s.cfg.DevMode {
			log.Printf("[Cache HIT] Item tile %s z=%d x=%d y=%d (memory)", layerKey, z, x, y)
		}
		s.serveTile(w, data, "image/png", "HIT")
		metrics.RecordTileServed(common.ProviderTiTiler, "hit", time.Since(start))
		return
	}

	if s.cfg.DiskCache != nil {
		if data, found := s.cfg.DiskCache.Get(cacheKey); found {
			if s.cfg.DevMode {
				log.Printf("[Cache HIT] Item tile %s z=%d x=%d y=%d (disk)", layerKey, z, x, y)
			}
			s.memCacheSet(cacheKey, data)
			s.serveTile(w, data, "image/png", "HIT")
			metrics.RecordTileServed(common.ProviderTiTiler, "hit", time.Since(start))
			return
		}
	}

	tileURL := registry.ExpandTileURL(template, z, x, y)
	data, err := s.titilerFetch.FetchTile(r.Context(), tileURL)
	if err != nil {
		s.handleFetchError(w, r, common.ProviderTiTiler, err)
		return
	}

	if s.cfg.DevMode {
		log.Printf("[Cache MISS] Item tile %s z=%d x=%d y=%d fetched from TiTiler", layerKey, z, x, y)
	}

	s.memCacheSet(cacheKey, data)
	if s.cfg.DiskCache != nil {
		if err := s.cfg.DiskCache.Set(common.ProviderTiTiler, layerKey, z, x, y, data); err != nil {
			log.Printf("[TileProxy] Failed to cache tile %s: %v", cacheKey, err)
		}
	}

	s.serveTile(w, data, "image/png", "MISS")
	metrics.RecordTileServed(common.ProviderTiTiler, "miss", time.Since(start))
}

// parseTileCoords reads z/x/y route vars and rejects coordinates
// outside the pyramid. Route regexes already guarantee digits.
func parseTileCoords(w http.ResponseWriter, vars map[string]string) (z, x, y int, ok bool) {
	z, _ = strconv.Atoi(vars["z"])
	x, _ = strconv.Atoi(vars["x"])
	y, _ = strconv.Atoi(vars["y"])

	if z < tiles.MinZoom || z > tiles.MaxZoom {
		http.Error(w, "zoom level out of range", http.StatusBadRequest)
		return 0, 0, 0, false
	}
	n := 1 << z
	if x >= n || y >= n {
		http.Error(w, "tile coordinates out of range for zoom", http.StatusBadRequest)
		return 0, 0, 0, false
	}
	return z, x, y, true
}

func (s *Server) memCacheGet(key string) ([]byte, bool) {
	if s.cfg.MemCache == nil {
		return nil, false
	}
	return s.cfg.MemCache.Get(key)
}

func (s *Server) memCacheSet(key string, data []byte) {
	if s.cfg.MemCache != nil {
		s.cfg.MemCache.Set(key, data)
	}
}

func (s *Server) serveTile(w http.ResponseWriter, data []byte, contentType, cacheStatus string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Cache-Status", cacheStatus)
	w.Write(data)
}

// serveTransparentTile serves an empty tile for areas with no data.
func (s *Server) serveTransparentTile(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(transparentPNG)
}

// handleFetchError maps upstream fetch failures to proxy responses.
// Tiles outside an item's footprint become transparent tiles; an
// active rate limit becomes 503 with Retry-After so the map widget can
// back off; anything else is a plain bad gateway.
func (s *Server) handleFetchError(w http.ResponseWriter, r *http.Request, provider string, err error) {
	if errors.Is(err, exports.ErrTileOutsideCoverage) {
		s.serveTransparentTile(w)
		return
	}

	if errors.Is(r.Context().Err(), context.Canceled) {
		return
	}

	if s.cfg.RateLimits != nil && s.cfg.RateLimits.IsRateLimited(provider) {
		if state := s.cfg.RateLimits.GetCurrentState(provider); state != nil && !state.NextRetryAt.IsZero() {
			if wait := time.Until(state.NextRetryAt); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)+1))
			}
		}
		http.Error(w, "upstream rate limited, retry later", http.StatusServiceUnavailable)
		return
	}

	http.Error(w, "failed to fetch tile: "+err.Error(), http.StatusBadGateway)
}
