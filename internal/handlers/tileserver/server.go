// Package tileserver runs the explorer's HTTP server: the embedded web
// UI, the JSON API, and the tile proxy that fronts TiTiler and basemap
// upstreams with a two-level cache.
package tileserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/cache"
	"imagery-explorer/internal/common"
	"imagery-explorer/internal/config"
	"imagery-explorer/internal/explorer"
	"imagery-explorer/internal/exports"
	"imagery-explorer/internal/metrics"
	"imagery-explorer/internal/ratelimit"
	"imagery-explorer/internal/registry"
)

// APIMounter attaches API routes under the /api subrouter.
type APIMounter interface {
	Mount(r *mux.Router)
}

// Config carries the server's collaborators. Nil optional fields turn
// the matching feature off (no static UI, no caching, no API).
type Config struct {
	Addr       string
	Static     fs.FS
	Registry   *registry.Registry
	Store      *explorer.Store
	Settings   *config.Manager
	MemCache   *cache.MemoryTileCache
	DiskCache  *cache.PersistentTileCache
	RateLimits *ratelimit.Handler
	Limiter    *ratelimit.ClientLimiter
	API        APIMounter

	// Endpoints reports the current upstream STAC/TiTiler endpoints.
	// Resolved per request so settings changes apply without a restart.
	Endpoints func() explorer.Endpoints

	// BasemapURL is the XYZ template behind the "default" basemap source.
	BasemapURL string

	DevMode bool
}

// Server serves tiles, the API, and the web UI on one listener.
type Server struct {
	cfg          Config
	titilerFetch *exports.TileFetcher
	basemapFetch *exports.TileFetcher
	httpServer   *http.Server
	listener     net.Listener
	url          string
}

// NewServer creates a server. Call Start to begin listening.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:          cfg,
		titilerFetch: exports.NewTileFetcher(cfg.RateLimits, common.ProviderTiTiler),
		basemapFetch: exports.NewTileFetcher(cfg.RateLimits, common.ProviderBasemap),
	}
}

// Router builds the full handler chain. Middleware wraps the router
// itself so CORS and metrics also cover preflights and unmatched paths.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	tiles := r.PathPrefix("/tiles").Subrouter()
	tiles.HandleFunc("/items/{workspace}/{item}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.png", s.handleItemTile).Methods(http.MethodGet)
	tiles.HandleFunc("/basemap/{source}/{z:[0-9]+}/{x:[0-9]+}/{y}", s.handleBasemapTile).Methods(http.MethodGet)

	if s.cfg.API != nil {
		api := r.PathPrefix("/api").Subrouter()
		if s.cfg.Limiter != nil {
			api.Use(s.cfg.Limiter.Middleware)
		}
		s.cfg.API.Mount(api)
	}

	if s.cfg.Static != nil {
		r.PathPrefix("/").Handler(http.FileServer(http.FS(s.cfg.Static)))
	}

	return corsMiddleware(loggingMiddleware(metrics.Middleware(r)))
}

// corsMiddleware adds CORS headers so the map widget can request tiles
// from any origin, and answers preflight OPTIONS requests inline.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs API and page requests. Tile and metrics
// traffic is skipped; at normal map usage it would drown everything.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/tiles/") || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[Server] %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.listener = listener
	s.url = fmt.Sprintf("http://%s", listener.Addr().String())

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[Server] Listening on %s", s.url)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] Stopped: %v", err)
		}
	}()

	return nil
}

// URL returns the base URL once Start has succeeded.
func (s *Server) URL() string {
	return s.url
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
