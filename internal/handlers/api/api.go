// Package api implements the explorer's JSON REST API: workspaces and
// search, layer state, the export queue, rate-limit state, and settings.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/config"
	"imagery-explorer/internal/explorer"
	"imagery-explorer/internal/ratelimit"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
	"imagery-explorer/internal/taskqueue"
)

// Handler carries the API's collaborators and mounts the REST routes.
type Handler struct {
	Store      *explorer.Store
	Registry   *registry.Registry
	Queue      *taskqueue.QueueManager
	Settings   *config.Manager
	RateLimits *ratelimit.Handler

	// Catalog returns the search client for the currently configured
	// endpoint, so settings changes apply without a restart.
	Catalog func() *stac.Client

	// Endpoints reports the upstream endpoints tile URLs are built for.
	Endpoints func() explorer.Endpoints

	// TrackEvent forwards product telemetry. Nil disables it.
	TrackEvent func(event string, properties map[string]interface{})

	// ExportDir returns the directory finished exports live under.
	ExportDir func() string
}

// Mount registers the API routes on the given subrouter. Fixed paths
// are registered before their sibling {id} routes; mux matches in
// registration order.
func (h *Handler) Mount(r *mux.Router) {
	r.HandleFunc("/collections", h.listCollections).Methods(http.MethodGet)

	r.HandleFunc("/workspaces", h.createWorkspace).Methods(http.MethodPost)
	r.HandleFunc("/workspaces", h.listWorkspaces).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{id}", h.getWorkspace).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{id}", h.deleteWorkspace).Methods(http.MethodDelete)
	r.HandleFunc("/workspaces/{id}/viewport", h.putViewport).Methods(http.MethodPut)
	r.HandleFunc("/workspaces/{id}/search", h.runSearch).Methods(http.MethodPost)
	r.HandleFunc("/workspaces/{id}/layers", h.getLayers).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{id}/layers/{item}", h.putLayerState).Methods(http.MethodPut)
	r.HandleFunc("/workspaces/{id}/selection", h.selectItem).Methods(http.MethodPost)
	r.HandleFunc("/workspaces/{id}/selection/{item}", h.deselectItem).Methods(http.MethodDelete)

	r.HandleFunc("/exports/queue", h.queueStatus).Methods(http.MethodGet)
	r.HandleFunc("/exports/queue/pause", h.pauseQueue).Methods(http.MethodPost)
	r.HandleFunc("/exports/queue/resume", h.resumeQueue).Methods(http.MethodPost)
	r.HandleFunc("/exports/queue/clear-completed", h.clearCompleted).Methods(http.MethodPost)
	r.HandleFunc("/exports", h.submitExport).Methods(http.MethodPost)
	r.HandleFunc("/exports", h.listExports).Methods(http.MethodGet)
	r.HandleFunc("/exports/{id}", h.getExport).Methods(http.MethodGet)
	r.HandleFunc("/exports/{id}", h.cancelExport).Methods(http.MethodDelete)
	r.HandleFunc("/exports/{id}/download", h.downloadExport).Methods(http.MethodGet)

	r.HandleFunc("/ratelimit", h.rateLimitStates).Methods(http.MethodGet)
	r.HandleFunc("/ratelimit/{provider}", h.rateLimitState).Methods(http.MethodGet)
	r.HandleFunc("/ratelimit/{provider}/retry", h.retryProvider).Methods(http.MethodPost)

	r.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	r.HandleFunc("/settings", h.putSettings).Methods(http.MethodPut)
	r.HandleFunc("/settings/sources", h.addCustomSource).Methods(http.MethodPost)
	r.HandleFunc("/settings/sources/validate-wmts", h.validateWMTS).Methods(http.MethodPost)
	r.HandleFunc("/settings/sources/{name}", h.updateCustomSource).Methods(http.MethodPut)
	r.HandleFunc("/settings/sources/{name}", h.removeCustomSource).Methods(http.MethodDelete)
	r.HandleFunc("/settings/presets", h.addDatePreset).Methods(http.MethodPost)
	r.HandleFunc("/settings/presets/default", h.setDefaultPreset).Methods(http.MethodPut)
	r.HandleFunc("/settings/presets/{name}", h.removeDatePreset).Methods(http.MethodDelete)
}

func (h *Handler) track(event string, properties map[string]interface{}) {
	if h.TrackEvent != nil {
		h.TrackEvent(event, properties)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeStoreError maps workspace mutation errors: unknown workspace is
// 404, anything else is a validation failure.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, explorer.ErrWorkspaceNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

// writeUpstreamError maps catalog and tile service failures. An active
// rate limit surfaces as 503 with Retry-After so the UI can back off.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, provider string, err error) {
	rateLimited := errors.Is(err, stac.ErrRateLimited)

	if h.RateLimits != nil && h.RateLimits.IsRateLimited(provider) {
		rateLimited = true
		if state := h.RateLimits.GetCurrentState(provider); state != nil && !state.NextRetryAt.IsZero() {
			if wait := time.Until(state.NextRetryAt); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)+1))
			}
		}
	}

	if rateLimited {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeError(w, http.StatusBadGateway, err)
}
