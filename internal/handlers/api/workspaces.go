package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/explorer"
	"imagery-explorer/internal/metrics"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
)

type createWorkspaceRequest struct {
	Name     string           `json:"name"`
	Viewport *common.Viewport `json:"viewport,omitempty"`
}

type layersResponse struct {
	Layers []explorer.Layer `json:"layers"`
}

type searchResponse struct {
	Items   []stac.Item `json:"items"`
	Matched int         `json:"matched"`
}

func (h *Handler) listCollections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collections": h.Registry.List(),
	})
}

func (h *Handler) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ws, err := h.Store.Create(req.Name, h.startingViewport(req.Viewport))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, ws)
}

// startingViewport picks the initial viewport for a new workspace: the
// caller's choice, else where the user last was, else the configured
// default center.
func (h *Handler) startingViewport(requested *common.Viewport) common.Viewport {
	if requested != nil {
		return *requested
	}

	settings := h.Settings.Get()
	if settings.LastViewport != nil {
		return *settings.LastViewport
	}
	return common.Viewport{
		Lat:  settings.DefaultCenterLat,
		Lon:  settings.DefaultCenterLon,
		Zoom: float64(settings.DefaultZoom),
	}
}

func (h *Handler) listWorkspaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces": h.Store.List(),
	})
}

func (h *Handler) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *Handler) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Delete(mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) putViewport(w http.ResponseWriter, r *http.Request) {
	var viewport common.Viewport
	if err := decodeJSON(r, &viewport); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ws, err := h.Store.Update(mux.Vars(r)["id"], func(ws *explorer.Workspace) error {
		return ws.SetViewport(viewport)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Remember the position so the next session opens where this one left off.
	if err := h.Settings.SaveViewport(viewport); err != nil {
		log.Printf("[API] Failed to save last viewport: %v", err)
	}

	writeJSON(w, http.StatusOK, ws.Viewport)
}

func (h *Handler) runSearch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var params stac.SearchParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	collection, err := h.Registry.Get(params.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Collections without cloud metadata cannot filter on it.
	if !collection.Capabilities.CloudCover {
		params.MaxCloudCover = -1
	}

	if _, err := h.Store.Get(id); err != nil {
		writeStoreError(w, err)
		return
	}

	start := time.Now()
	result, err := h.Catalog().Search(r.Context(), params)
	if err != nil {
		metrics.RecordSearch(params.Collection, "error", time.Since(start))
		h.writeUpstreamError(w, common.ProviderSTAC, err)
		return
	}
	metrics.RecordSearch(params.Collection, "ok", time.Since(start))

	ws, err := h.Store.Update(id, func(ws *explorer.Workspace) error {
		ws.SetSearch(params, result.Items)
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.track("search", map[string]interface{}{
		"collection": params.Collection,
		"results":    len(result.Items),
	})

	writeJSON(w, http.StatusOK, searchResponse{Items: ws.Results, Matched: result.Matched})
}

func (h *Handler) getLayers(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.writeLayers(w, ws)
}

// writeLayers resolves and writes the workspace's overlay descriptors.
// Resolution failures mean stored state no longer matches the registry,
// which is a server-side problem, not a client one.
func (h *Handler) writeLayers(w http.ResponseWriter, ws *explorer.Workspace) {
	layers, err := ws.ResolveLayers(h.Registry, h.Endpoints())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, layersResponse{Layers: layers})
}

type selectItemRequest struct {
	ItemID string `json:"itemId"`
}

func (h *Handler) selectItem(w http.ResponseWriter, r *http.Request) {
	var req selectItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ws, err := h.Store.Update(mux.Vars(r)["id"], func(ws *explorer.Workspace) error {
		return ws.SelectItem(h.Registry, req.ItemID)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.track("item_selected", map[string]interface{}{"item": req.ItemID})
	h.writeLayers(w, ws)
}

func (h *Handler) deselectItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ws, err := h.Store.Update(vars["id"], func(ws *explorer.Workspace) error {
		ws.DeselectItem(vars["item"])
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.writeLayers(w, ws)
}

type layerStateRequest struct {
	Band         *string                   `json:"band,omitempty"`
	Rescale      *registry.RescaleOverride `json:"rescale,omitempty"`
	ClearRescale bool                      `json:"clearRescale,omitempty"`
	Visible      *bool                     `json:"visible,omitempty"`
	Opacity      *float64                  `json:"opacity,omitempty"`
}

func (h *Handler) putLayerState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	itemID := vars["item"]

	var req layerStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ws, err := h.Store.Update(vars["id"], func(ws *explorer.Workspace) error {
		if req.Band != nil {
			if err := ws.SetBand(h.Registry, itemID, *req.Band); err != nil {
				return err
			}
		}
		if req.Rescale != nil {
			if err := ws.SetRange(h.Registry, itemID, req.Rescale); err != nil {
				return err
			}
		} else if req.ClearRescale {
			if err := ws.SetRange(h.Registry, itemID, nil); err != nil {
				return err
			}
		}
		if req.Visible != nil {
			if err := ws.SetVisibility(itemID, *req.Visible); err != nil {
				return err
			}
		}
		if req.Opacity != nil {
			if err := ws.SetOpacity(itemID, *req.Opacity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.writeLayers(w, ws)
}
