package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/config"
	"imagery-explorer/internal/wmts"
)

func (h *Handler) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings.Get())
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings config.UserSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Settings.Save(&settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.Get())
}

func (h *Handler) addCustomSource(w http.ResponseWriter, r *http.Request) {
	var source config.CustomSource
	if err := decodeJSON(r, &source); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Settings.AddCustomSource(source); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrSourceExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}

	h.track("custom_source_added", map[string]interface{}{"type": source.Type})
	writeJSON(w, http.StatusCreated, source)
}

func (h *Handler) updateCustomSource(w http.ResponseWriter, r *http.Request) {
	var source config.CustomSource
	if err := decodeJSON(r, &source); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Settings.UpdateCustomSource(mux.Vars(r)["name"], source); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrSourceNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (h *Handler) removeCustomSource(w http.ResponseWriter, r *http.Request) {
	if err := h.Settings.RemoveCustomSource(mux.Vars(r)["name"]); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrSourceNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateWMTSRequest struct {
	URL string `json:"url"`
}

// validateWMTS probes a WMTS capabilities endpoint and reports its layers
// with XYZ-style templates, so the UI can offer them as custom sources.
func (h *Handler) validateWMTS(w http.ResponseWriter, r *http.Request) {
	var req validateWMTSRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	layers, err := wmts.ValidateEndpoint(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"layers": layers})
}

func (h *Handler) addDatePreset(w http.ResponseWriter, r *http.Request) {
	var preset config.DateRangePreset
	if err := decodeJSON(r, &preset); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Settings.AddDateRangePreset(preset); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, preset)
}

func (h *Handler) removeDatePreset(w http.ResponseWriter, r *http.Request) {
	if err := h.Settings.RemoveDateRangePreset(mux.Vars(r)["name"]); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrPresetNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type defaultPresetRequest struct {
	Name string `json:"name"`
}

func (h *Handler) setDefaultPreset(w http.ResponseWriter, r *http.Request) {
	var req defaultPresetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Settings.SetDefaultDatePreset(req.Name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrPresetNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.Get())
}
