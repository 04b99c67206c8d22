package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"imagery-explorer/internal/common"
)

func (h *Handler) rateLimitStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.RateLimits.States(),
	})
}

func knownProvider(name string) bool {
	switch name {
	case common.ProviderSTAC, common.ProviderTiTiler, common.ProviderBasemap:
		return true
	}
	return false
}

func (h *Handler) rateLimitState(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if !knownProvider(provider) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown provider: %s", provider))
		return
	}
	writeJSON(w, http.StatusOK, providerState(h, provider))
}

// retryProvider clears the provider's backoff immediately instead of
// waiting for the next scheduled attempt.
func (h *Handler) retryProvider(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if !knownProvider(provider) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown provider: %s", provider))
		return
	}

	h.RateLimits.ManualRetry(provider)
	writeJSON(w, http.StatusOK, providerState(h, provider))
}

func providerState(h *Handler, provider string) map[string]interface{} {
	state := h.RateLimits.GetCurrentState(provider)
	if state == nil {
		return map[string]interface{}{
			"provider":    provider,
			"rateLimited": false,
		}
	}
	return map[string]interface{}{
		"provider":    provider,
		"rateLimited": true,
		"event":       state,
	}
}
