package api

import (
	"log/slog"
	"net/http"
)

// healthHandler serves the liveness endpoint.
type healthHandler struct {
	embedderModel string
	logger        *slog.Logger
}

// handleHealth handles GET /healthz.
func (h *healthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"embed_model": h.embedderModel,
	}, h.logger)
}
