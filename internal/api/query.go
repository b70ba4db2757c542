package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/knowledge"
	"github.com/quarrylabs/quarry/internal/store"
)

// Limits on query requests.
const (
	maxQueryLength  = 1000
	maxRequestBytes = 64 * 1024
)

// queryRequest is the JSON body of POST /api/v1/query. MaxAccessLevel is the
// caller's clearance tier as resolved by the authentication gateway in front
// of this service; this layer only validates its range.
type queryRequest struct {
	Query          string            `json:"query"`
	TopK           int               `json:"top_k"`
	Filters        map[string]string `json:"filters"`
	Mode           string            `json:"mode"`
	MaxAccessLevel int               `json:"max_access_level"`
}

// queryHandler holds dependencies for the query endpoint.
type queryHandler struct {
	engine *answer.Engine
	logger *slog.Logger
}

// handleQuery handles POST /api/v1/query.
func (h *queryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", h.logger)
		return
	}

	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query must not be empty", h.logger)
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query must be 1000 characters or fewer", h.logger)
		return
	}
	level := knowledge.AccessLevel(req.MaxAccessLevel)
	if !level.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_access_level", "max_access_level must be 0 (public), 1 (internal) or 2 (restricted)", h.logger)
		return
	}

	resp, err := h.engine.Ask(r.Context(), answer.Request{
		Query:          req.Query,
		TopK:           req.TopK,
		Filters:        req.Filters,
		Mode:           req.Mode,
		MaxAccessLevel: level,
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrUnsupportedFilter):
		writeError(w, http.StatusBadRequest, "unsupported_filter", err.Error(), h.logger)
		return
	case errors.Is(err, answer.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error(), h.logger)
		return
	default:
		h.logger.Error("answering query", "error", err, "query_len", len(req.Query))
		writeError(w, http.StatusInternalServerError, "query_failed", "failed to answer query", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, resp, h.logger)
}
