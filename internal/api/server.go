// Package api exposes the retrieval engine over a small JSON HTTP surface.
// Authentication and JWT handling live in the gateway in front of this
// service; the API consumes the caller's already-resolved clearance tier.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quarrylabs/quarry/internal/answer"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	Engine        *answer.Engine // Required
	EmbedderModel string         // Reported by /healthz
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	health := &healthHandler{embedderModel: cfg.EmbedderModel, logger: logger}
	mux.HandleFunc("GET /healthz", health.handleHealth)

	query := &queryHandler{engine: cfg.Engine, logger: logger}
	mux.HandleFunc("POST /api/v1/query", query.handleQuery)

	return &Server{mux: mux}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
