// Package app wires the retrieval engine together at startup: Genkit
// provider initialization, the shared embedder, the store backend, and the
// answer synthesizers. Initialization order is explicit: the store never
// serves before the embedding capability and index are both ready.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/store"
)

// App holds the initialized application components.
type App struct {
	Config   *config.Config
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Store    store.Store
	Engine   *answer.Engine
	Pipeline *ingest.Pipeline
	Logger   *slog.Logger

	pool *pgxpool.Pool // nil for the flat backend
}

// Close releases resources held by the application.
func (a *App) Close() error {
	var firstErr error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return firstErr
}
