package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/internal/knowledge"
)

// SearchRequest carries one hybrid retrieval query. QueryVector and QueryText
// describe the same query in the two scoring spaces; MaxAccessLevel is the
// caller's clearance and is enforced inside the backend, never by callers.
type SearchRequest struct {
	QueryVector    []float32
	QueryText      string
	TopK           int
	MaxAccessLevel knowledge.AccessLevel
	Filters        map[string]string
}

// IngestDocument is a document plus its embedded chunks, ready for insertion.
type IngestDocument struct {
	ID          uuid.UUID
	Title       string
	SourcePath  string
	Department  string
	AccessLevel knowledge.AccessLevel
	Chunks      []knowledge.Chunk
}

// Store persists chunks with their vectors and metadata and serves hybrid
// nearest-neighbor plus lexical queries with access-level and metadata
// filtering.
//
// Implementations guarantee:
//   - every returned chunk's access level is <= the request's MaxAccessLevel;
//   - unrecognized filter keys are rejected with ErrUnsupportedFilter before
//     any retrieval work;
//   - results are ordered by combined score descending, ties broken by
//     stable input order;
//   - BulkInsert is atomic: concurrent readers observe the old or the new
//     dataset, never a mix.
//
// Fewer than TopK results may be returned when filters are selective.
type Store interface {
	Search(ctx context.Context, req SearchRequest) ([]knowledge.RetrievedResult, error)
	BulkInsert(ctx context.Context, docs []IngestDocument, reset bool) error
	Count(ctx context.Context) (int, error)
	Close() error
}
