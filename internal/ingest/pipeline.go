package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quarrylabs/quarry/internal/knowledge"
	"github.com/quarrylabs/quarry/internal/store"
)

// embedBatchSize is the number of chunk texts sent to the embedder per call.
const embedBatchSize = 32

// Options configures one ingestion run.
type Options struct {
	InputDir     string
	MaxChars     int
	OverlapChars int
	Reset        bool

	// EmbedRate bounds embedder calls per second; zero disables limiting.
	EmbedRate float64
}

// Stats summarizes a completed ingestion run.
type Stats struct {
	Documents int
	Chunks    int
}

// Pipeline runs the offline ingestion batch: load documents, chunk them,
// embed every chunk, and hand the whole dataset to the store in one atomic
// insert. Any failure, including an embedding dimension mismatch, aborts
// before anything is written, because a half-ingested batch with missing
// access tags is unsafe to serve.
type Pipeline struct {
	loader   *Loader
	embedder ai.Embedder
	dim      int
	store    store.Store
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline. The embedder must be the same
// one used at query time so both ends live in the same vector space.
func NewPipeline(loader *Loader, embedder ai.Embedder, dim int, st store.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{loader: loader, embedder: embedder, dim: dim, store: st, logger: logger}
}

// Run executes the batch and returns its stats. Not safe for concurrent
// invocation; ingestion is a sequential job expected to run to completion
// (or be retried wholesale) before queries are served against its output.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Stats, error) {
	docs, err := p.loader.Load(opts.InputDir)
	if err != nil {
		return Stats{}, err
	}
	p.logger.Info("loaded documents", "count", len(docs), "input_dir", opts.InputDir)

	var ingestDocs []store.IngestDocument
	var allTexts []string

	// chunkRef addresses one chunk inside ingestDocs for embedding
	// assignment after the batch embed.
	type chunkRef struct{ doc, chunk int }
	var refs []chunkRef

	for _, doc := range docs {
		chunks := Chunk(doc.Text, doc.Metadata, doc.AccessLevel, opts.MaxChars, opts.OverlapChars)
		if len(chunks) == 0 {
			continue
		}

		ingestDocs = append(ingestDocs, store.IngestDocument{
			ID:          uuid.New(),
			Title:       doc.Metadata["title"],
			SourcePath:  doc.Metadata["source_path"],
			Department:  doc.Metadata["department"],
			AccessLevel: doc.AccessLevel,
			Chunks:      chunks,
		})
		for i, ch := range chunks {
			refs = append(refs, chunkRef{doc: len(ingestDocs) - 1, chunk: i})
			allTexts = append(allTexts, ch.Text)
		}
	}

	if len(allTexts) == 0 {
		return Stats{}, fmt.Errorf("%w: documents produced no chunks", ErrNoDocuments)
	}

	var limiter *rate.Limiter
	if opts.EmbedRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EmbedRate), 1)
	}

	for start := 0; start < len(allTexts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(allTexts))

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return Stats{}, fmt.Errorf("waiting for embed rate limit: %w", err)
			}
		}

		vectors, err := knowledge.EmbedTexts(ctx, p.embedder, allTexts[start:end], p.dim)
		if err != nil {
			// Includes dimension mismatches: abort before any write.
			return Stats{}, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		for i, vec := range vectors {
			ref := refs[start+i]
			ingestDocs[ref.doc].Chunks[ref.chunk].Embedding = vec
		}

		p.logger.Debug("embedded chunk batch", "from", start, "to", end-1)
	}

	if err := p.store.BulkInsert(ctx, ingestDocs, opts.Reset); err != nil {
		return Stats{}, fmt.Errorf("inserting dataset: %w", err)
	}

	stats := Stats{Documents: len(ingestDocs), Chunks: len(allTexts)}
	p.logger.Info("ingestion complete",
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"reset", opts.Reset)
	return stats, nil
}
