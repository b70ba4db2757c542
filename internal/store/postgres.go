package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/quarrylabs/quarry/internal/knowledge"
)

// Postgres is the relational backend: a pgvector column for dense similarity
// and a 'simple'-configuration full-text index for lexical rank, combined
// with the access and metadata predicates inside a single query. Filtering
// happens before LIMIT, so inaccessible top candidates never crowd out
// accessible ones and no over-fetch adapter is needed.
type Postgres struct {
	pool   *pgxpool.Pool
	alpha  float64
	dim    int
	logger *slog.Logger
}

// NewPostgres creates a Postgres store over an existing pool. The pool must
// have pgvector types registered (see app.Setup).
func NewPostgres(pool *pgxpool.Pool, dim int, alpha float64, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, alpha: alpha, dim: dim, logger: logger}
}

// Search implements Store.
func (p *Postgres) Search(ctx context.Context, req SearchRequest) ([]knowledge.RetrievedResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if len(req.QueryVector) != p.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", ErrDimensionMismatch, len(req.QueryVector), p.dim)
	}
	if req.TopK <= 0 {
		return nil, nil
	}

	qvec := pgvector.NewVector(req.QueryVector)

	// $1 query vector, $2 query text, $3 max access level, $4 alpha,
	// then one pair of parameters per metadata filter, LIMIT last.
	where := []string{"c.access_level <= $3"}
	args := []any{qvec, req.QueryText, int(req.MaxAccessLevel), p.alpha}

	for key, val := range req.Filters {
		where = append(where, fmt.Sprintf("(c.metadata ->> $%d) = $%d", len(args)+1, len(args)+2))
		args = append(args, key, val)
	}
	args = append(args, req.TopK)

	//nolint:gosec // WHERE fragments contain only positional placeholders;
	// filter keys and values are always bound parameters.
	query := fmt.Sprintf(`
		SELECT
			c.id,
			c.text,
			c.access_level,
			COALESCE(c.page, 0),
			d.title,
			d.source_path,
			d.department,
			(1 - (c.embedding <=> $1))::float8 AS vector_score,
			ts_rank(to_tsvector('simple', c.text), plainto_tsquery('simple', $2))::float8 AS keyword_score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE %s
		ORDER BY (1 - (c.embedding <=> $1)) + $4 * ts_rank(to_tsvector('simple', c.text), plainto_tsquery('simple', $2)) DESC, c.id ASC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}
	defer rows.Close()

	var results []knowledge.RetrievedResult
	for rows.Next() {
		var (
			r           knowledge.RetrievedResult
			accessLevel int
			page        int
		)
		if err := rows.Scan(
			&r.ChunkID, &r.Text, &accessLevel, &page,
			&r.Citation.Title, &r.Citation.SourcePath, &r.Citation.Department,
			&r.VectorScore, &r.KeywordScore,
		); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		r.Citation.AccessLevel = knowledge.AccessLevel(accessLevel)
		r.Citation.Page = page
		r.Score = r.VectorScore + p.alpha*r.KeywordScore
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

// BulkInsert implements Store. The whole batch runs inside one transaction:
// with reset, tables are truncated first, so concurrent queries see either
// the previous dataset or the complete new one. Any error before commit
// leaves the store untouched.
func (p *Postgres) BulkInsert(ctx context.Context, docs []IngestDocument, reset bool) (retErr error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				p.logger.Warn("rolling back ingest transaction", "error", rbErr)
			}
		}
	}()

	if reset {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE chunks RESTART IDENTITY CASCADE"); err != nil {
			return fmt.Errorf("truncating chunks: %w", err)
		}
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE documents CASCADE"); err != nil {
			return fmt.Errorf("truncating documents: %w", err)
		}
	}

	batch := &pgx.Batch{}
	chunkCount := 0
	for _, doc := range docs {
		batch.Queue(
			`INSERT INTO documents (id, title, source_path, department, access_level)
			 VALUES ($1, $2, $3, $4, $5)`,
			doc.ID, doc.Title, doc.SourcePath, doc.Department, int(doc.AccessLevel),
		)

		for _, ch := range doc.Chunks {
			if len(ch.Embedding) != p.dim {
				return fmt.Errorf("%w: chunk has %d dimensions, store wants %d", ErrDimensionMismatch, len(ch.Embedding), p.dim)
			}

			metadataJSON, err := json.Marshal(ch.Metadata)
			if err != nil {
				return fmt.Errorf("marshaling chunk metadata: %w", err)
			}

			var page any
			if raw, ok := ch.Metadata["page"]; ok && raw != "" {
				page = raw
			}

			batch.Queue(
				`INSERT INTO chunks (document_id, chunk_index, page, text, metadata, access_level, embedding)
				 VALUES ($1, $2, $3::int, $4, $5, $6, $7)`,
				doc.ID, ch.ChunkIndex, page, ch.Text, metadataJSON, int(ch.AccessLevel), pgvector.NewVector(ch.Embedding),
			)
			chunkCount++
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("executing ingest batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing ingest transaction: %w", err)
	}

	p.logger.Info("ingested batch", "documents", len(docs), "chunks", chunkCount, "reset", reset)
	return nil
}

// Count implements Store.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return int(count), nil
}

// Close implements Store. The pool is owned by the caller.
func (*Postgres) Close() error { return nil }
