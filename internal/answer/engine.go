package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"

	"github.com/quarrylabs/quarry/internal/knowledge"
	"github.com/quarrylabs/quarry/internal/store"
)

// Default and maximum result counts for a query.
const (
	DefaultTopK = 5
	MaxTopK     = 50

	// defaultMaxSentences bounds extractive answers.
	defaultMaxSentences = 3
)

// ErrInvalidQuery indicates a request the engine rejects before doing any
// retrieval work.
var ErrInvalidQuery = errors.New("invalid query")

// Request is one retrieval-and-synthesis query. MaxAccessLevel is the
// caller's clearance, resolved by the authentication layer upstream.
type Request struct {
	Query          string
	TopK           int
	Filters        map[string]string
	Mode           string
	MaxAccessLevel knowledge.AccessLevel
}

// Response is the ranked result set plus the synthesized answer.
type Response struct {
	Query   string                      `json:"query"`
	Answer  string                      `json:"answer"`
	Mode    string                      `json:"mode"`
	Results []knowledge.RetrievedResult `json:"results"`
}

// Engine runs the online pipeline: embed the query, search the store with
// access and metadata predicates, synthesize an answer. Stateless across
// requests; the store and embedder are read-only shared state loaded at
// startup, so one Engine serves all concurrent requests.
type Engine struct {
	store      store.Store
	embedder   ai.Embedder
	dim        int
	extractive *Extractive
	generative *Generative
	logger     *slog.Logger
}

// NewEngine wires the retrieval engine. generative may be nil, which forces
// citations_only mode for every request.
func NewEngine(st store.Store, embedder ai.Embedder, dim int, extractive *Extractive, generative *Generative, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      st,
		embedder:   embedder,
		dim:        dim,
		extractive: extractive,
		generative: generative,
		logger:     logger,
	}
}

// Ask answers a single query. Input validation errors are returned before
// any retrieval work; generation failures never surface, they degrade to
// extractive answers inside the synthesizer.
func (e *Engine) Ask(ctx context.Context, req Request) (Response, error) {
	if req.Query == "" {
		return Response{}, fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}
	if !req.MaxAccessLevel.Valid() {
		return Response{}, fmt.Errorf("%w: access level %d", ErrInvalidQuery, int(req.MaxAccessLevel))
	}
	switch req.Mode {
	case "":
		req.Mode = knowledge.ModeRAG
	case knowledge.ModeRAG, knowledge.ModeCitationsOnly:
	default:
		return Response{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, req.Mode)
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}

	queryVec, err := knowledge.EmbedText(ctx, e.embedder, req.Query, e.dim)
	if err != nil {
		return Response{}, fmt.Errorf("embedding query: %w", err)
	}

	results, err := e.store.Search(ctx, store.SearchRequest{
		QueryVector:    queryVec,
		QueryText:      req.Query,
		TopK:           req.TopK,
		MaxAccessLevel: req.MaxAccessLevel,
		Filters:        req.Filters,
	})
	if err != nil {
		return Response{}, err
	}

	ans, err := e.synthesize(ctx, req, results)
	if err != nil {
		return Response{}, err
	}

	e.logger.Debug("query answered",
		"mode", ans.Mode,
		"fallback", ans.Fallback,
		"results", len(results),
		"access_level", req.MaxAccessLevel.String())

	return Response{
		Query:   req.Query,
		Answer:  ans.Text,
		Mode:    ans.Mode,
		Results: results,
	}, nil
}

func (e *Engine) synthesize(ctx context.Context, req Request, results []knowledge.RetrievedResult) (knowledge.Answer, error) {
	if req.Mode == knowledge.ModeRAG && e.generative != nil {
		return e.generative.Synthesize(ctx, req.Query, results, defaultMaxSentences)
	}

	text, usedIDs, err := e.extractive.Synthesize(ctx, req.Query, results, defaultMaxSentences)
	if err != nil {
		return knowledge.Answer{}, fmt.Errorf("extractive synthesis: %w", err)
	}
	return knowledge.Answer{
		Text:         text,
		Mode:         knowledge.ModeCitationsOnly,
		UsedChunkIDs: usedIDs,
	}, nil
}
