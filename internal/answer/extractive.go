package answer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/quarrylabs/quarry/internal/knowledge"
)

// Fixed answers for the degenerate extractive cases.
const (
	noResultsAnswer   = "I couldn't find relevant information in the knowledge base."
	noSentencesAnswer = "I found relevant sources, but couldn't extract a clear answer."
)

// Extractive assembles answers purely by selecting existing sentences from
// retrieved chunks, with no generation. Sentences are scored by cosine
// similarity to the query in the same vector space used for retrieval.
type Extractive struct {
	embedder ai.Embedder
	dim      int
	logger   *slog.Logger
}

// NewExtractive creates an extractive synthesizer using the retrieval
// embedder.
func NewExtractive(embedder ai.Embedder, dim int, logger *slog.Logger) *Extractive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractive{embedder: embedder, dim: dim, logger: logger}
}

// Synthesize selects up to maxSentences query-relevant sentences from the
// retrieved chunks and returns them joined by single spaces, together with
// the ordered, deduplicated ids of the chunks that contributed.
func (e *Extractive) Synthesize(ctx context.Context, query string, retrieved []knowledge.RetrievedResult, maxSentences int) (string, []int64, error) {
	if len(retrieved) == 0 {
		return noResultsAnswer, nil, nil
	}

	// Candidate sentences, each pointing back at its source chunk.
	type candidate struct {
		sentence string
		chunkID  int64
		score    float64
	}
	var candidates []candidate
	for _, r := range retrieved {
		for _, s := range splitSentences(r.Text) {
			candidates = append(candidates, candidate{sentence: s, chunkID: r.ChunkID})
		}
	}

	if len(candidates) == 0 {
		// Nothing survived the length filter; the caller still gets the
		// citations even without prose.
		ids := make([]int64, len(retrieved))
		for i, r := range retrieved {
			ids[i] = r.ChunkID
		}
		return noSentencesAnswer, ids, nil
	}

	// Embed the query and every candidate in one batch.
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, c.sentence)
	}
	vectors, err := knowledge.EmbedTexts(ctx, e.embedder, texts, e.dim)
	if err != nil {
		return "", nil, fmt.Errorf("embedding candidate sentences: %w", err)
	}

	queryVec := vectors[0]
	for i := range candidates {
		candidates[i].score = knowledge.Dot(queryVec, vectors[i+1])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// Over-pick, then dedupe by exact text, keeping score order.
	pool := min(maxSentences*3, len(candidates))
	seen := make(map[string]struct{}, pool)
	var chosen []string
	var usedIDs []int64
	for _, c := range candidates[:pool] {
		if _, dup := seen[c.sentence]; dup {
			continue
		}
		seen[c.sentence] = struct{}{}
		chosen = append(chosen, c.sentence)
		usedIDs = append(usedIDs, c.chunkID)
		if len(chosen) >= maxSentences {
			break
		}
	}

	return strings.Join(chosen, " "), dedupeIDs(usedIDs), nil
}

// dedupeIDs keeps the first occurrence of each chunk id, preserving order.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
