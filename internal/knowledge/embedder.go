package knowledge

import (
	"context"
	"fmt"
	"math"

	"github.com/firebase/genkit/go/ai"
)

// EmbedTexts embeds a batch of texts with the given embedder and returns one
// unit-normalized vector per input, each of exactly dim dimensions.
//
// The same embedder (and therefore the same vector space) must be used at
// ingestion and query time. A dimension mismatch is a configuration error and
// is returned as such rather than silently accepted.
func EmbedTexts(ctx context.Context, embedder ai.Embedder, texts []string, dim int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding returned for input %d", i)
		}
		if dim > 0 && len(e.Embedding) != dim {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(e.Embedding), dim)
		}
		vectors[i] = Normalize(e.Embedding)
	}
	return vectors, nil
}

// EmbedText embeds a single text. See EmbedTexts.
func EmbedText(ctx context.Context, embedder ai.Embedder, text string, dim int) ([]float32, error) {
	vecs, err := EmbedTexts(ctx, embedder, []string{text}, dim)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Normalize returns v scaled to unit L2 norm. A zero vector is returned
// unchanged. The input is not modified.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot computes the inner product of two vectors. For unit-normalized vectors
// this equals cosine similarity.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
