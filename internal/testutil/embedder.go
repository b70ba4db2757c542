package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// HashEmbedder is a deterministic ai.Embedder for tests. Each token of the
// input is hashed onto one dimension, so texts sharing words produce vectors
// with higher cosine similarity. No network, no randomness.
type HashEmbedder struct {
	Dim       int
	EmbedErr  error // if set, every Embed call fails with this error
	CallCount int
}

// NewHashEmbedder returns a deterministic embedder producing unit vectors of
// the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) Name() string { return "test/hash-embedder" }

func (h *HashEmbedder) Register(r api.Registry) {
	// No-op for testing
}

func (h *HashEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	h.CallCount++
	if h.EmbedErr != nil {
		return nil, h.EmbedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		var text string
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: h.vector(text),
		})
	}
	return resp, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok == "" {
			continue
		}
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[int(f.Sum32())%h.Dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Degenerate input still yields a valid unit vector.
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
