package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/internal/knowledge"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/testutil"
)

// stubGenerator is a scripted Generator for testing fallback behavior.
type stubGenerator struct {
	text       string
	err        error
	delay      time.Duration
	lastSystem string
	lastUser   string
}

func (s *stubGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	s.lastSystem = system
	s.lastUser = user
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func newTestGenerative(gen Generator, timeout time.Duration) *Generative {
	extractive := NewExtractive(testutil.NewHashEmbedder(testDim), testDim, log.NewNop())
	return NewGenerative(gen, extractive, timeout)
}

func TestGenerativeSuccess(t *testing.T) {
	gen := &stubGenerator{text: "Submit the form via the portal [chunk:3]."}
	g := newTestGenerative(gen, time.Second)

	retrieved := []knowledge.RetrievedResult{
		result(3, "Submit the expense form through the internal portal."),
		result(4, "Approvals take two business days after submission."),
	}
	ans, err := g.Synthesize(context.Background(), "how do I submit expenses", retrieved, 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if ans.Mode != knowledge.ModeRAG {
		t.Errorf("mode = %q", ans.Mode)
	}
	if ans.Fallback {
		t.Error("successful generation should not be marked as fallback")
	}
	if ans.Text != gen.text {
		t.Errorf("text = %q", ans.Text)
	}
	if len(ans.UsedChunkIDs) != 2 {
		t.Errorf("UsedChunkIDs = %v", ans.UsedChunkIDs)
	}

	// The prompt grounds the model in the retrieved chunks.
	if !strings.Contains(gen.lastUser, "QUESTION:") || !strings.Contains(gen.lastUser, "CONTEXT:") {
		t.Errorf("prompt missing sections: %q", gen.lastUser)
	}
	if !strings.Contains(gen.lastUser, "[chunk:3]") || !strings.Contains(gen.lastUser, "[chunk:4]") {
		t.Errorf("prompt missing chunk headers: %q", gen.lastUser)
	}
	if !strings.Contains(gen.lastSystem, "ONLY the provided CONTEXT") {
		t.Errorf("system instruction not passed: %q", gen.lastSystem)
	}
}

func TestGenerativeFallbackOnError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model endpoint unreachable")}
	g := newTestGenerative(gen, time.Second)

	retrieved := []knowledge.RetrievedResult{
		result(1, "Expense reports are submitted through the finance portal every month."),
	}
	ans, err := g.Synthesize(context.Background(), "expense reports", retrieved, 3)
	if err != nil {
		t.Fatalf("fallback must not surface the generation error, got %v", err)
	}
	if ans.Mode != knowledge.ModeCitationsOnly {
		t.Errorf("fallback mode = %q", ans.Mode)
	}
	if !ans.Fallback {
		t.Error("Fallback flag not set")
	}
	if !strings.Contains(ans.Text, "generative answer unavailable") {
		t.Errorf("fallback marker missing: %q", ans.Text)
	}
	if !strings.Contains(ans.Text, "finance portal") {
		t.Errorf("extractive content missing: %q", ans.Text)
	}
	if len(ans.UsedChunkIDs) != 1 || ans.UsedChunkIDs[0] != 1 {
		t.Errorf("UsedChunkIDs = %v", ans.UsedChunkIDs)
	}
}

func TestGenerativeFallbackOnTimeout(t *testing.T) {
	gen := &stubGenerator{text: "too late", delay: 200 * time.Millisecond}
	g := newTestGenerative(gen, 10*time.Millisecond)

	retrieved := []knowledge.RetrievedResult{
		result(1, "The relevant policy sentence lives right here in this chunk."),
	}
	ans, err := g.Synthesize(context.Background(), "policy", retrieved, 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !ans.Fallback || ans.Mode != knowledge.ModeCitationsOnly {
		t.Errorf("timeout should degrade to extractive: %+v", ans)
	}
}

func TestGenerativeEmptyOutputTriggersFallback(t *testing.T) {
	g := newTestGenerative(&stubGenerator{err: ErrEmptyGeneration}, time.Second)

	retrieved := []knowledge.RetrievedResult{
		result(1, "Another perfectly extractable policy sentence for the fallback."),
	}
	ans, err := g.Synthesize(context.Background(), "policy", retrieved, 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !ans.Fallback {
		t.Error("empty generation should fall back to extraction")
	}
}

func TestBuildContextCapsWholeChunks(t *testing.T) {
	big := strings.Repeat("x", 7000)
	retrieved := []knowledge.RetrievedResult{
		{ChunkID: 1, Text: big, Citation: knowledge.Citation{Title: "a"}},
		{ChunkID: 2, Text: big, Citation: knowledge.Citation{Title: "b"}},
		{ChunkID: 3, Text: "small tail chunk", Citation: knowledge.Citation{Title: "c"}},
	}

	got := buildContext(retrieved)
	if len(got) > maxContextChars {
		t.Fatalf("context length %d exceeds cap %d", len(got), maxContextChars)
	}
	if !strings.Contains(got, "[chunk:1]") {
		t.Error("first chunk missing")
	}
	// The second big chunk overflows the cap; later chunks are dropped with
	// it rather than truncated mid-body.
	if strings.Contains(got, "[chunk:2]") {
		t.Error("overflowing chunk should be omitted entirely")
	}
	if n := strings.Count(got, "x"); n != 7000 {
		t.Errorf("chunk body truncated: %d of 7000 chars", n)
	}
}
