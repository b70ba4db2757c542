package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/quarrylabs/quarry/internal/knowledge"
)

// maxContextChars caps the grounded context block handed to the generator.
// Whole chunks only: a chunk that would overflow the cap is omitted, never
// truncated mid-body.
const maxContextChars = 12000

// systemInstruction constrains the generator to the supplied context.
const systemInstruction = `You are an enterprise knowledge base assistant.
Answer using ONLY the provided CONTEXT.
If the answer is not in the context, say you don't know based on the knowledge base.
Keep answers concise and actionable.
When you use a fact, cite it with [chunk:<id>] at the end of the sentence.`

// ErrEmptyGeneration indicates the generator returned no text. Distinct from
// transport errors but handled the same way: fall back to extraction.
var ErrEmptyGeneration = errors.New("generation returned empty text")

// Generator produces text from an ordered list of role/content messages.
// Implementations must honor the context deadline.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GenkitGenerator delegates to a Genkit-registered model.
type GenkitGenerator struct {
	g           *genkit.Genkit
	modelName   string
	temperature float32
}

// NewGenkitGenerator creates a Generator bound to a model registered in g.
// Temperature should be low for knowledge-base answering.
func NewGenkitGenerator(g *genkit.Genkit, modelName string, temperature float32) *GenkitGenerator {
	return &GenkitGenerator{g: g, modelName: modelName, temperature: temperature}
}

// Generate implements Generator.
func (gg *GenkitGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithSystem(system),
		ai.WithMessages(ai.NewUserTextMessage(user)),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: float64(gg.temperature)}),
	)
	if err != nil {
		return "", fmt.Errorf("generate failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyGeneration
	}
	return text, nil
}

// Generative synthesizes an answer by building a grounded prompt from the
// retrieved chunks and delegating to an external generation capability. Every
// generation failure (timeout, transport error, empty response) falls back
// to extractive synthesis instead of surfacing to the caller.
type Generative struct {
	generator  Generator
	extractive *Extractive
	timeout    time.Duration
}

// NewGenerative creates a generative synthesizer with a mandatory extractive
// fallback. timeout bounds each generation call independently of the
// surrounding request deadline.
func NewGenerative(generator Generator, extractive *Extractive, timeout time.Duration) *Generative {
	return &Generative{generator: generator, extractive: extractive, timeout: timeout}
}

// Synthesize returns the generated answer, or the extractive fallback with
// a visible marker when generation fails. The returned Answer's Mode and
// Fallback fields record which strategy actually produced the text.
func (g *Generative) Synthesize(ctx context.Context, query string, retrieved []knowledge.RetrievedResult, maxSentences int) (knowledge.Answer, error) {
	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.generator.Generate(genCtx, systemInstruction, buildUserPrompt(query, retrieved))
	if err == nil {
		return knowledge.Answer{
			Text:         text,
			Mode:         knowledge.ModeRAG,
			UsedChunkIDs: allChunkIDs(retrieved),
		}, nil
	}

	fallbackText, usedIDs, exErr := g.extractive.Synthesize(ctx, query, retrieved, maxSentences)
	if exErr != nil {
		return knowledge.Answer{}, fmt.Errorf("generation failed (%v) and extractive fallback failed: %w", err, exErr)
	}

	return knowledge.Answer{
		Text:         fallbackText + fmt.Sprintf("\n\n(generative answer unavailable: %v)", err),
		Mode:         knowledge.ModeCitationsOnly,
		Fallback:     true,
		UsedChunkIDs: usedIDs,
	}, nil
}

// buildUserPrompt assembles the question plus the bounded context block.
func buildUserPrompt(query string, retrieved []knowledge.RetrievedResult) string {
	return fmt.Sprintf("QUESTION:\n%s\n\nCONTEXT:\n%s", query, buildContext(retrieved))
}

// buildContext concatenates per-chunk blocks, a citation header plus the
// body, stopping before any chunk that would push the total past
// maxContextChars. Chunks are taken in rank order, so the tail is what gets
// omitted.
func buildContext(retrieved []knowledge.RetrievedResult) string {
	var parts []string
	used := 0

	for _, r := range retrieved {
		header := fmt.Sprintf("[chunk:%d] title=%s dept=%s access=%s path=%s",
			r.ChunkID,
			r.Citation.Title,
			r.Citation.Department,
			r.Citation.AccessLevel,
			r.Citation.SourcePath,
		)
		block := header + "\n" + strings.TrimSpace(r.Text) + "\n"

		if used+len(block) > maxContextChars {
			break
		}
		parts = append(parts, block)
		used += len(block)
	}

	return strings.Join(parts, "\n---\n")
}

// allChunkIDs returns the ids of all retrieved chunks, deduplicated, in rank
// order. The generative mode grounds on the full retrieved set.
func allChunkIDs(retrieved []knowledge.RetrievedResult) []int64 {
	ids := make([]int64, len(retrieved))
	for i, r := range retrieved {
		ids[i] = r.ChunkID
	}
	return dedupeIDs(ids)
}
