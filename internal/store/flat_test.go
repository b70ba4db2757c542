package store

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/internal/knowledge"
	"github.com/quarrylabs/quarry/internal/log"
)

const testDim = 8

// unitVec builds a unit vector along one axis with a small deterministic
// bias, so cosine scores are controllable in tests.
func unitVec(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis%testDim] = 1
	return v
}

func newTestFlat(t *testing.T, alpha float64) *Flat {
	t.Helper()
	f, err := NewFlat(t.TempDir(), testDim, alpha, log.NewNop())
	if err != nil {
		t.Fatalf("NewFlat: %v", err)
	}
	return f
}

func testDoc(title, department string, level knowledge.AccessLevel, chunks ...knowledge.Chunk) IngestDocument {
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]string{}
		}
		chunks[i].Metadata["title"] = title
		chunks[i].Metadata["department"] = department
		chunks[i].AccessLevel = level
	}
	return IngestDocument{
		ID:          uuid.New(),
		Title:       title,
		SourcePath:  "data/raw/" + department + "/" + title + ".md",
		Department:  department,
		AccessLevel: level,
		Chunks:      chunks,
	}
}

func TestFlatSearchAccessLevelFiltering(t *testing.T) {
	f := newTestFlat(t, 0.15)
	ctx := context.Background()

	docs := []IngestDocument{
		testDoc("faq", "general", knowledge.AccessPublic,
			knowledge.Chunk{Text: "vacation policy overview", Embedding: unitVec(0)}),
		testDoc("handbook", "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "vacation policy details", Embedding: unitVec(0)}),
		testDoc("salaries", "hr", knowledge.AccessRestricted,
			knowledge.Chunk{Text: "vacation payout amounts", Embedding: unitVec(0)}),
	}
	if err := f.BulkInsert(ctx, docs, false); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	tests := []struct {
		level knowledge.AccessLevel
		want  int
	}{
		{knowledge.AccessPublic, 1},
		{knowledge.AccessInternal, 2},
		{knowledge.AccessRestricted, 3},
	}
	for _, tt := range tests {
		results, err := f.Search(ctx, SearchRequest{
			QueryVector:    unitVec(0),
			QueryText:      "vacation policy",
			TopK:           10,
			MaxAccessLevel: tt.level,
		})
		if err != nil {
			t.Fatalf("Search at level %v: %v", tt.level, err)
		}
		if len(results) != tt.want {
			t.Errorf("level %v: got %d results, want %d", tt.level, len(results), tt.want)
		}
		for _, r := range results {
			if r.Citation.AccessLevel > tt.level {
				t.Errorf("level %v leaked chunk with access %v", tt.level, r.Citation.AccessLevel)
			}
		}
	}
}

// Randomized property: no query, filter combination, or clearance may ever
// surface a chunk above the caller's tier.
func TestFlatAccessControlProperty(t *testing.T) {
	f := newTestFlat(t, 0.15)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	levels := []knowledge.AccessLevel{
		knowledge.AccessPublic, knowledge.AccessInternal, knowledge.AccessRestricted,
	}
	departments := []string{"hr", "engineering", "finance"}

	var docs []IngestDocument
	for i := 0; i < 60; i++ {
		level := levels[rng.Intn(len(levels))]
		dept := departments[rng.Intn(len(departments))]
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		docs = append(docs, testDoc("doc"+strconv.Itoa(i), dept, level,
			knowledge.Chunk{Text: "content number " + strconv.Itoa(i), Embedding: knowledge.Normalize(vec)}))
	}
	if err := f.BulkInsert(ctx, docs, false); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	for trial := 0; trial < 500; trial++ {
		q := make([]float32, testDim)
		for j := range q {
			q[j] = rng.Float32()*2 - 1
		}
		level := levels[rng.Intn(len(levels))]

		var filters map[string]string
		if rng.Intn(2) == 0 {
			filters = map[string]string{"department": departments[rng.Intn(len(departments))]}
		}

		results, err := f.Search(ctx, SearchRequest{
			QueryVector:    knowledge.Normalize(q),
			QueryText:      "content number",
			TopK:           1 + rng.Intn(10),
			MaxAccessLevel: level,
			Filters:        filters,
		})
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		for _, r := range results {
			if r.Citation.AccessLevel > level {
				t.Fatalf("trial %d: clearance %v received chunk at %v", trial, level, r.Citation.AccessLevel)
			}
			if filters != nil && r.Citation.Department != filters["department"] {
				t.Fatalf("trial %d: department filter %q leaked %q", trial, filters["department"], r.Citation.Department)
			}
		}
	}
}

func TestFlatSearchRejectsUnknownFilter(t *testing.T) {
	f := newTestFlat(t, 0.15)

	_, err := f.Search(context.Background(), SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "q",
		TopK:           5,
		MaxAccessLevel: knowledge.AccessInternal,
		Filters:        map[string]string{"owner": "alice"},
	})
	if !errors.Is(err, ErrUnsupportedFilter) {
		t.Fatalf("expected ErrUnsupportedFilter, got %v", err)
	}
}

func TestFlatSearchRejectsInvalidAccessLevel(t *testing.T) {
	f := newTestFlat(t, 0.15)

	_, err := f.Search(context.Background(), SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "q",
		TopK:           5,
		MaxAccessLevel: knowledge.AccessLevel(7),
	})
	if !errors.Is(err, ErrInvalidAccessLevel) {
		t.Fatalf("expected ErrInvalidAccessLevel, got %v", err)
	}
}

func TestFlatDimensionMismatch(t *testing.T) {
	f := newTestFlat(t, 0.15)
	ctx := context.Background()

	_, err := f.Search(ctx, SearchRequest{
		QueryVector:    make([]float32, testDim+1),
		QueryText:      "q",
		TopK:           5,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Search: expected ErrDimensionMismatch, got %v", err)
	}

	doc := testDoc("bad", "hr", knowledge.AccessInternal,
		knowledge.Chunk{Text: "short vector", Embedding: make([]float32, testDim-1)})
	if err := f.BulkInsert(ctx, []IngestDocument{doc}, false); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("BulkInsert: expected ErrDimensionMismatch, got %v", err)
	}
	// Nothing was committed.
	n, err := f.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("failed insert left %d chunks behind", n)
	}
}

func TestFlatHybridScoringKeywordBoost(t *testing.T) {
	f := newTestFlat(t, 0.15)
	ctx := context.Background()

	// Identical vectors, so only the lexical component can separate them.
	docs := []IngestDocument{
		testDoc("pto", "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "To request PTO, submit the leave request form.", Embedding: unitVec(1)}),
		testDoc("menu", "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "The cafeteria rotates its menu on Mondays.", Embedding: unitVec(1)}),
	}
	if err := f.BulkInsert(ctx, docs, false); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	results, err := f.Search(ctx, SearchRequest{
		QueryVector:    unitVec(1),
		QueryText:      "how do I request PTO",
		TopK:           2,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Citation.Title != "pto" {
		t.Errorf("keyword match should rank first, got %q", results[0].Citation.Title)
	}
	if results[0].KeywordScore <= results[1].KeywordScore {
		t.Errorf("keyword scores not separated: %v vs %v", results[0].KeywordScore, results[1].KeywordScore)
	}
	if results[0].Score <= results[0].VectorScore {
		t.Errorf("combined score should exceed pure vector score when keywords match")
	}
}

func TestFlatAlphaZeroDisablesKeywordInfluence(t *testing.T) {
	f := newTestFlat(t, 0)
	ctx := context.Background()

	docs := []IngestDocument{
		testDoc("keyworded", "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "request request request", Embedding: unitVec(2)}),
	}
	if err := f.BulkInsert(ctx, docs, false); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	results, err := f.Search(ctx, SearchRequest{
		QueryVector:    unitVec(2),
		QueryText:      "request",
		TopK:           1,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score != results[0].VectorScore {
		t.Errorf("alpha=0: combined %v should equal vector %v", results[0].Score, results[0].VectorScore)
	}
	if results[0].KeywordScore == 0 {
		t.Errorf("keyword score should still be reported")
	}
}

func TestFlatTopKTruncation(t *testing.T) {
	f := newTestFlat(t, 0.15)
	ctx := context.Background()

	var docs []IngestDocument
	for i := 0; i < 10; i++ {
		docs = append(docs, testDoc("doc"+strconv.Itoa(i), "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "passage " + strconv.Itoa(i), Embedding: unitVec(i)}))
	}
	if err := f.BulkInsert(ctx, docs, false); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	results, err := f.Search(ctx, SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "passage",
		TopK:           3,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}

	// Non-positive k yields nothing rather than everything.
	results, err = f.Search(ctx, SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "passage",
		TopK:           0,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if err != nil {
		t.Fatalf("Search with k=0: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("k=0: got %d results, want 0", len(results))
	}
}

func TestFlatResultsOrderedByCombinedScore(t *testing.T) {
	f := newTestFlat(t, 0.5)
	ctx := context.Background()

	// The vector-closest chunk has no keyword overlap; a slightly farther
	// chunk matches the query text. With a large alpha, the lexical signal
	// must reorder them.
	near := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	far := knowledge.Normalize([]float32{1, 0.4, 0, 0, 0, 0, 0, 0})

	docs := []IngestDocument{
		testDoc("near", "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "unrelated cafeteria schedule", Embedding: near}),
		testDoc("far", "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "expense report submission steps", Embedding: far}),
	}
	if err := f.BulkInsert(ctx, docs, false); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	results, err := f.Search(ctx, SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "expense report",
		TopK:           2,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Citation.Title != "far" {
		t.Errorf("hybrid score should promote the keyword match, got %q first", results[0].Citation.Title)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results out of order: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestFlatPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	f1, err := NewFlat(dir, testDim, 0.15, log.NewNop())
	if err != nil {
		t.Fatalf("NewFlat: %v", err)
	}

	docs := []IngestDocument{
		testDoc("handbook", "hr", knowledge.AccessInternal,
			knowledge.Chunk{Text: "first chunk", Embedding: unitVec(0), Metadata: map[string]string{"page": "2"}},
			knowledge.Chunk{Text: "second chunk", Embedding: unitVec(1)}),
		testDoc("faq", "general", knowledge.AccessPublic,
			knowledge.Chunk{Text: "public chunk", Embedding: unitVec(2)}),
	}
	if err := f1.BulkInsert(ctx, docs, false); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	// A fresh store over the same directory must see the identical dataset.
	f2, err := NewFlat(dir, testDim, 0.15, log.NewNop())
	if err != nil {
		t.Fatalf("reopening flat index: %v", err)
	}

	n, err := f2.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("reloaded count = %d, want 3", n)
	}

	results, err := f2.Search(ctx, SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "first chunk",
		TopK:           1,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if err != nil {
		t.Fatalf("Search after reload: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Text != "first chunk" {
		t.Errorf("text = %q", r.Text)
	}
	if r.Citation.Title != "handbook" || r.Citation.Department != "hr" {
		t.Errorf("citation lost on reload: %+v", r.Citation)
	}
	if r.Citation.Page != 2 {
		t.Errorf("page = %d, want 2", r.Citation.Page)
	}
	if r.Citation.AccessLevel != knowledge.AccessInternal {
		t.Errorf("access level = %v", r.Citation.AccessLevel)
	}

	// Restricted data stays invisible to public callers after reload too.
	pub, err := f2.Search(ctx, SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "chunk",
		TopK:           10,
		MaxAccessLevel: knowledge.AccessPublic,
	})
	if err != nil {
		t.Fatalf("public Search: %v", err)
	}
	for _, r := range pub {
		if r.Citation.AccessLevel > knowledge.AccessPublic {
			t.Errorf("public caller received %v chunk", r.Citation.AccessLevel)
		}
	}
}

func TestFlatBulkInsertReplacesDataset(t *testing.T) {
	f := newTestFlat(t, 0.15)
	ctx := context.Background()

	first := []IngestDocument{testDoc("old", "hr", knowledge.AccessInternal,
		knowledge.Chunk{Text: "old content", Embedding: unitVec(0)})}
	if err := f.BulkInsert(ctx, first, false); err != nil {
		t.Fatalf("first BulkInsert: %v", err)
	}

	second := []IngestDocument{testDoc("new", "hr", knowledge.AccessInternal,
		knowledge.Chunk{Text: "new content", Embedding: unitVec(0)})}
	if err := f.BulkInsert(ctx, second, true); err != nil {
		t.Fatalf("second BulkInsert: %v", err)
	}

	results, err := f.Search(ctx, SearchRequest{
		QueryVector:    unitVec(0),
		QueryText:      "content",
		TopK:           10,
		MaxAccessLevel: knowledge.AccessInternal,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Citation.Title != "new" {
		t.Errorf("old dataset still visible: %+v", results)
	}
}
