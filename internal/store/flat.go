package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	"github.com/quarrylabs/quarry/internal/knowledge"
)

// File names inside the flat index directory.
const (
	chunksFileName  = "chunks.jsonl"
	vectorsFileName = "vectors.f32"
	lockFileName    = "index.lock"
)

// overfetchCandidates is the over-fetch policy for backends without native
// filtering: fetch max(k*5, 20) nearest candidates before applying
// predicates. A tunable heuristic, not a correctness guarantee: callers
// must tolerate fewer than k survivors.
func overfetchCandidates(k int) int {
	return max(k*5, 20)
}

// chunkRecord is the persisted JSON-lines form of one chunk.
type chunkRecord struct {
	ChunkID  int64             `json:"chunk_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// flatChunk is the in-memory representation of one indexed chunk.
type flatChunk struct {
	id          int64
	text        string
	metadata    map[string]string
	accessLevel knowledge.AccessLevel
	citation    knowledge.Citation
	embedding   []float32
}

// Flat is a file-backed flat vector index with a JSON-lines metadata store.
// Nearest neighbors are found by exhaustive scan over unit-normalized
// vectors; access and metadata predicates are applied in application logic
// after over-fetching, because the index itself cannot evaluate them.
//
// Safe for concurrent use: queries take a read lock, BulkInsert stages the
// new dataset completely before swapping it in under the write lock.
type Flat struct {
	dir    string
	dim    int
	alpha  float64
	logger *slog.Logger

	mu     sync.RWMutex
	chunks []flatChunk
}

// NewFlat opens (or initializes) a flat index rooted at dir. An existing
// persisted dataset is loaded eagerly; a missing one leaves the store empty
// until the first BulkInsert.
func NewFlat(dir string, dim int, alpha float64, logger *slog.Logger) (*Flat, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	f := &Flat{dir: dir, dim: dim, alpha: alpha, logger: logger}

	chunks, err := f.loadFromDisk()
	if err != nil {
		return nil, err
	}
	f.chunks = chunks

	logger.Debug("flat index opened", "dir", dir, "chunks", len(chunks))
	return f, nil
}

// Search implements Store.
func (f *Flat) Search(_ context.Context, req SearchRequest) ([]knowledge.RetrievedResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if len(req.QueryVector) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(req.QueryVector), f.dim)
	}
	if req.TopK <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	// Rank every chunk by vector similarity; the index has no native
	// filtering, so predicates are applied to the over-fetched candidates.
	type candidate struct {
		pos   int
		score float64
	}
	candidates := make([]candidate, len(f.chunks))
	for i, ch := range f.chunks {
		candidates[i] = candidate{pos: i, score: knowledge.Dot(req.QueryVector, ch.embedding)}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	limit := overfetchCandidates(req.TopK)
	if limit > len(candidates) {
		limit = len(candidates)
	}

	var results []knowledge.RetrievedResult
	for _, cand := range candidates[:limit] {
		ch := f.chunks[cand.pos]
		if ch.accessLevel > req.MaxAccessLevel {
			continue
		}
		if !matchesFilters(ch.metadata, req.Filters) {
			continue
		}

		keyword := lexicalRank(req.QueryText, ch.text)
		results = append(results, knowledge.RetrievedResult{
			ChunkID:      ch.id,
			VectorScore:  cand.score,
			KeywordScore: keyword,
			Score:        cand.score + f.alpha*keyword,
			Text:         ch.text,
			Citation:     ch.citation,
		})
		if len(results) >= req.TopK {
			break
		}
	}

	// Survivors were collected in vector order; the contract orders by the
	// combined hybrid score.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// matchesFilters reports whether metadata satisfies the exact-match
// conjunction. Keys were validated against the allow-set already.
func matchesFilters(metadata, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// BulkInsert implements Store. The new dataset is staged in temporary files
// and renamed into place under an advisory file lock, so a concurrent reader
// process (and any in-process query) observes either the old or the new
// dataset, never a partial one. reset has no effect beyond the wholesale
// replacement this backend always performs.
func (f *Flat) BulkInsert(_ context.Context, docs []IngestDocument, _ bool) error {
	var staged []flatChunk
	nextID := int64(0)

	for _, doc := range docs {
		for _, ch := range doc.Chunks {
			if len(ch.Embedding) != f.dim {
				return fmt.Errorf("%w: chunk has %d dimensions, index wants %d", ErrDimensionMismatch, len(ch.Embedding), f.dim)
			}

			meta := make(map[string]string, len(ch.Metadata))
			for k, v := range ch.Metadata {
				meta[k] = v
			}
			meta["access_level"] = strconv.Itoa(int(ch.AccessLevel))

			page := 0
			if p, ok := meta["page"]; ok {
				page, _ = strconv.Atoi(p)
			}

			staged = append(staged, flatChunk{
				id:          nextID,
				text:        ch.Text,
				metadata:    meta,
				accessLevel: ch.AccessLevel,
				embedding:   ch.Embedding,
				citation: knowledge.Citation{
					Title:       doc.Title,
					SourcePath:  doc.SourcePath,
					Department:  doc.Department,
					AccessLevel: doc.AccessLevel,
					Page:        page,
				},
			})
			nextID++
		}
	}

	if err := f.persist(staged); err != nil {
		return err
	}

	f.mu.Lock()
	f.chunks = staged
	f.mu.Unlock()

	f.logger.Info("flat index replaced", "chunks", len(staged))
	return nil
}

// Count implements Store.
func (f *Flat) Count(context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.chunks), nil
}

// Close implements Store. The flat index holds no open resources.
func (*Flat) Close() error { return nil }

// persist writes the staged dataset to temporary files and atomically
// renames them over the live ones while holding the index lock.
func (f *Flat) persist(chunks []flatChunk) (retErr error) {
	lock := flock.New(filepath.Join(f.dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking index: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil && retErr == nil {
			retErr = fmt.Errorf("unlocking index: %w", err)
		}
	}()

	tmpChunks := filepath.Join(f.dir, chunksFileName+".tmp")
	tmpVectors := filepath.Join(f.dir, vectorsFileName+".tmp")

	if err := writeChunksFile(tmpChunks, chunks); err != nil {
		return err
	}
	if err := writeVectorsFile(tmpVectors, chunks); err != nil {
		return err
	}

	if err := os.Rename(tmpVectors, filepath.Join(f.dir, vectorsFileName)); err != nil {
		return fmt.Errorf("replacing vectors file: %w", err)
	}
	if err := os.Rename(tmpChunks, filepath.Join(f.dir, chunksFileName)); err != nil {
		return fmt.Errorf("replacing chunks file: %w", err)
	}
	return nil
}

// writeChunksFile writes one JSON object per line: {chunk_id, text, metadata}.
func writeChunksFile(path string, chunks []flatChunk) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunks file: %w", err)
	}

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for _, ch := range chunks {
		if err := enc.Encode(chunkRecord{ChunkID: ch.id, Text: ch.text, Metadata: ch.metadata}); err != nil {
			_ = out.Close()
			return fmt.Errorf("encoding chunk %d: %w", ch.id, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("flushing chunks file: %w", err)
	}
	return out.Close()
}

// writeVectorsFile writes embeddings as contiguous little-endian float32
// rows, one row per chunk, in chunk order.
func writeVectorsFile(path string, chunks []flatChunk) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating vectors file: %w", err)
	}

	w := bufio.NewWriter(out)
	for _, ch := range chunks {
		if err := binary.Write(w, binary.LittleEndian, ch.embedding); err != nil {
			_ = out.Close()
			return fmt.Errorf("writing vector for chunk %d: %w", ch.id, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("flushing vectors file: %w", err)
	}
	return out.Close()
}

// loadFromDisk reads a previously persisted dataset. A missing chunks file
// means an empty index; a chunks file without a matching vectors file is a
// configuration error.
func (f *Flat) loadFromDisk() ([]flatChunk, error) {
	lock := flock.New(filepath.Join(f.dir, lockFileName))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking index: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck // read lock release

	in, err := os.Open(filepath.Join(f.dir, chunksFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening chunks file: %w", err)
	}
	defer in.Close() //nolint:errcheck // read-only file

	var chunks []flatChunk
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec chunkRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("parsing chunk record: %w", err)
		}
		chunks = append(chunks, chunkFromRecord(rec))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks file: %w", err)
	}

	if err := f.loadVectors(chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// chunkFromRecord rebuilds the in-memory chunk from its persisted form.
func chunkFromRecord(rec chunkRecord) flatChunk {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	level := knowledge.AccessInternal
	if raw, ok := meta["access_level"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && knowledge.AccessLevel(n).Valid() {
			level = knowledge.AccessLevel(n)
		}
	}
	page := 0
	if raw, ok := meta["page"]; ok {
		page, _ = strconv.Atoi(raw)
	}

	return flatChunk{
		id:          rec.ChunkID,
		text:        rec.Text,
		metadata:    meta,
		accessLevel: level,
		citation: knowledge.Citation{
			Title:       meta["title"],
			SourcePath:  meta["source_path"],
			Department:  meta["department"],
			AccessLevel: level,
			Page:        page,
		},
	}
}

// loadVectors reads the sidecar vectors file into the loaded chunks.
func (f *Flat) loadVectors(chunks []flatChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	raw, err := os.ReadFile(filepath.Join(f.dir, vectorsFileName))
	if err != nil {
		return fmt.Errorf("reading vectors file: %w", err)
	}

	want := len(chunks) * f.dim * 4
	if len(raw) != want {
		return fmt.Errorf("%w: vectors file has %d bytes, want %d (%d chunks x %d dims)",
			ErrDimensionMismatch, len(raw), want, len(chunks), f.dim)
	}

	for i := range chunks {
		vec := make([]float32, f.dim)
		offset := i * f.dim * 4
		for j := 0; j < f.dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[offset+j*4:]))
		}
		chunks[i].embedding = vec
	}
	return nil
}
