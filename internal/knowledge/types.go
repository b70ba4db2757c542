package knowledge

import (
	"fmt"
	"strings"
)

// AccessLevel is an ordered clearance tier. A chunk is visible to a caller
// only when the chunk's level is less than or equal to the caller's level.
type AccessLevel int

const (
	AccessPublic     AccessLevel = 0
	AccessInternal   AccessLevel = 1
	AccessRestricted AccessLevel = 2
)

// String returns the canonical tier name.
func (l AccessLevel) String() string {
	switch l {
	case AccessPublic:
		return "public"
	case AccessInternal:
		return "internal"
	case AccessRestricted:
		return "restricted"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the defined tiers.
func (l AccessLevel) Valid() bool {
	return l >= AccessPublic && l <= AccessRestricted
}

// ParseAccessLevel maps a tier name to its AccessLevel.
// "confidential" is accepted as an alias for restricted.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return AccessPublic, nil
	case "internal":
		return AccessInternal, nil
	case "restricted", "confidential":
		return AccessRestricted, nil
	default:
		return 0, fmt.Errorf("unknown access level %q", s)
	}
}

// Document is a logical document emitted by the loader. It owns the metadata
// that its chunks inherit. Immutable once created.
type Document struct {
	Text        string
	Metadata    map[string]string // source_path, title, department, source_type, page (optional)
	AccessLevel AccessLevel
}

// Chunk is a bounded, overlap-preserving passage of a document, the unit of
// retrieval. Metadata is a superset of the owning document's metadata plus
// chunk_index. Embedding is unit-normalized and fixed-length.
type Chunk struct {
	Text        string
	ChunkIndex  int
	AccessLevel AccessLevel
	Metadata    map[string]string
	Embedding   []float32
}

// Citation identifies the source of a retrieved chunk for display.
type Citation struct {
	Title       string      `json:"title"`
	SourcePath  string      `json:"source_path"`
	Department  string      `json:"department"`
	AccessLevel AccessLevel `json:"access_level"`
	Page        int         `json:"page,omitempty"` // 0 = no page (non-PDF source)
}

// RetrievedResult is a single ranked search hit. Ephemeral, produced per
// query, never persisted.
type RetrievedResult struct {
	ChunkID      int64    `json:"chunk_id"`
	Score        float64  `json:"score"`
	VectorScore  float64  `json:"vector_score"`
	KeywordScore float64  `json:"keyword_score"`
	Text         string   `json:"text"`
	Citation     Citation `json:"citation"`
}

// Answer modes. ModeRAG delegates to the generation capability; ModeCitationsOnly
// assembles the answer purely from retrieved sentences.
const (
	ModeCitationsOnly = "citations_only"
	ModeRAG           = "rag"
)

// Answer is a synthesized response. Fallback is set when generative synthesis
// failed and the text was produced extractively instead.
type Answer struct {
	Text         string
	Mode         string
	Fallback     bool
	UsedChunkIDs []int64
}
