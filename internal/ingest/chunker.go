package ingest

import (
	"strconv"
	"strings"

	"github.com/quarrylabs/quarry/internal/knowledge"
)

// splitParagraphs breaks text into paragraphs on blank-line boundaries.
// Lines within a paragraph are joined with single spaces.
func splitParagraphs(text string) []string {
	var paras []string
	var buf []string

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			buf = append(buf, strings.TrimSpace(line))
			continue
		}
		if len(buf) > 0 {
			paras = append(paras, strings.Join(buf, " "))
			buf = nil
		}
	}
	if len(buf) > 0 {
		paras = append(paras, strings.Join(buf, " "))
	}
	return paras
}

// Chunk splits text into overlapping passages bounded by a character budget.
//
// Paragraphs are packed greedily while the running length stays within
// maxChars; a paragraph that would overflow closes the current chunk and
// starts the next one. A single paragraph longer than maxChars is kept whole
// in its own chunk; the budget is advisory and a paragraph is never split.
// After packing, the last overlapChars characters of chunk i-1 are spliced
// onto the front of chunk i so consecutive chunks share boundary context.
//
// Each output chunk carries a copy of base augmented with its chunk_index and
// inherits level as its access tier. Empty input yields an empty slice.
func Chunk(text string, base map[string]string, level knowledge.AccessLevel, maxChars, overlapChars int) []knowledge.Chunk {
	paras := splitParagraphs(text)

	var packed []string
	current := ""
	for _, p := range paras {
		if current != "" && len(current)+len(p)+1 > maxChars {
			packed = append(packed, current)
			current = p
			continue
		}
		if current == "" {
			current = p
		} else {
			current = current + " " + p
		}
	}
	if current != "" {
		packed = append(packed, current)
	}

	chunks := make([]knowledge.Chunk, 0, len(packed))
	for i, text := range packed {
		if i > 0 && overlapChars > 0 {
			prev := packed[i-1]
			tail := prev
			if len(prev) > overlapChars {
				tail = prev[len(prev)-overlapChars:]
			}
			text = strings.TrimSpace(tail + "\n" + text)
		}

		meta := make(map[string]string, len(base)+1)
		for k, v := range base {
			meta[k] = v
		}
		meta["chunk_index"] = strconv.Itoa(i)

		chunks = append(chunks, knowledge.Chunk{
			Text:        text,
			ChunkIndex:  i,
			AccessLevel: level,
			Metadata:    meta,
		})
	}
	return chunks
}
