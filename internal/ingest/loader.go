package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/quarrylabs/quarry/internal/knowledge"
)

// ErrNoDocuments indicates a full scan of the input tree produced nothing to
// index. An empty corpus is a hard ingestion failure, not a no-op.
var ErrNoDocuments = errors.New("no documents found")

// departmentKeywords maps path components to department names.
var departmentKeywords = map[string]string{
	"hr":          "hr",
	"it":          "it",
	"eng":         "engineering",
	"engineering": "engineering",
	"research":    "research",
	"finance":     "finance",
	"legal":       "legal",
}

// Loader reads raw documents from a source tree and infers per-document
// metadata from path heuristics. Unreadable or unparseable files are skipped
// with a warning; only an empty result set is fatal.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger falls back to slog.Default.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load recursively scans root for text, markdown, HTML and PDF files and
// returns the logical documents they contain. PDFs expand to one document per
// non-empty page so citations can reference a page number.
//
// Symlinks that resolve outside root are skipped: the path heuristics that
// assign department and clearance only hold for files actually under the
// source tree, and a stray link must not pull foreign content into the index.
func (l *Loader) Load(root string) ([]knowledge.Document, error) {
	absRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	if absRoot, err = filepath.Abs(absRoot); err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}

	var docs []knowledge.Document

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				l.logger.Warn("skipping unreadable directory", "path", path, "error", walkErr)
				return fs.SkipDir
			}
			l.logger.Warn("skipping unreadable entry", "path", path, "error", walkErr)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !withinRoot(absRoot, path) {
			l.logger.Warn("skipping file outside source tree", "path", path)
			return nil
		}

		loaded, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("skipping unparseable file", "path", path, "error", err)
			return nil
		}
		docs = append(docs, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, root)
	}
	return docs, nil
}

// withinRoot reports whether path, with symlinks resolved, still lives under
// root. A path that cannot be resolved is treated as outside.
func withinRoot(root, path string) bool {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(real)
	if err != nil {
		return false
	}
	return abs == root || strings.HasPrefix(abs, root+string(filepath.Separator))
}

// loadFile dispatches on file extension. Unknown extensions are ignored
// without error.
func (l *Loader) loadFile(path string) ([]knowledge.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return loadPlainText(path)
	case ".html", ".htm":
		return loadHTML(path)
	case ".pdf":
		return loadPDF(path)
	default:
		return nil, nil
	}
}

func loadPlainText(path string) ([]knowledge.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}
	return []knowledge.Document{newDocument(text, path, 0)}, nil
}

func loadHTML(path string) ([]knowledge.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only file

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript").Remove()

	text := strings.TrimSpace(doc.Find("body").Text())
	if text == "" {
		text = strings.TrimSpace(doc.Text())
	}
	if text == "" {
		return nil, nil
	}
	return []knowledge.Document{newDocument(text, path, 0)}, nil
}

func loadPDF(path string) ([]knowledge.Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only file

	var docs []knowledge.Document
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page should not discard the rest of the file.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		docs = append(docs, newDocument(text, path, i))
	}
	return docs, nil
}

// newDocument builds a document with metadata inferred from the file path.
// page is 1-based for PDFs and 0 for everything else.
func newDocument(text, path string, page int) knowledge.Document {
	level := inferAccessLevel(path)

	meta := map[string]string{
		"source_path":  filepath.ToSlash(path),
		"source_type":  inferSourceType(path),
		"department":   inferDepartment(path),
		"access_level": strconv.Itoa(int(level)),
		"title":        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	if page > 0 {
		meta["page"] = strconv.Itoa(page)
	}

	return knowledge.Document{Text: text, Metadata: meta, AccessLevel: level}
}

// inferSourceType classifies a file by extension.
func inferSourceType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "paper"
	case ".md", ".markdown":
		return "policy"
	case ".html", ".htm":
		return "web"
	default:
		return "text"
	}
}

// inferDepartment scans path components for department keywords.
func inferDepartment(path string) string {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if dept, ok := departmentKeywords[strings.ToLower(part)]; ok {
			return dept
		}
	}
	return "general"
}

// inferAccessLevel derives the clearance tier from path components.
// Restricted markers win over public ones; unmarked documents default to
// internal.
func inferAccessLevel(path string) knowledge.AccessLevel {
	public := false
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		switch strings.ToLower(part) {
		case "restricted", "confidential":
			return knowledge.AccessRestricted
		case "public":
			public = true
		}
	}
	if public {
		return knowledge.AccessPublic
	}
	return knowledge.AccessInternal
}
