package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quarrylabs/quarry/internal/knowledge"
	"github.com/quarrylabs/quarry/internal/log"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadPlainTextAndMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "plain text body")
	writeFile(t, dir, "handbook.md", "# Handbook\n\nRules live here.")
	writeFile(t, dir, "image.png", "not a document")
	writeFile(t, dir, "empty.txt", "   \n")

	loader := NewLoader(log.NewNop())
	docs, err := loader.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	byTitle := map[string]knowledge.Document{}
	for _, d := range docs {
		byTitle[d.Metadata["title"]] = d
	}

	notes, ok := byTitle["notes"]
	if !ok {
		t.Fatal("notes.txt not loaded")
	}
	if notes.Text != "plain text body" {
		t.Errorf("notes text = %q", notes.Text)
	}
	if notes.Metadata["source_type"] != "text" {
		t.Errorf("notes source_type = %q", notes.Metadata["source_type"])
	}

	handbook, ok := byTitle["handbook"]
	if !ok {
		t.Fatal("handbook.md not loaded")
	}
	if handbook.Metadata["source_type"] != "policy" {
		t.Errorf("handbook source_type = %q", handbook.Metadata["source_type"])
	}
}

func TestLoadHTMLStripsMarkup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page.html", `<html><head>
<style>body { color: red }</style>
<script>alert("nope")</script>
</head><body><h1>Onboarding</h1><p>Welcome to the team.</p></body></html>`)

	loader := NewLoader(log.NewNop())
	docs, err := loader.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}

	text := docs[0].Text
	if !strings.Contains(text, "Welcome to the team.") {
		t.Errorf("body text missing: %q", text)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "color: red") {
		t.Errorf("script/style content leaked into text: %q", text)
	}
	if docs[0].Metadata["source_type"] != "web" {
		t.Errorf("source_type = %q", docs[0].Metadata["source_type"])
	}
}

func TestLoadEmptyTree(t *testing.T) {
	loader := NewLoader(log.NewNop())
	_, err := loader.Load(t.TempDir())
	if !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
}

func TestLoadSkipsUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "readable content")
	// Truncated PDF header, the parser rejects it.
	writeFile(t, dir, "broken.pdf", "%PDF-1.4 garbage")

	loader := NewLoader(log.NewNop())
	docs, err := loader.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1 (broken PDF skipped)", len(docs))
	}
	if docs[0].Metadata["title"] != "good" {
		t.Errorf("wrong document survived: %q", docs[0].Metadata["title"])
	}
}

func TestLoadSkipsSymlinksOutsideRoot(t *testing.T) {
	outside := t.TempDir()
	secret := writeFile(t, outside, "secret.txt", "credentials live here")

	root := t.TempDir()
	writeFile(t, root, "safe.txt", "regular document content")
	if err := os.Symlink(secret, filepath.Join(root, "sneaky.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	loader := NewLoader(log.NewNop())
	docs, err := loader.Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1 (symlink escape skipped)", len(docs))
	}
	if docs[0].Metadata["title"] != "safe" {
		t.Errorf("wrong document loaded: %q", docs[0].Metadata["title"])
	}
}

func TestInferDepartment(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data/raw/hr/leave.md", "hr"},
		{"data/raw/eng/design.txt", "engineering"},
		{"data/raw/engineering/arch.md", "engineering"},
		{"data/raw/Research/paper.pdf", "research"},
		{"data/raw/finance/budget.txt", "finance"},
		{"data/raw/legal/terms.md", "legal"},
		{"data/raw/misc/readme.txt", "general"},
	}
	for _, tt := range tests {
		if got := inferDepartment(tt.path); got != tt.want {
			t.Errorf("inferDepartment(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestInferAccessLevel(t *testing.T) {
	tests := []struct {
		path string
		want knowledge.AccessLevel
	}{
		{"data/raw/public/faq.md", knowledge.AccessPublic},
		{"data/raw/hr/policy.md", knowledge.AccessInternal},
		{"data/raw/restricted/salaries.txt", knowledge.AccessRestricted},
		{"data/raw/Confidential/deal.md", knowledge.AccessRestricted},
		// A restricted marker anywhere outranks a public one.
		{"data/raw/public/restricted/mixed.txt", knowledge.AccessRestricted},
		{"data/raw/restricted/public/mixed.txt", knowledge.AccessRestricted},
	}
	for _, tt := range tests {
		if got := inferAccessLevel(tt.path); got != tt.want {
			t.Errorf("inferAccessLevel(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewDocumentMetadata(t *testing.T) {
	doc := newDocument("body", filepath.Join("data", "raw", "hr", "restricted", "salaries.pdf"), 3)

	if doc.AccessLevel != knowledge.AccessRestricted {
		t.Errorf("access level = %v", doc.AccessLevel)
	}
	want := map[string]string{
		"source_path":  "data/raw/hr/restricted/salaries.pdf",
		"source_type":  "paper",
		"department":   "hr",
		"access_level": "2",
		"title":        "salaries",
		"page":         "3",
	}
	for k, v := range want {
		if doc.Metadata[k] != v {
			t.Errorf("metadata[%q] = %q, want %q", k, doc.Metadata[k], v)
		}
	}
}
