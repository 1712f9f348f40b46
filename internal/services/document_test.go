package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsDocument(t *testing.T) {
	s := NewDocumentService()

	cases := []struct {
		path string
		want bool
	}{
		{"notes.txt", true},
		{"README.md", true},
		{"paper.PDF", true},
		{"report.docx", true},
		{"photo.jpg", false},
		{"archive.zip", false},
		{"noext", false},
	}

	for _, tc := range cases {
		if got := s.IsDocument(tc.path); got != tc.want {
			t.Errorf("IsDocument(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestExtractPlain(t *testing.T) {
	s := NewDocumentService()
	dir := t.TempDir()

	path := filepath.Join(dir, "notes.txt")
	content := "line one\r\n\r\n\r\nline two\r\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.ExtractText(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "line one\n\nline two" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}

func TestExtractPlain_EmptyFileFails(t *testing.T) {
	s := NewDocumentService()
	dir := t.TempDir()

	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("  \n \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ExtractText(path); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestExtractText_UnsupportedType(t *testing.T) {
	s := NewDocumentService()
	if _, err := s.ExtractText("song.mp3"); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestStripDOCXML(t *testing.T) {
	xml := `<w:document><w:body>` +
		`<w:p><w:r><w:t>First &amp; second</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Next</w:t><w:br/><w:t>paragraph</w:t></w:r></w:p>` +
		`</w:body></w:document>`

	got := stripDOCXML([]byte(xml))

	if !strings.Contains(got, "First & second") {
		t.Fatalf("expected entity decoding, got %q", got)
	}
	if !strings.Contains(got, "Next\nparagraph") {
		t.Fatalf("expected break converted to newline, got %q", got)
	}
}

func TestNormalizeExtractedText(t *testing.T) {
	in := "  a  \n\n\n\n b\r\nc  "
	got := normalizeExtractedText(in)
	if got != "a\n\nb\nc" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestBuildDocumentSystemPrompt(t *testing.T) {
	got := BuildDocumentSystemPrompt("doc body", "what does it say?")

	if !strings.Contains(got, "---DOCUMENT START---\ndoc body\n---DOCUMENT END---") {
		t.Fatalf("document markers missing:\n%s", got)
	}
	if !strings.Contains(got, "User question: what does it say?") {
		t.Fatalf("user question missing:\n%s", got)
	}

	noQuery := BuildDocumentSystemPrompt("doc body", "")
	if strings.Contains(noQuery, "User question:") {
		t.Fatalf("empty query must omit the question line")
	}
}
