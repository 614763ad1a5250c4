package notes

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Fixing The Flaky Cache Tests", "fixing-the-flaky-cache-tests"},
		{"  spaces  &  symbols!!  ", "spaces-symbols"},
		{"", ""},
		{"---", ""},
		{strings.Repeat("verylongword-", 10), "verylongword-verylongword-verylongword-verylongwor"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if len(Slugify(tt.in)) > maxSlugLen {
			t.Errorf("Slugify(%q) exceeds %d chars", tt.in, maxSlugLen)
		}
	}
}

func TestFirstHeading(t *testing.T) {
	md := "intro text\n\n## Session Topic\n\nbody\n\n## Second\n"
	if got := FirstHeading(md); got != "Session Topic" {
		t.Errorf("FirstHeading = %q", got)
	}
	if got := FirstHeading("no headings here"); got != "" {
		t.Errorf("FirstHeading on plain text = %q", got)
	}
}

func TestSummaryStem(t *testing.T) {
	tests := []struct {
		markdown, project, want string
	}{
		{"## Debugging Auth\n\nbody", "/home/dev/proj", "debugging-auth"},
		{"no heading", "/home/dev/cachelib", "cachelib"},
		{"no heading", "", "session"},
	}
	for _, tt := range tests {
		if got := SummaryStem(tt.markdown, tt.project); got != tt.want {
			t.Errorf("SummaryStem(%q, %q) = %q, want %q", tt.markdown, tt.project, got, tt.want)
		}
	}
}

func TestWriteUniqueSuffixes(t *testing.T) {
	dir := t.TempDir()
	for i, want := range []string{"note.md", "note-2.md", "note-3.md"} {
		path, err := WriteUnique(dir, "note", "body")
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if filepath.Base(path) != want {
			t.Errorf("write %d = %s, want %s", i, filepath.Base(path), want)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "note-3.md")); err != nil {
		t.Errorf("third note missing: %v", err)
	}
}

func TestWriteUniqueCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "memory")
	path, err := WriteUnique(dir, "session", "content")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "content" {
		t.Errorf("read back: %v %q", err, data)
	}
}
