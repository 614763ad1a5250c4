// Package notes manages the markdown notes directory under .signet/memory/:
// session summary notes, the rendered MEMORY.md digest, and the watcher that
// ingests hand-edited notes.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxSlugLen = 50

var (
	headingRe  = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	nonSlugRe  = regexp.MustCompile(`[^a-z0-9]+`)
	edgeDashRe = regexp.MustCompile(`^-+|-+$`)
)

// Slugify folds a title into a lowercase filename stem capped at 50 chars.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlugRe.ReplaceAllString(s, "-")
	s = edgeDashRe.ReplaceAllString(s, "")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.TrimRight(s, "-")
	}
	return s
}

// FirstHeading returns the text of the first "## " heading in a markdown
// document, or "".
func FirstHeading(markdown string) string {
	m := headingRe.FindStringSubmatch(markdown)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// SummaryStem picks the filename stem for a summary note: first ## heading,
// else the last path segment of the project, else "session".
func SummaryStem(markdown, project string) string {
	if h := Slugify(FirstHeading(markdown)); h != "" {
		return h
	}
	if p := Slugify(filepath.Base(project)); p != "" && p != "-" && project != "" {
		return p
	}
	return "session"
}

// WriteUnique writes content to dir/stem.md, falling back to stem-2.md,
// stem-3.md and so on when the name is taken. Returns the path written.
func WriteUnique(dir, stem, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create notes dir: %w", err)
	}
	for i := 1; ; i++ {
		name := stem + ".md"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.md", stem, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create note: %w", err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write note: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return path, nil
	}
}
