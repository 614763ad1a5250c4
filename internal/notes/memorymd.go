package notes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// MemoryMDName is the rendered digest file at the workspace root.
const MemoryMDName = "MEMORY.md"

// memoryMDCandidates bounds how many rows are pulled before the budget cut.
const memoryMDCandidates = 500

// sectionOrder fixes the heading order in MEMORY.md. Types absent from the
// store are skipped.
var sectionOrder = []types.MemoryType{
	types.MemoryTypeRule,
	types.MemoryTypeDecision,
	types.MemoryTypePreference,
	types.MemoryTypeProcedural,
	types.MemoryTypeIssue,
	types.MemoryTypeLearning,
	types.MemoryTypeSemantic,
	types.MemoryTypeGeneral,
	types.MemoryTypeFact,
}

// RenderMemoryMD builds the MEMORY.md digest for a project: every pinned
// memory plus the top-effective unpinned ones, grouped by type, trimmed to
// the character budget. Pinned rows are never dropped in favor of unpinned
// ones.
func RenderMemoryMD(ctx context.Context, store storage.Storage, project string, budget int, now time.Time) (string, error) {
	memories, err := store.ListMemories(ctx, storage.ListFilter{
		Project: project,
		Limit:   memoryMDCandidates,
	})
	if err != nil {
		return "", err
	}
	if len(memories) == 0 {
		return "", nil
	}

	sort.SliceStable(memories, func(i, j int) bool {
		a, b := memories[i], memories[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		ea, eb := a.EffectiveScore(now), b.EffectiveScore(now)
		if ea != eb {
			return ea > eb
		}
		return a.ID < b.ID
	})

	header := renderMDHeader(project, now)
	used := len(header)
	byType := make(map[types.MemoryType][]*types.Memory)
	for _, m := range memories {
		line := memoryMDLine(m)
		// A section heading costs at most ~20 chars; reserve for the worst
		// case so adding the line never busts the budget.
		if used+len(line)+24 > budget {
			if m.Pinned {
				continue
			}
			break
		}
		if _, seen := byType[m.Type]; !seen {
			used += len(sectionHeading(m.Type))
		}
		byType[m.Type] = append(byType[m.Type], m)
		used += len(line)
	}

	var b strings.Builder
	b.WriteString(header)
	for _, t := range sectionOrder {
		rows := byType[t]
		if len(rows) == 0 {
			continue
		}
		b.WriteString(sectionHeading(t))
		for _, m := range rows {
			b.WriteString(memoryMDLine(m))
		}
	}
	for t, rows := range byType {
		if knownSection(t) || len(rows) == 0 {
			continue
		}
		b.WriteString(sectionHeading(t))
		for _, m := range rows {
			b.WriteString(memoryMDLine(m))
		}
	}
	return b.String(), nil
}

// WriteMemoryMD renders the digest and writes it atomically to
// root/MEMORY.md. An empty store removes a stale file rather than leaving an
// empty shell behind. Returns the path written, or "" when nothing was.
func WriteMemoryMD(ctx context.Context, store storage.Storage, project, root string, budget int) (string, error) {
	content, err := RenderMemoryMD(ctx, store, project, budget, time.Now())
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, MemoryMDName)
	if content == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", err
		}
		return "", nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

func renderMDHeader(project string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Memory\n\n")
	if project != "" {
		b.WriteString(fmt.Sprintf("Project: %s\n", project))
	}
	b.WriteString(fmt.Sprintf("Updated: %s\n", now.UTC().Format("2006-01-02 15:04 MST")))
	return b.String()
}

func sectionHeading(t types.MemoryType) string {
	title := string(t)
	if len(title) > 0 {
		title = strings.ToUpper(title[:1]) + title[1:]
	}
	return fmt.Sprintf("\n## %ss\n\n", title)
}

func memoryMDLine(m *types.Memory) string {
	var b strings.Builder
	b.WriteString("- ")
	if m.Pinned {
		b.WriteString("**")
	}
	b.WriteString(strings.ReplaceAll(m.Content, "\n", " "))
	if m.Pinned {
		b.WriteString("**")
	}
	if len(m.Tags) > 0 {
		b.WriteString(" _(" + strings.Join(m.Tags, ", ") + ")_")
	}
	b.WriteByte('\n')
	return b.String()
}

func knownSection(t types.MemoryType) bool {
	for _, k := range sectionOrder {
		if k == t {
			return true
		}
	}
	return false
}
