package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/signetai/signetd/internal/recall"
)

var sourceStyle = map[string]lipgloss.Style{
	"hybrid": passStyle,
	"vector": titleStyle,
	"bm25":   mutedStyle,
}

// RenderRecallBox renders recall results as a bordered box with per-result
// score, source arm, and pin markers.
func RenderRecallBox(query string, results []recall.Result, width int) string {
	var sections []string
	sections = append(sections, titleStyle.Render(fmt.Sprintf("Recall: %q", query)))

	if len(results) == 0 {
		sections = append(sections, mutedStyle.Render("no matching memories"))
		return boxStyle.Width(width - 4).Render(strings.Join(sections, "\n"))
	}

	contentWidth := width - 30
	if contentWidth < 20 {
		contentWidth = 20
	}
	for i, r := range results {
		src := r.Source
		if st, ok := sourceStyle[src]; ok {
			src = st.Render(src)
		}
		marker := " "
		if r.Pinned {
			marker = pinStyle.Render("*")
		}
		sections = append(sections, fmt.Sprintf("%2d.%s %.3f %-6s [%s] %s",
			i+1, marker, r.Score, src, r.Type, truncate(r.Content, contentWidth)))
	}
	sections = append(sections, mutedStyle.Render(fmt.Sprintf("%d results", len(results))))
	return boxStyle.Width(width - 4).Render(strings.Join(sections, "\n"))
}
