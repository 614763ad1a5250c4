package ui

import (
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders markdown for the terminal with an auto-detected
// style. Falls back to the raw text when rendering fails or color is off.
func RenderMarkdown(markdown string, width int) string {
	if !ShouldUseColor() {
		return markdown
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}
