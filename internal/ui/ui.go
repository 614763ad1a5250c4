// Package ui provides terminal styling and output rendering for the signet
// CLI: memory tables, recall boxes, doctor reports, and markdown output.
package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared across all renderers. Adaptive colors keep output readable
// on both light and dark backgrounds.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "63", Dark: "117"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "241"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "203"}
	ColorPinned = lipgloss.AdaptiveColor{Light: "89", Dark: "212"}
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	mutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	passStyle  = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle  = lipgloss.NewStyle().Foreground(ColorFail)
	pinStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPinned)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)
)
