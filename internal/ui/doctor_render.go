package ui

import (
	"fmt"
	"strings"

	"github.com/signetai/signetd/internal/diagnostics"
)

func statusBadge(s diagnostics.Status) string {
	switch s {
	case diagnostics.StatusHealthy:
		return passStyle.Render("healthy")
	case diagnostics.StatusDegraded:
		return warnStyle.Render("degraded")
	default:
		return failStyle.Render(string(s))
	}
}

// RenderDoctorReport renders the diagnostics report for terminal output.
func RenderDoctorReport(report *diagnostics.Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("signet doctor"))
	b.WriteString(fmt.Sprintf("  %s  score %.2f\n\n", statusBadge(report.Overall), report.Score))

	nameWidth := 0
	for _, c := range report.Checks {
		if len(c.Name) > nameWidth {
			nameWidth = len(c.Name)
		}
	}
	for _, c := range report.Checks {
		b.WriteString(fmt.Sprintf("  %-*s  %s  %.2f", nameWidth, c.Name, statusBadge(c.Status), c.Score))
		if c.Detail != "" {
			b.WriteString("  " + mutedStyle.Render(c.Detail))
		}
		b.WriteByte('\n')
	}
	b.WriteString(mutedStyle.Render("\ngenerated " + report.GeneratedAt.Format("2006-01-02 15:04:05 MST")))
	b.WriteByte('\n')
	return b.String()
}
