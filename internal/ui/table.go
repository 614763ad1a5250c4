package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/signetai/signetd/internal/types"
)

var (
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Align(lipgloss.Center)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// shortID trims a uuid to its first segment for table display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Truncate flattens newlines and cuts s to max runes with an ellipsis.
func Truncate(s string, max int) string {
	return truncate(s, max)
}

// truncate cuts s to max runes with an ellipsis.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}

// age renders a compact relative duration.
func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers(headers...)
}

// RenderMemoryTable renders a memory listing sized to the terminal width.
func RenderMemoryTable(memories []*types.Memory, width int) string {
	if len(memories) == 0 {
		return mutedStyle.Render("no memories")
	}
	contentWidth := width - 40
	if contentWidth < 20 {
		contentWidth = 20
	}
	t := newTable("ID", "TYPE", "IMP", "PIN", "AGE", "CONTENT")
	for _, m := range memories {
		pin := ""
		if m.Pinned {
			pin = pinStyle.Render("*")
		}
		t.Row(
			shortID(m.ID),
			string(m.Type),
			fmt.Sprintf("%.2f", m.Importance),
			pin,
			age(m.CreatedAt),
			truncate(m.Content, contentWidth),
		)
	}
	return t.Render()
}

// RenderJobsTable renders the pipeline queue listing.
func RenderJobsTable(jobs []*types.Job) string {
	if len(jobs) == 0 {
		return mutedStyle.Render("queue is empty")
	}
	t := newTable("ID", "TYPE", "STATUS", "ATTEMPTS", "AGE", "ERROR")
	for _, j := range jobs {
		status := string(j.Status)
		switch j.Status {
		case types.JobCompleted:
			status = passStyle.Render(status)
		case types.JobFailed:
			status = warnStyle.Render(status)
		case types.JobDead:
			status = failStyle.Render(status)
		}
		t.Row(
			shortID(j.ID),
			string(j.JobType),
			status,
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
			age(j.CreatedAt),
			truncate(j.Error, 40),
		)
	}
	return t.Render()
}
