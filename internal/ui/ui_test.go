package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/diagnostics"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/types"
)

func TestShortID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"8b9c0d1e-2f30-4a5b-8c9d-0e1f2a3b4c5d", "8b9c0d1e"},
		{"abcdefghij", "abcdefgh"},
		{"short", "short"},
	}
	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello world", 20); got != "hello world" {
		t.Errorf("truncate under limit = %q", got)
	}
	if got := truncate("hello world", 6); got != "hello…" {
		t.Errorf("truncate over limit = %q", got)
	}
	if got := truncate("line\nbreak", 20); strings.Contains(got, "\n") {
		t.Errorf("newline survived: %q", got)
	}
}

func TestAgeBuckets(t *testing.T) {
	tests := []struct {
		since time.Duration
		want  string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{49 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := age(time.Now().Add(-tt.since)); got != tt.want {
			t.Errorf("age(-%v) = %q, want %q", tt.since, got, tt.want)
		}
	}
}

func TestRenderMemoryTable(t *testing.T) {
	memories := []*types.Memory{
		{ID: "aaa-1", Content: "pinned rule about deploys", Type: types.MemoryTypeRule,
			Importance: 1.0, Pinned: true, CreatedAt: time.Now()},
		{ID: "bbb-2", Content: "ordinary fact", Type: types.MemoryTypeFact,
			Importance: 0.5, CreatedAt: time.Now().Add(-2 * time.Hour)},
	}
	out := RenderMemoryTable(memories, 120)
	for _, want := range []string{"pinned rule about deploys", "ordinary fact", "rule", "fact", "1.00", "0.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if got := RenderMemoryTable(nil, 80); !strings.Contains(got, "no memories") {
		t.Errorf("empty table = %q", got)
	}
}

func TestRenderJobsTable(t *testing.T) {
	jobs := []*types.Job{
		{ID: "job-1", JobType: types.JobExtract, Status: types.JobPending,
			Attempts: 0, MaxAttempts: 5, CreatedAt: time.Now()},
		{ID: "job-2", JobType: types.JobEmbed, Status: types.JobDead,
			Attempts: 5, MaxAttempts: 5, Error: "provider unavailable", CreatedAt: time.Now()},
	}
	out := RenderJobsTable(jobs)
	for _, want := range []string{"extract", "embed", "pending", "dead", "0/5", "5/5", "provider unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderRecallBox(t *testing.T) {
	results := []recall.Result{
		{ID: "m1", Content: "the gateway drops idle sockets", Type: types.MemoryTypeFact,
			Score: 0.91, Source: "hybrid", Pinned: true},
		{ID: "m2", Content: "prefer table-driven tests", Type: types.MemoryTypePreference,
			Score: 0.44, Source: "bm25"},
	}
	out := RenderRecallBox("gateway sockets", results, 100)
	for _, want := range []string{"gateway sockets", "0.910", "0.440", "2 results"} {
		if !strings.Contains(out, want) {
			t.Errorf("box missing %q:\n%s", want, out)
		}
	}
	if empty := RenderRecallBox("nothing", nil, 80); !strings.Contains(empty, "no matching memories") {
		t.Errorf("empty box = %q", empty)
	}
}

func TestRenderDoctorReport(t *testing.T) {
	report := &diagnostics.Report{
		Overall: diagnostics.StatusDegraded,
		Score:   0.74,
		Checks: []diagnostics.Check{
			{Name: "queue", Status: diagnostics.StatusHealthy, Score: 1.0},
			{Name: "provider", Status: diagnostics.StatusDegraded, Score: 0.5, Detail: "ollama unreachable"},
		},
		GeneratedAt: time.Now(),
	}
	out := RenderDoctorReport(report)
	for _, want := range []string{"queue", "provider", "ollama unreachable", "0.74"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderMarkdownFallsBackWithoutColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	md := "# Heading\n\nbody"
	if got := RenderMarkdown(md, 80); got != md {
		t.Errorf("expected raw passthrough, got %q", got)
	}
}
