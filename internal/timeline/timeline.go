// Package timeline reconstructs everything the daemon knows about one
// memory: its mutation history, job lifecycle, matching daemon log lines,
// and recent error-ring entries, merged into one chronological view.
package timeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/signetai/signetd/internal/analytics"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// logTailBytes bounds how far back the log scan reads.
const logTailBytes = 512 * 1024

// Event is one timeline entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // history, job, log, error
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail,omitempty"`
}

// Builder assembles timelines against one store.
type Builder struct {
	store     storage.Storage
	collector *analytics.Collector
	logPath   string
}

func New(store storage.Storage, collector *analytics.Collector, logPath string) *Builder {
	return &Builder{store: store, collector: collector, logPath: logPath}
}

// Build resolves id as a memory id or a job id and returns its merged
// timeline, oldest first.
func (b *Builder) Build(ctx context.Context, id string) ([]Event, error) {
	memoryID, err := b.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	var events []Event

	history, err := b.store.GetHistory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	for _, h := range history {
		summary := fmt.Sprintf("history %s", h.Event)
		if h.ChangedBy != "" {
			summary += " by " + h.ChangedBy
		}
		events = append(events, Event{
			Timestamp: h.CreatedAt,
			Kind:      "history",
			Summary:   summary,
			Detail:    h.Reason,
		})
	}

	jobs, err := b.store.ListJobs(ctx, storage.JobFilter{MemoryID: memoryID})
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		events = append(events, Event{
			Timestamp: j.CreatedAt,
			Kind:      "job",
			Summary:   fmt.Sprintf("%s job enqueued", j.JobType),
		})
		if j.CompletedAt != nil {
			events = append(events, Event{
				Timestamp: *j.CompletedAt,
				Kind:      "job",
				Summary:   fmt.Sprintf("%s job completed", j.JobType),
				Detail:    j.Result,
			})
		}
		if j.FailedAt != nil {
			events = append(events, Event{
				Timestamp: *j.FailedAt,
				Kind:      "job",
				Summary:   fmt.Sprintf("%s job failed (attempt %d)", j.JobType, j.Attempts),
				Detail:    j.Error,
			})
		}
	}

	events = append(events, b.scanLog(memoryID)...)

	if b.collector != nil {
		for _, e := range b.collector.ErrorsMatching(memoryID) {
			events = append(events, Event{
				Timestamp: e.Timestamp,
				Kind:      "error",
				Summary:   fmt.Sprintf("%s error: %s", e.Stage, e.Code),
				Detail:    e.Message,
			})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (b *Builder) resolve(ctx context.Context, id string) (string, error) {
	if _, err := b.store.GetMemory(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return "", err
	}

	job, err := b.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", types.ErrNotFound
		}
		return "", err
	}
	if job.MemoryID == "" {
		return "", types.ErrNotFound
	}
	return job.MemoryID, nil
}

var logTimeRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`)

// scanLog tail-reads the daemon log and keeps lines mentioning the id.
// Best-effort: a missing or unparseable log contributes nothing.
func (b *Builder) scanLog(id string) []Event {
	if b.logPath == "" {
		return nil
	}
	f, err := os.Open(b.logPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > logTailBytes {
		if _, err := f.Seek(info.Size()-logTailBytes, io.SeekStart); err != nil {
			return nil
		}
	}

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, id) {
			continue
		}
		m := logTimeRe.FindString(line)
		if m == "" {
			continue
		}
		ts, err := parseLogTime(m)
		if err != nil {
			continue
		}
		events = append(events, Event{
			Timestamp: ts,
			Kind:      "log",
			Summary:   "daemon log",
			Detail:    line,
		})
	}
	return events
}

func parseLogTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized log timestamp %q", s)
}
