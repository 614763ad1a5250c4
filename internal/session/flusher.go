package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signetai/signetd/internal/redact"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

const (
	defaultFlushDelay    = 2500 * time.Millisecond
	defaultMaxPerSession = 50
)

// Pending is one checkpoint waiting for its debounce window to close.
type Pending struct {
	SessionKey        string
	Harness           string
	Project           string
	ProjectNormalized string
	Trigger           types.CheckpointTrigger
	Digest            string
	PromptCount       int
	Queries           []string
	Remembers         []string
}

// Flusher debounces checkpoint writes per session_key. Rapid hook calls
// within the window collapse into one row.
type Flusher struct {
	store         storage.Storage
	log           *slog.Logger
	delay         time.Duration
	maxPerSession int

	mu      sync.Mutex
	pending map[string]*Pending
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
}

func NewFlusher(store storage.Storage, log *slog.Logger, delay time.Duration, maxPerSession int) *Flusher {
	if delay <= 0 {
		delay = defaultFlushDelay
	}
	if maxPerSession <= 0 {
		maxPerSession = defaultMaxPerSession
	}
	return &Flusher{
		store:         store,
		log:           log,
		delay:         delay,
		maxPerSession: maxPerSession,
		pending:       make(map[string]*Pending),
		timers:        make(map[string]*time.Timer),
	}
}

// Enqueue queues a checkpoint. A checkpoint already waiting for the same
// session is merged: latest digest wins, prompt counts sum, lists union
// keeping the newest entries.
func (f *Flusher) Enqueue(p Pending) {
	if p.SessionKey == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.pending[p.SessionKey]; ok {
		merged := mergePending(*cur, p)
		f.pending[p.SessionKey] = &merged
	} else {
		f.pending[p.SessionKey] = &p
	}

	if t, ok := f.timers[p.SessionKey]; ok && t.Stop() {
		f.wg.Done()
	}
	key := p.SessionKey
	f.wg.Add(1)
	f.timers[key] = time.AfterFunc(f.delay, func() {
		defer f.wg.Done()
		f.flush(key)
	})
}

// FlushAll writes every pending checkpoint immediately. Used at shutdown
// and by the pre-compaction hook, which cannot wait out the debounce.
func (f *Flusher) FlushAll() {
	f.mu.Lock()
	keys := make([]string, 0, len(f.pending))
	for k := range f.pending {
		keys = append(keys, k)
		if t, ok := f.timers[k]; ok && t.Stop() {
			f.wg.Done()
		}
	}
	f.mu.Unlock()

	for _, k := range keys {
		f.flush(k)
	}
	f.wg.Wait()
}

func (f *Flusher) flush(sessionKey string) {
	f.mu.Lock()
	p, ok := f.pending[sessionKey]
	delete(f.pending, sessionKey)
	delete(f.timers, sessionKey)
	f.mu.Unlock()
	if !ok {
		return
	}

	cp := &types.Checkpoint{
		SessionKey:        p.SessionKey,
		Harness:           p.Harness,
		Project:           p.Project,
		ProjectNormalized: p.ProjectNormalized,
		Trigger:           p.Trigger,
		Digest:            redact.Apply(p.Digest),
		PromptCount:       p.PromptCount,
		MemoryQueries:     p.Queries,
		RecentRemembers:   redact.ApplyAll(p.Remembers),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.store.WriteCheckpoint(ctx, cp, f.maxPerSession); err != nil {
		f.log.Error("checkpoint flush failed", "session", p.SessionKey, "error", err)
	}
}

func mergePending(prev, next Pending) Pending {
	out := next
	if out.Digest == "" {
		out.Digest = prev.Digest
	}
	if out.Trigger == "" {
		out.Trigger = prev.Trigger
	}
	out.PromptCount = prev.PromptCount + next.PromptCount
	out.Queries = unionCapped(prev.Queries, next.Queries, maxPendingQueries)
	out.Remembers = unionCapped(prev.Remembers, next.Remembers, maxPendingRemembers)
	return out
}

// unionCapped merges two ordered lists, deduplicating on the latest
// occurrence and keeping the newest entries when over the limit.
func unionCapped(prev, next []string, limit int) []string {
	all := make([]string, 0, len(prev)+len(next))
	all = append(all, prev...)
	all = append(all, next...)

	seen := make(map[string]bool, len(all))
	dedup := make([]string, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if seen[all[i]] {
			continue
		}
		seen[all[i]] = true
		dedup = append(dedup, all[i])
	}
	// dedup is newest-first; restore chronological order.
	for i, j := 0, len(dedup)-1; i < j; i, j = i+1, j-1 {
		dedup[i], dedup[j] = dedup[j], dedup[i]
	}
	if len(dedup) > limit {
		dedup = dedup[len(dedup)-limit:]
	}
	return dedup
}
