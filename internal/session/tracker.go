// Package session tracks live agent sessions in memory and flushes their
// state into checkpoint rows. The tracker is the hot path of every
// user-prompt hook call, so state stays in a mutex-guarded map and the
// database is only touched by the debounced flusher.
package session

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxPendingQueries   = 20
	maxPendingRemembers = 10
	maxPromptSnippets   = 10
	maxSnippetLen       = 200
)

// Options gate automatic checkpointing.
type Options struct {
	Enabled        bool
	PromptInterval int
	TimeInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PromptInterval <= 0 {
		o.PromptInterval = 5
	}
	if o.TimeInterval <= 0 {
		o.TimeInterval = 15 * time.Minute
	}
	return o
}

type sessionState struct {
	harness           string
	project           string
	projectNormalized string
	startedAt         time.Time
	lastCheckpointAt  time.Time
	promptCount       int
	totalPromptCount  int
	queries           []string
	remembers         []string
	snippets          []string
}

// Snapshot is the immutable view handed to the flusher by Consume.
type Snapshot struct {
	SessionKey        string
	Harness           string
	Project           string
	ProjectNormalized string
	PromptCount       int
	TotalPromptCount  int
	Queries           []string
	Remembers         []string
	Snippets          []string
}

// Tracker holds per-session state keyed by session_key.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	opts     Options
	now      func() time.Time
}

func NewTracker(opts Options) *Tracker {
	return &Tracker{
		sessions: make(map[string]*sessionState),
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// NormalizeProject canonicalizes a project path so checkpoints written from
// different working directories of the same repo land on one key.
func NormalizeProject(project string) string {
	if project == "" {
		return ""
	}
	abs, err := filepath.Abs(project)
	if err != nil {
		return filepath.Clean(project)
	}
	return filepath.Clean(abs)
}

// Init registers a session, replacing any previous state under the key.
func (t *Tracker) Init(sessionKey, harness, project string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.sessions[sessionKey] = &sessionState{
		harness:           harness,
		project:           project,
		projectNormalized: NormalizeProject(project),
		startedAt:         now,
		lastCheckpointAt:  now,
	}
}

func (t *Tracker) get(sessionKey string) *sessionState {
	s, ok := t.sessions[sessionKey]
	if !ok {
		now := t.now()
		s = &sessionState{startedAt: now, lastCheckpointAt: now}
		t.sessions[sessionKey] = s
	}
	return s
}

// RecordPrompt counts a user prompt and keeps a truncated snippet of it.
// Blank snippets are counted but not stored.
func (t *Tracker) RecordPrompt(sessionKey, snippet string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(sessionKey)
	s.promptCount++
	s.totalPromptCount++
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return
	}
	if len(snippet) > maxSnippetLen {
		snippet = snippet[:maxSnippetLen]
	}
	s.snippets = appendCapped(s.snippets, snippet, maxPromptSnippets)
}

// RecordQuery notes a recall query issued during the session.
func (t *Tracker) RecordQuery(sessionKey, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(sessionKey)
	s.queries = appendCapped(s.queries, query, maxPendingQueries)
}

// RecordRemember notes a memory id stored during the session.
func (t *Tracker) RecordRemember(sessionKey, memoryID string) {
	if memoryID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(sessionKey)
	s.remembers = appendCapped(s.remembers, memoryID, maxPendingRemembers)
}

// ShouldCheckpoint reports whether the session crossed either checkpoint
// interval.
func (t *Tracker) ShouldCheckpoint(sessionKey string) bool {
	if !t.opts.Enabled {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionKey]
	if !ok {
		return false
	}
	if s.promptCount >= t.opts.PromptInterval {
		return true
	}
	return s.promptCount > 0 && t.now().Sub(s.lastCheckpointAt) >= t.opts.TimeInterval
}

// Consume snapshots the pending state and resets the interval counters.
// totalPromptCount survives across checkpoints.
func (t *Tracker) Consume(sessionKey string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionKey]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{
		SessionKey:        sessionKey,
		Harness:           s.harness,
		Project:           s.project,
		ProjectNormalized: s.projectNormalized,
		PromptCount:       s.promptCount,
		TotalPromptCount:  s.totalPromptCount,
		Queries:           append([]string(nil), s.queries...),
		Remembers:         append([]string(nil), s.remembers...),
		Snippets:          append([]string(nil), s.snippets...),
	}
	s.promptCount = 0
	s.queries = nil
	s.remembers = nil
	s.snippets = nil
	s.lastCheckpointAt = t.now()
	return snap, true
}

// Clear drops a session's state entirely.
func (t *Tracker) Clear(sessionKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionKey)
}

// appendCapped appends with FIFO eviction: the newest entries win.
func appendCapped(list []string, v string, limit int) []string {
	list = append(list, v)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
