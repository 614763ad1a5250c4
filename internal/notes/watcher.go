package notes

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

const (
	// maxNoteChars caps how much of a note file becomes memory content.
	maxNoteChars = 4000

	defaultDebounce     = 2 * time.Second
	defaultPollInterval = 30 * time.Second
)

// Watcher re-ingests markdown notes that appear or change under the notes
// directory, so hand-edited files become memories without going through the
// API. Events are debounced per file; content-hash dedup in the store makes
// duplicate deliveries harmless.
type Watcher struct {
	store    storage.Storage
	log      *slog.Logger
	dir      string
	project  string
	debounce time.Duration
	poll     time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]time.Time
	wg      sync.WaitGroup
}

// NewWatcher builds a watcher over dir. Ingested memories are tagged with
// project and source_type "note".
func NewWatcher(store storage.Storage, log *slog.Logger, dir, project string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		store:    store,
		log:      log,
		dir:      dir,
		project:  project,
		debounce: debounce,
		poll:     defaultPollInterval,
		pending:  make(map[string]*time.Timer),
		seen:     make(map[string]time.Time),
	}
}

// Run blocks until ctx is canceled. Files already present at startup are
// recorded but not ingested; only subsequent changes count. Falls back to
// modtime polling when the platform watcher cannot be created.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	w.snapshot()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("fsnotify unavailable, polling notes dir", "error", err)
		w.pollLoop(ctx)
		w.drain()
		return nil
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		w.log.Warn("cannot watch notes dir, polling instead", "dir", w.dir, "error", err)
		w.pollLoop(ctx)
		w.drain()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				w.drain()
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.drain()
				return nil
			}
			w.log.Warn("notes watcher error", "error", err)
		}
	}
}

// snapshot records current modtimes so startup does not replay the whole
// directory.
func (w *Watcher) snapshot() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !isNoteFile(e.Name()) {
			continue
		}
		if info, err := e.Info(); err == nil {
			w.seen[filepath.Join(w.dir, e.Name())] = info.ModTime()
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOnce(ctx)
		}
	}
}

func (w *Watcher) scanOnce(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isNoteFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		w.mu.Lock()
		prev, ok := w.seen[path]
		changed := !ok || info.ModTime().After(prev)
		w.mu.Unlock()
		if changed {
			w.schedule(ctx, path)
		}
	}
}

// schedule arms (or re-arms) the per-file debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !isNoteFile(filepath.Base(path)) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

// drain stops outstanding timers and waits for in-flight ingests.
func (w *Watcher) drain() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn("cannot read note", "path", path, "error", err)
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	if len(content) > maxNoteChars {
		content = content[:maxNoteChars]
	}

	res, err := w.store.Ingest(ctx, storage.IngestEnvelope{
		Content:     content,
		Type:        types.MemoryTypeGeneral,
		Importance:  types.DefaultRememberImportance,
		Confidence:  1.0,
		Project:     w.project,
		SourceType:  "note",
		RuntimePath: path,
		Actor:       "notes-watcher",
	})
	if err != nil {
		w.log.Warn("note ingest failed", "path", path, "error", err)
		return
	}
	w.mu.Lock()
	w.seen[path] = info.ModTime()
	w.mu.Unlock()
	if res.Deduped {
		w.log.Debug("note unchanged", "path", path, "id", res.ID)
		return
	}
	w.log.Info("ingested note", "path", path, "id", res.ID)
}

func isNoteFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".md")
}
