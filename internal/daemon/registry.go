// Package daemon tracks running signetd processes in a per-user registry so
// CLI invocations can find the daemon serving a workspace without scanning
// the filesystem.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// RegistryFileName is the daemon index under ~/.signet/.
const RegistryFileName = "daemons.json"

// Entry is one registered daemon.
type Entry struct {
	Workspace string    `json:"workspace"`
	Addr      string    `json:"addr"`
	DBPath    string    `json:"db_path"`
	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// Registry is the cross-process daemon index. File-level writes go through
// an exclusive flock plus atomic rename.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewRegistry opens the default registry in ~/.signet/.
func NewRegistry() (*Registry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return NewRegistryAt(filepath.Join(home, ".signet"))
}

// NewRegistryAt opens a registry rooted at dir, creating dir if needed.
func NewRegistryAt(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create registry dir: %w", err)
	}
	return &Registry{
		path:     filepath.Join(dir, RegistryFileName),
		lockPath: filepath.Join(dir, RegistryFileName+".lock"),
	}, nil
}

// withLock runs fn holding both the in-process mutex and the file lock.
func (r *Registry) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fl := flock.New(r.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer fl.Unlock()

	return fn()
}

// readLocked loads entries. A missing, empty, or corrupted file reads as
// empty; the registry is a cache, losing it just means re-registration.
func (r *Registry) readLocked() []Entry {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func (r *Registry) writeLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), "daemons-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Register adds a daemon, replacing any prior entry for the same workspace
// or PID.
func (r *Registry) Register(entry Entry) error {
	return r.withLock(func() error {
		entries := r.readLocked()
		kept := entries[:0]
		for _, e := range entries {
			if !pathsEqual(e.Workspace, entry.Workspace) && e.PID != entry.PID {
				kept = append(kept, e)
			}
		}
		kept = append(kept, entry)
		return r.writeLocked(kept)
	})
}

// Unregister removes the entry for a workspace/PID pair.
func (r *Registry) Unregister(workspace string, pid int) error {
	return r.withLock(func() error {
		entries := r.readLocked()
		kept := entries[:0]
		for _, e := range entries {
			if !pathsEqual(e.Workspace, workspace) && e.PID != pid {
				kept = append(kept, e)
			}
		}
		return r.writeLocked(kept)
	})
}

// List returns live entries, pruning those whose process is gone.
func (r *Registry) List() ([]Entry, error) {
	var alive []Entry
	err := r.withLock(func() error {
		entries := r.readLocked()
		for _, e := range entries {
			if processAlive(e.PID) {
				alive = append(alive, e)
			}
		}
		if len(alive) != len(entries) {
			return r.writeLocked(alive)
		}
		return nil
	})
	return alive, err
}

// Lookup finds the live entry for a workspace, or nil.
func (r *Registry) Lookup(workspace string) (*Entry, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if pathsEqual(entries[i].Workspace, workspace) {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// Clear empties the registry.
func (r *Registry) Clear() error {
	return r.withLock(func() error {
		return r.writeLocked(nil)
	})
}

// pathsEqual compares workspace paths after cleaning. Case folding is left
// to the filesystem; registries are per-user so collisions are benign.
func pathsEqual(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
