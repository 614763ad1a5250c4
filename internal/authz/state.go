package authz

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateEntry records one issued identity in auth.json.
type StateEntry struct {
	Subject   string    `json:"subject"`
	Role      Role      `json:"role"`
	Project   string    `json:"project,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the on-disk registry of who has been granted what.
type State struct {
	Version int          `json:"version"`
	Entries []StateEntry `json:"entries"`
}

// LoadState reads auth.json; a missing file is an empty registry.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &State{Version: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse auth state: %w", err)
	}
	if s.Version == 0 {
		s.Version = 1
	}
	return &s, nil
}

// Save writes the registry with owner-only permissions.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// Upsert adds or replaces the entry for a subject.
func (s *State) Upsert(e StateEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	for i, cur := range s.Entries {
		if cur.Subject == e.Subject {
			s.Entries[i] = e
			return
		}
	}
	s.Entries = append(s.Entries, e)
}

// Remove drops a subject, reporting whether it existed.
func (s *State) Remove(subject string) bool {
	for i, cur := range s.Entries {
		if cur.Subject == subject {
			s.Entries = append(s.Entries[:i], s.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the entry for a subject, or nil.
func (s *State) Find(subject string) *StateEntry {
	for i := range s.Entries {
		if s.Entries[i].Subject == subject {
			return &s.Entries[i]
		}
	}
	return nil
}
