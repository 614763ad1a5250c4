package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signetai/signetd/internal/workspace"
)

const (
	// FileName is the audit log file name stored under .signet/.
	FileName = "llm_calls.jsonl"
	idPrefix = "llm-"
)

// Entry is a generic append-only audit event. It is intentionally flexible:
// use Kind + typed fields for common cases, and Extra for everything else.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	// Common metadata
	Actor    string `json:"actor,omitempty"`
	MemoryID string `json:"memory_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Stage    string `json:"stage,omitempty"`

	// LLM call
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

func Path() (string, error) {
	dir := workspace.FindDir()
	if dir == "" {
		return "", fmt.Errorf("no .signet directory found")
	}
	return filepath.Join(dir, FileName), nil
}

// EnsureFile creates .signet/llm_calls.jsonl if it does not exist.
func EnsureFile() (string, error) {
	p, err := Path()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return "", fmt.Errorf("failed to create .signet directory: %w", err)
	}
	_, statErr := os.Stat(p)
	if statErr == nil {
		return p, nil
	}
	if !os.IsNotExist(statErr) {
		return "", fmt.Errorf("failed to stat audit log: %w", statErr)
	}
	if err := os.WriteFile(p, []byte{}, 0600); err != nil {
		return "", fmt.Errorf("failed to create audit log: %w", err)
	}
	return p, nil
}

// Append appends an event to .signet/llm_calls.jsonl as a single JSON line.
// This is intentionally append-only: callers must not mutate existing lines.
func Append(e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("kind is required")
	}

	p, err := EnsureFile()
	if err != nil {
		return "", err
	}

	if e.ID == "" {
		e.ID, err = newID()
		if err != nil {
			return "", err
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("failed to write audit log entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush audit log: %w", err)
	}

	return e.ID, nil
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
