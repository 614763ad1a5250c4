// Package hooks runs user-supplied executables on daemon events. Hooks
// are scripts in .signet/hooks/ named after the event; a missing or
// non-executable script is silently skipped.
package hooks

import (
	"os"
	"path/filepath"
	"time"
)

// Event types.
const (
	EventMemoryCreated     = "memory-created"
	EventMemoryDeleted     = "memory-deleted"
	EventCheckpointWritten = "checkpoint-written"
)

// Hook file names.
const (
	HookOnMemoryCreated     = "on_memory_created"
	HookOnMemoryDeleted     = "on_memory_deleted"
	HookOnCheckpointWritten = "on_checkpoint_written"
)

// Runner handles hook execution.
type Runner struct {
	hooksDir string
	timeout  time.Duration
}

// NewRunner creates a hook runner over a hooks directory, typically
// .signet/hooks/ under the workspace root.
func NewRunner(hooksDir string) *Runner {
	return &Runner{
		hooksDir: hooksDir,
		timeout:  10 * time.Second,
	}
}

// NewRunnerFromWorkspace creates a hook runner for a workspace.
func NewRunnerFromWorkspace(workspaceRoot string) *Runner {
	return NewRunner(filepath.Join(workspaceRoot, ".signet", "hooks"))
}

// Run executes a hook if it exists. The payload is marshaled to JSON and
// written to the hook's stdin; id and event are passed as arguments.
// Runs asynchronously - returns immediately, hook runs in background.
func (r *Runner) Run(event, id string, payload any) {
	hookPath, ok := r.lookup(event)
	if !ok {
		return
	}
	go func() {
		_ = r.runHook(hookPath, event, id, payload)
	}()
}

// RunSync executes a hook synchronously and returns any error.
// Useful for testing or when you need to wait for the hook.
func (r *Runner) RunSync(event, id string, payload any) error {
	hookPath, ok := r.lookup(event)
	if !ok {
		return nil
	}
	return r.runHook(hookPath, event, id, payload)
}

// HookExists checks if a hook exists for an event.
func (r *Runner) HookExists(event string) bool {
	_, ok := r.lookup(event)
	return ok
}

func (r *Runner) lookup(event string) (string, bool) {
	hookName := eventToHook(event)
	if hookName == "" {
		return "", false
	}
	hookPath := filepath.Join(r.hooksDir, hookName)
	info, err := os.Stat(hookPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	if info.Mode()&0111 == 0 {
		return "", false
	}
	return hookPath, true
}

func eventToHook(event string) string {
	switch event {
	case EventMemoryCreated:
		return HookOnMemoryCreated
	case EventMemoryDeleted:
		return HookOnMemoryDeleted
	case EventCheckpointWritten:
		return HookOnCheckpointWritten
	default:
		return ""
	}
}
