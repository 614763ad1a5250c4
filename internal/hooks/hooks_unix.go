//go:build unix

package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// runHook executes the hook and enforces a timeout, killing the process group
// on expiration to ensure descendant processes are terminated.
func (r *Runner) runHook(hookPath, event, id string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// Command shape: hook_script <id> <event>, payload JSON on stdin.
	// #nosec G204 -- hookPath is from the controlled .signet/hooks directory
	cmd := exec.CommandContext(ctx, hookPath, id, event)
	cmd.Stdin = bytes.NewReader(payloadJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Scripts may spawn children; killing only the immediate process can
	// leave descendants blocking the caller. A process group (Setpgid) plus
	// a negative-PID kill takes the whole tree down on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				return fmt.Errorf("kill process group: %w", err)
			}
		}
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}
