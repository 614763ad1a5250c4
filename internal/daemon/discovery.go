package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/signetai/signetd/internal/workspace"
)

// probeTimeout bounds the health check against a registered address.
const probeTimeout = 500 * time.Millisecond

// Info is a registry entry enriched with a liveness probe.
type Info struct {
	Entry
	Alive    bool   `json:"alive"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Discover lists registered daemons and probes each one over HTTP. Entries
// whose process died are already pruned by the registry; a live process with
// an unresponsive listener is reported with the probe error.
func Discover(ctx context.Context, reg *Registry) ([]Info, error) {
	entries, err := reg.List()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, probe(ctx, e))
	}
	return infos, nil
}

// FindForWorkspace resolves the daemon serving the workspace that contains
// dir, walking up to the nearest .signet directory first. Returns nil when
// no live daemon is registered for it.
func FindForWorkspace(ctx context.Context, reg *Registry, dir string) (*Info, error) {
	root := workspaceRoot(dir)
	if root == "" {
		return nil, nil
	}
	entry, err := reg.Lookup(root)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	info := probe(ctx, *entry)
	return &info, nil
}

// workspaceRoot walks up from dir to the directory holding .signet.
func workspaceRoot(dir string) string {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}
	for d := dir; ; d = filepath.Dir(d) {
		if fi, err := os.Stat(filepath.Join(d, workspace.DirName)); err == nil && fi.IsDir() {
			return d
		}
		if d == filepath.Dir(d) {
			return ""
		}
	}
}

// probe hits /health and then best-effort /api/status for uptime.
func probe(ctx context.Context, e Entry) Info {
	info := Info{Entry: e}

	client := &http.Client{Timeout: probeTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+e.Addr+"/health", nil)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	resp, err := client.Do(req)
	if err != nil {
		info.Error = fmt.Sprintf("health probe failed: %v", err)
		return info
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		info.Error = fmt.Sprintf("health probe returned %d", resp.StatusCode)
		return info
	}
	info.Alive = true

	// Status is authenticated in team mode; a denial still proves liveness.
	if req, err = http.NewRequestWithContext(ctx, http.MethodGet, "http://"+e.Addr+"/api/status", nil); err == nil {
		if resp, err := client.Do(req); err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var status struct {
					UptimeMs int64 `json:"uptimeMs"`
				}
				if json.NewDecoder(resp.Body).Decode(&status) == nil {
					info.UptimeMs = status.UptimeMs
				}
			}
		}
	}
	return info
}

// Stop terminates a daemon: SIGTERM first, escalating to SIGKILL when it
// does not exit within the grace period.
func Stop(info Info) error {
	if !processAlive(info.PID) {
		return fmt.Errorf("daemon pid %d is not running", info.PID)
	}
	if err := terminateProcess(info.PID); err != nil {
		return fmt.Errorf("terminate failed: %w", err)
	}
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !processAlive(info.PID) {
			return nil
		}
	}
	if err := killProcess(info.PID); err != nil {
		return fmt.Errorf("kill failed: %w", err)
	}
	for i := 0; i < 10; i++ {
		time.Sleep(100 * time.Millisecond)
		if !processAlive(info.PID) {
			return nil
		}
	}
	return fmt.Errorf("daemon pid %d did not exit", info.PID)
}
