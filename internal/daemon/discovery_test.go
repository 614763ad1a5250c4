package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/workspace"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistryAt(t.TempDir())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func liveEntry(workspacePath string) Entry {
	return Entry{
		Workspace: workspacePath,
		Addr:      "127.0.0.1:0",
		DBPath:    filepath.Join(workspacePath, ".signet", "memory.db"),
		PID:       os.Getpid(),
		Version:   "test",
		StartedAt: time.Now().UTC(),
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := newTestRegistry(t)
	ws := t.TempDir()
	if err := reg.Register(liveEntry(ws)); err != nil {
		t.Fatalf("register: %v", err)
	}

	entry, err := reg.Lookup(ws)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry == nil || entry.PID != os.Getpid() {
		t.Fatalf("entry = %+v", entry)
	}

	if entry, _ := reg.Lookup(t.TempDir()); entry != nil {
		t.Errorf("lookup of unknown workspace = %+v", entry)
	}
}

func TestRegisterReplacesSameWorkspace(t *testing.T) {
	reg := newTestRegistry(t)
	ws := t.TempDir()
	first := liveEntry(ws)
	first.Addr = "127.0.0.1:7001"
	second := liveEntry(ws)
	second.Addr = "127.0.0.1:7002"

	if err := reg.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(second); err != nil {
		t.Fatal(err)
	}
	entries, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Addr != "127.0.0.1:7002" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestListPrunesDeadProcesses(t *testing.T) {
	reg := newTestRegistry(t)
	alive := liveEntry(t.TempDir())
	dead := liveEntry(t.TempDir())
	dead.PID = -1

	if err := reg.Register(alive); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(dead); err != nil {
		t.Fatal(err)
	}
	entries, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Workspace != alive.Workspace {
		t.Fatalf("entries = %+v", entries)
	}

	// The prune is persisted, not just filtered.
	data, err := os.ReadFile(reg.path)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	if strings.Contains(string(data), dead.Workspace) {
		t.Error("stale entry survived in the registry file")
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	reg := newTestRegistry(t)
	ws := t.TempDir()
	if err := reg.Register(liveEntry(ws)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Unregister(ws, os.Getpid()); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	entries, _ := reg.List()
	if len(entries) != 0 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestCorruptedRegistryReadsAsEmpty(t *testing.T) {
	reg := newTestRegistry(t)
	if err := os.WriteFile(reg.path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %+v", entries)
	}
	// And it is writable again afterwards.
	if err := reg.Register(liveEntry(t.TempDir())); err != nil {
		t.Fatalf("register after corruption: %v", err)
	}
}

func TestWorkspaceRootWalksUp(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, workspace.DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "src", "internal", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := workspaceRoot(nested); got != root {
		t.Errorf("workspaceRoot = %q, want %q", got, root)
	}
	if got := workspaceRoot(t.TempDir()); got != "" {
		t.Errorf("workspaceRoot outside any workspace = %q", got)
	}
}

func TestProbeReportsHealthAndUptime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"ok"}`))
		case "/api/status":
			w.Write([]byte(`{"status":"ok","uptimeMs":4200}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	entry := liveEntry(t.TempDir())
	entry.Addr = strings.TrimPrefix(srv.URL, "http://")
	info := probe(context.Background(), entry)
	if !info.Alive {
		t.Fatalf("info = %+v", info)
	}
	if info.UptimeMs != 4200 {
		t.Errorf("uptime = %d", info.UptimeMs)
	}
}

func TestProbeDeadListener(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	entry := liveEntry(t.TempDir())
	entry.Addr = addr
	info := probe(context.Background(), entry)
	if info.Alive || info.Error == "" {
		t.Fatalf("info = %+v", info)
	}
}

func TestFindForWorkspace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	reg := newTestRegistry(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, workspace.DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	entry := liveEntry(root)
	entry.Addr = strings.TrimPrefix(srv.URL, "http://")
	if err := reg.Register(entry); err != nil {
		t.Fatal(err)
	}

	info, err := FindForWorkspace(context.Background(), reg, filepath.Join(root, "src"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if info == nil {
		t.Fatal("no daemon found")
	}
	if !info.Alive || info.Addr != entry.Addr {
		t.Fatalf("info = %+v", info)
	}

	if info, _ := FindForWorkspace(context.Background(), reg, t.TempDir()); info != nil {
		t.Errorf("daemon found outside workspace: %+v", info)
	}
}
