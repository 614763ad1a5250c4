package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/config"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/storage/sqlite"
	"github.com/signetai/signetd/internal/types"
)

func TestParseCutoff(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	got, err := parseCutoff("720h", now)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if want := now.Add(-720 * time.Hour); !got.Equal(want) {
		t.Errorf("duration cutoff = %v, want %v", got, want)
	}

	got, err = parseCutoff("2026-01-15", now)
	if err != nil {
		t.Fatalf("date: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.January || got.Day() != 15 {
		t.Errorf("date cutoff = %v", got)
	}

	got, err = parseCutoff("2 weeks ago", now)
	if err != nil {
		t.Fatalf("natural: %v", err)
	}
	if got.After(now.Add(-13 * 24 * time.Hour)) {
		t.Errorf("natural cutoff = %v, want about two weeks before %v", got, now)
	}

	if _, err := parseCutoff("gibberish input", now); err == nil {
		t.Error("expected error for unparseable cutoff")
	}
}

func newHTTPBackend(t *testing.T, handler http.Handler) *httpBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &httpBackend{
		addr:   strings.TrimPrefix(srv.URL, "http://"),
		token:  "tok-1",
		client: srv.Client(),
	}
}

func TestHTTPBackendRemember(t *testing.T) {
	backend := newHTTPBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/memory/remember" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth header = %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "remember me" || body["type"] != "fact" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(storage.IngestResult{ID: "mem-1"})
	}))

	res, err := backend.Remember(context.Background(), rememberParams{Content: "remember me", Type: "fact"})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if res.ID != "mem-1" || res.Deduped {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPBackendDecodesCodedErrors(t *testing.T) {
	backend := newHTTPBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": "version conflict", "code": "version_conflict", "currentVersion": 4,
		})
	}))

	_, err := backend.Update(context.Background(), "mem-1", storage.MemoryPatch{}, "r", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *apiError
	if !asAPIError(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Code != "version_conflict" || apiErr.Status != http.StatusConflict {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if v, ok := apiErr.Detail["currentVersion"].(float64); !ok || v != 4 {
		t.Errorf("detail = %v", apiErr.Detail)
	}
}

func TestHTTPBackendForgetConfirmFlow(t *testing.T) {
	backend := newHTTPBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["confirmToken"] == nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error":        "batch exceeds threshold",
				"code":         types.CodeRequiresConfirm,
				"count":        40,
				"confirmToken": "sig.abc",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "forgotten", "count": 40})
	}))

	sel := storage.ForgetSelector{Type: types.MemoryTypeFact}
	out, err := backend.Forget(context.Background(), sel, "execute", "", "cleanup")
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if !out.RequiresConfirm || out.ConfirmToken != "sig.abc" || out.Count != 40 {
		t.Fatalf("confirm outcome = %+v", out)
	}

	out, err = backend.Forget(context.Background(), sel, "execute", out.ConfirmToken, "cleanup")
	if err != nil {
		t.Fatalf("confirmed execute: %v", err)
	}
	if !out.Executed || out.Count != 40 {
		t.Errorf("final outcome = %+v", out)
	}
}

func newTestDirect(t *testing.T) *directBackend {
	t.Helper()
	if err := config.Initialize(); err != nil {
		t.Fatalf("config: %v", err)
	}
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &directBackend{store: store}
}

func TestDirectBackendRememberShorthand(t *testing.T) {
	b := newTestDirect(t)
	ctx := context.Background()

	res, err := b.Remember(ctx, rememberParams{Content: "critical: [infra]: never push to main"})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	mem, err := b.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !mem.Pinned || mem.Importance != 1.0 {
		t.Errorf("shorthand pin not applied: %+v", mem)
	}
	if mem.Type != types.MemoryTypeRule {
		t.Errorf("type = %s, want rule", mem.Type)
	}
	if len(mem.Tags) != 1 || mem.Tags[0] != "infra" {
		t.Errorf("tags = %v", mem.Tags)
	}
}

func TestDirectBackendRememberExplicitOverrides(t *testing.T) {
	b := newTestDirect(t)
	ctx := context.Background()

	imp := 0.4
	res, err := b.Remember(ctx, rememberParams{
		Content:    "always check the cache first",
		Type:       "procedural",
		Importance: &imp,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	mem, err := b.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mem.Type != types.MemoryTypeProcedural {
		t.Errorf("explicit type lost: %s", mem.Type)
	}
	if mem.Importance != 0.4 {
		t.Errorf("explicit importance lost: %v", mem.Importance)
	}
}

func TestDirectBackendForgetPreviewAndExecute(t *testing.T) {
	b := newTestDirect(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Remember(ctx, rememberParams{
			Content: "stale fact number " + string(rune('a'+i)),
			Type:    "fact",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	sel := storage.ForgetSelector{Type: types.MemoryTypeFact}
	preview, err := b.Forget(ctx, sel, "preview", "", "")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Count != 3 || preview.RequiresConfirm || len(preview.IDs) != 3 {
		t.Fatalf("preview = %+v", preview)
	}

	if _, err := b.Forget(ctx, sel, "execute", "", ""); err == nil {
		t.Error("execute without reason should fail")
	}

	out, err := b.Forget(ctx, sel, "execute", "", "cleanup")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Executed || out.Count != 3 {
		t.Errorf("execute outcome = %+v", out)
	}
}
