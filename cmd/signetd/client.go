package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/mod/semver"

	"github.com/signetai/signetd/internal/config"
	"github.com/signetai/signetd/internal/daemon"
	"github.com/signetai/signetd/internal/debug"
	"github.com/signetai/signetd/internal/diagnostics"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// rememberParams is the CLI-side remember envelope; nil fields defer to the
// shorthand parser.
type rememberParams struct {
	Content    string
	Type       string
	Importance *float64
	Pinned     *bool
	Tags       []string
	Project    string
	SourceType string
}

// forgetOutcome is the unified result of both forget phases.
type forgetOutcome struct {
	Count           int      `json:"count"`
	RequiresConfirm bool     `json:"requiresConfirm"`
	ConfirmToken    string   `json:"confirmToken,omitempty"`
	IDs             []string `json:"ids,omitempty"`
	Executed        bool     `json:"executed"`
}

// backend abstracts daemon-vs-direct execution for every CLI operation.
type backend interface {
	Remember(ctx context.Context, p rememberParams) (storage.IngestResult, error)
	Get(ctx context.Context, id string) (*types.Memory, error)
	Recall(ctx context.Context, q recall.Query) ([]recall.Result, error)
	Update(ctx context.Context, id string, patch storage.MemoryPatch, reason string, ifVersion *int) (int, error)
	Delete(ctx context.Context, id, reason string, force bool) error
	Recover(ctx context.Context, id, reason string) error
	History(ctx context.Context, id string) ([]*types.HistoryEntry, error)
	Forget(ctx context.Context, sel storage.ForgetSelector, mode, confirmToken, reason string) (*forgetOutcome, error)
	Jobs(ctx context.Context, status, jobType string, limit int) ([]*types.Job, error)
	Job(ctx context.Context, id string) (*types.Job, error)
	RetryJob(ctx context.Context, id string) error
	Doctor(ctx context.Context) (*diagnostics.Report, error)
	Status(ctx context.Context) (map[string]any, error)
	Kind() string
	Close() error
}

// newBackend resolves the execution mode: a registered live daemon for this
// workspace wins; otherwise the CLI opens the database directly.
func newBackend(ctx context.Context) (backend, error) {
	if !config.GetBool("no-daemon") {
		if addr := discoverAddr(ctx); addr != "" {
			b := &httpBackend{
				addr:   addr,
				token:  config.GetString("http.token"),
				client: &http.Client{Timeout: 30 * time.Second},
			}
			b.checkVersion(ctx)
			return b, nil
		}
		debug.Logf("Debug: no live daemon found, using direct mode\n")
	}
	return newDirectBackend(ctx)
}

// discoverAddr finds a live daemon: explicit --addr first, then the
// registry entry for the enclosing workspace.
func discoverAddr(ctx context.Context) string {
	if flagAddr != "" {
		return flagAddr
	}
	reg, err := daemon.NewRegistry()
	if err != nil {
		return ""
	}
	info, err := daemon.FindForWorkspace(ctx, reg, "")
	if err != nil || info == nil || !info.Alive {
		return ""
	}
	return info.Addr
}

// apiError is a decoded HTTP error body.
type apiError struct {
	Status  int
	Code    string
	Message string
	Detail  map[string]any
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

type httpBackend struct {
	addr   string
	token  string
	client *http.Client
}

func (b *httpBackend) Kind() string { return "daemon" }
func (b *httpBackend) Close() error { return nil }

// checkVersion warns when the daemon's major version differs from ours.
func (b *httpBackend) checkVersion(ctx context.Context) {
	var status struct {
		Version string `json:"version"`
	}
	if err := b.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return
	}
	if status.Version == "" {
		return
	}
	if semver.Major("v"+status.Version) != semver.Major("v"+Version) {
		fmt.Fprintf(rootCmd.ErrOrStderr(),
			"Warning: daemon version %s does not match client %s\n", status.Version, Version)
	}
}

func (b *httpBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+b.addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if actor := config.GetString("actor"); actor != "" {
		req.Header.Set("X-Signet-Actor", actor)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload map[string]any
		if json.Unmarshal(data, &payload) == nil {
			if msg, ok := payload["error"].(string); ok {
				apiErr.Message = msg
			}
			if code, ok := payload["code"].(string); ok {
				apiErr.Code = code
			}
			delete(payload, "error")
			delete(payload, "code")
			apiErr.Detail = payload
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (b *httpBackend) Remember(ctx context.Context, p rememberParams) (storage.IngestResult, error) {
	req := map[string]any{"content": p.Content}
	if p.Type != "" {
		req["type"] = p.Type
	}
	if p.Importance != nil {
		req["importance"] = *p.Importance
	}
	if p.Pinned != nil {
		req["pinned"] = *p.Pinned
	}
	if len(p.Tags) > 0 {
		req["tags"] = p.Tags
	}
	if p.Project != "" {
		req["project"] = p.Project
	}
	if p.SourceType != "" {
		req["sourceType"] = p.SourceType
	}
	var res storage.IngestResult
	err := b.do(ctx, http.MethodPost, "/api/memory/remember", req, &res)
	return res, err
}

func (b *httpBackend) Get(ctx context.Context, id string) (*types.Memory, error) {
	var m types.Memory
	if err := b.do(ctx, http.MethodGet, "/api/memory/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *httpBackend) Recall(ctx context.Context, q recall.Query) ([]recall.Result, error) {
	req := map[string]any{"query": q.Query}
	if q.Limit > 0 {
		req["limit"] = q.Limit
	}
	if q.Type != "" {
		req["type"] = string(q.Type)
	}
	if q.Project != "" {
		req["project"] = q.Project
	}
	if q.MinScore > 0 {
		req["minScore"] = q.MinScore
	}
	var out struct {
		Results []recall.Result `json:"results"`
	}
	if err := b.do(ctx, http.MethodPost, "/api/memory/recall", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (b *httpBackend) Update(ctx context.Context, id string, patch storage.MemoryPatch, reason string, ifVersion *int) (int, error) {
	patchBody := map[string]any{}
	if patch.Content != nil {
		patchBody["content"] = *patch.Content
	}
	if patch.Type != nil {
		patchBody["type"] = string(*patch.Type)
	}
	if patch.Importance != nil {
		patchBody["importance"] = *patch.Importance
	}
	if patch.Tags != nil {
		patchBody["tags"] = *patch.Tags
	}
	req := map[string]any{"patch": patchBody, "reason": reason}
	if ifVersion != nil {
		req["ifVersion"] = *ifVersion
	}
	var out struct {
		Version int `json:"version"`
	}
	if err := b.do(ctx, http.MethodPatch, "/api/memory/"+url.PathEscape(id), req, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (b *httpBackend) Delete(ctx context.Context, id, reason string, force bool) error {
	q := url.Values{}
	q.Set("reason", reason)
	if force {
		q.Set("force", "true")
	}
	return b.do(ctx, http.MethodDelete,
		"/api/memory/"+url.PathEscape(id)+"?"+q.Encode(), nil, nil)
}

func (b *httpBackend) Recover(ctx context.Context, id, reason string) error {
	return b.do(ctx, http.MethodPost,
		"/api/memory/"+url.PathEscape(id)+"/recover", map[string]any{"reason": reason}, nil)
}

func (b *httpBackend) History(ctx context.Context, id string) ([]*types.HistoryEntry, error) {
	var out struct {
		History []*types.HistoryEntry `json:"history"`
	}
	if err := b.do(ctx, http.MethodGet,
		"/api/memory/"+url.PathEscape(id)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (b *httpBackend) Forget(ctx context.Context, sel storage.ForgetSelector, mode, confirmToken, reason string) (*forgetOutcome, error) {
	req := map[string]any{"mode": mode, "selector": sel}
	if confirmToken != "" {
		req["confirmToken"] = confirmToken
	}
	if reason != "" {
		req["reason"] = reason
	}
	var out forgetOutcome
	err := b.do(ctx, http.MethodPost, "/api/memory/forget", req, &out)
	if err != nil {
		// The execute phase reports a missing confirm token as a coded
		// error carrying count and a fresh token.
		var apiErr *apiError
		if asAPIError(err, &apiErr) && apiErr.Code == types.CodeRequiresConfirm {
			o := &forgetOutcome{RequiresConfirm: true}
			if c, ok := apiErr.Detail["count"].(float64); ok {
				o.Count = int(c)
			}
			if tok, ok := apiErr.Detail["confirmToken"].(string); ok {
				o.ConfirmToken = tok
			}
			return o, nil
		}
		return nil, err
	}
	out.Executed = mode == "execute"
	return &out, nil
}

func (b *httpBackend) Jobs(ctx context.Context, status, jobType string, limit int) ([]*types.Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if jobType != "" {
		q.Set("type", jobType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Jobs []*types.Job `json:"jobs"`
	}
	if err := b.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (b *httpBackend) Job(ctx context.Context, id string) (*types.Job, error) {
	var j types.Job
	if err := b.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (b *httpBackend) RetryJob(ctx context.Context, id string) error {
	return b.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/retry", nil, nil)
}

func (b *httpBackend) Doctor(ctx context.Context) (*diagnostics.Report, error) {
	var report diagnostics.Report
	if err := b.do(ctx, http.MethodGet, "/api/diagnostics", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (b *httpBackend) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := b.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func asAPIError(err error, target **apiError) bool {
	e, ok := err.(*apiError)
	if ok {
		*target = e
	}
	return ok
}
