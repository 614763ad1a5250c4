package authz

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestPermissionMatrix(t *testing.T) {
	tests := []struct {
		role  Role
		perm  Permission
		allow bool
	}{
		{RoleAdmin, PermAdmin, true},
		{RoleAdmin, PermForget, true},
		{RoleOperator, PermAdmin, false},
		{RoleOperator, PermDiagnostics, true},
		{RoleAgent, PermRemember, true},
		{RoleAgent, PermConnectors, false},
		{RoleAgent, PermAdmin, false},
		{RoleReadonly, PermRecall, true},
		{RoleReadonly, PermRemember, false},
	}
	for _, tt := range tests {
		claims := &Claims{Subject: "s", Role: tt.role}
		if got := CheckPermission(claims, tt.perm, ModeTeam); got != tt.allow {
			t.Errorf("CheckPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.allow)
		}
	}
}

func TestPermissionLocalModesAllowAll(t *testing.T) {
	for _, mode := range []Mode{ModeLocal, ModeLocalNoToken} {
		if !CheckPermission(nil, PermAdmin, mode) {
			t.Errorf("mode %s should allow without claims", mode)
		}
	}
	if CheckPermission(nil, PermRecall, ModeTeam) {
		t.Error("team mode requires claims")
	}
	if CheckPermission(&Claims{Role: "made-up"}, PermRecall, ModeTeam) {
		t.Error("unknown role should deny")
	}
}

func TestCheckScope(t *testing.T) {
	target := Scope{Project: "proj-a", Agent: "agent-1"}

	if !CheckScope(nil, target, ModeLocal) {
		t.Error("local mode bypasses scope")
	}
	if CheckScope(nil, target, ModeTeam) {
		t.Error("team mode requires claims")
	}
	if !CheckScope(&Claims{Role: RoleAdmin, Project: "other"}, target, ModeTeam) {
		t.Error("admin bypasses scope")
	}
	if !CheckScope(&Claims{Role: RoleAgent}, target, ModeTeam) {
		t.Error("empty claim scope grants full access")
	}
	if !CheckScope(&Claims{Role: RoleAgent, Project: "proj-a"}, target, ModeTeam) {
		t.Error("matching project should pass")
	}
	if CheckScope(&Claims{Role: RoleAgent, Project: "proj-b"}, target, ModeTeam) {
		t.Error("mismatched project should fail")
	}
	// A claim dimension the target leaves unset does not constrain.
	if !CheckScope(&Claims{Role: RoleAgent, User: "u1"}, target, ModeTeam) {
		t.Error("claim user vs unset target user should pass")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	l := NewRateLimiter(time.Minute, 2)
	base := time.Now()
	l.clock = func() time.Time { return base }

	if d := l.Check("k"); !d.Allowed || d.Remaining != 2 {
		t.Fatalf("fresh key = %+v", d)
	}
	l.Record("k")
	l.Record("k")
	if d := l.Check("k"); d.Allowed {
		t.Fatalf("at limit = %+v", d)
	}

	// Window expiry frees the key.
	l.clock = func() time.Time { return base.Add(61 * time.Second) }
	if d := l.Check("k"); !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expired window = %+v", d)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(time.Minute, 0)
	for i := 0; i < 100; i++ {
		l.Record("k")
	}
	if d := l.Check("k"); !d.Allowed {
		t.Error("max <= 0 disables limiting")
	}
}

func TestRateLimiterSweep(t *testing.T) {
	l := NewRateLimiter(time.Minute, 5)
	base := time.Now()
	l.clock = func() time.Time { return base }
	l.Record("old")
	l.Record("fresh")

	l.clock = func() time.Time { return base.Add(3 * time.Minute) }
	l.Record("fresh") // reopens fresh's window at +3m
	if removed := l.Sweep(time.Minute); removed != 1 {
		t.Errorf("swept %d, want 1", removed)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	claims := &Claims{
		Subject:   "ci-agent",
		Role:      RoleAgent,
		Project:   "proj-a",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	token, err := EncodeToken(claims, secret)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeToken(token, secret, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Subject != "ci-agent" || got.Role != RoleAgent || got.Project != "proj-a" {
		t.Errorf("claims = %+v", got)
	}
}

func TestTokenRejections(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	claims := &Claims{Subject: "s", Role: RoleAgent, ExpiresAt: time.Now().Add(time.Minute)}
	token, err := EncodeToken(claims, secret)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := DecodeToken("garbage", secret, time.Now()); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("malformed: %v", err)
	}
	if _, err := DecodeToken(token, []byte("wrong-secret-wrong-secret-wrong!"), time.Now()); !errors.Is(err, ErrTokenSignature) {
		t.Errorf("wrong secret: %v", err)
	}
	if _, err := DecodeToken(token+"0", secret, time.Now()); !errors.Is(err, ErrTokenSignature) {
		t.Errorf("tampered sig: %v", err)
	}
	if _, err := DecodeToken(token, secret, time.Now().Add(2*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired: %v", err)
	}
}

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.secret")
	first, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(first) != secretLen {
		t.Fatalf("secret length = %d", len(first))
	}
	second, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if string(first) != string(second) {
		t.Error("secret not stable across loads")
	}
}

func TestAuthStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")

	s, err := LoadState(path)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(s.Entries) != 0 || s.Version != 1 {
		t.Fatalf("empty state = %+v", s)
	}

	s.Upsert(StateEntry{Subject: "alice", Role: RoleAdmin})
	s.Upsert(StateEntry{Subject: "bot", Role: RoleAgent, Project: "proj-a"})
	s.Upsert(StateEntry{Subject: "bot", Role: RoleReadonly}) // replace
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(loaded.Entries))
	}
	if e := loaded.Find("bot"); e == nil || e.Role != RoleReadonly {
		t.Errorf("bot entry = %+v", e)
	}
	if !loaded.Remove("alice") || loaded.Remove("alice") {
		t.Error("remove semantics wrong")
	}
}
