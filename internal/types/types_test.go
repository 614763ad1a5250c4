package types

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello   world  ", "hello world"},
		{"one\ntwo\t three", "one two three"},
		{"already clean", "already clean"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeContent(tt.in); got != tt.want {
			t.Errorf("NormalizeContent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeForDedup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User prefers dark mode.", "user prefers dark mode"},
		{"Tabs, not spaces!!!", "tabs, not spaces"},
		{"  MIXED Case  ", "mixed case"},
	}
	for _, tt := range tests {
		if got := NormalizeForDedup(tt.in); got != tt.want {
			t.Errorf("NormalizeForDedup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComputeContentHashDeterministic(t *testing.T) {
	a := ComputeContentHash("User prefers dark mode")
	b := ComputeContentHash("user prefers  dark mode.")
	if a != b {
		t.Errorf("normalized variants should hash identically: %s vs %s", a, b)
	}
	c := ComputeContentHash("user prefers light mode")
	if a == c {
		t.Error("different content should produce different hashes")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestMemoryTypeIsValid(t *testing.T) {
	valid := []MemoryType{
		MemoryTypeFact, MemoryTypePreference, MemoryTypeDecision,
		MemoryTypeProcedural, MemoryTypeSemantic, MemoryTypeIssue,
		MemoryTypeRule, MemoryTypeLearning, MemoryTypeGeneral,
	}
	for _, mt := range valid {
		if !mt.IsValid() {
			t.Errorf("%s should be valid", mt)
		}
	}
	if MemoryType("bogus").IsValid() {
		t.Error("bogus type should not be valid")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if !JobCompleted.Terminal() || !JobDead.Terminal() {
		t.Error("completed and dead must be terminal")
	}
	for _, s := range []JobStatus{JobPending, JobProcessing, JobFailed} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestMemoryValidate(t *testing.T) {
	base := func() *Memory {
		return &Memory{Content: "something useful", Type: MemoryTypeFact, Importance: 0.5, Confidence: 0.5}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid memory rejected: %v", err)
	}

	m := base()
	m.Content = "   "
	if err := m.Validate(); err == nil {
		t.Error("blank content should fail validation")
	}

	m = base()
	m.Importance = 1.5
	if err := m.Validate(); err == nil {
		t.Error("importance > 1 should fail validation")
	}

	m = base()
	m.Type = "nonsense"
	if err := m.Validate(); err == nil {
		t.Error("unknown type should fail validation")
	}
}

func TestEffectiveScore(t *testing.T) {
	now := time.Now()

	pinned := &Memory{Pinned: true, Importance: 0.2, CreatedAt: now.Add(-100 * 24 * time.Hour)}
	if got := pinned.EffectiveScore(now); got != 1.0 {
		t.Errorf("pinned memory should score 1.0, got %g", got)
	}

	fresh := &Memory{Importance: 0.8, CreatedAt: now}
	if got := fresh.EffectiveScore(now); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("fresh memory should score its importance, got %g", got)
	}

	tenDays := &Memory{Importance: 0.8, CreatedAt: now.Add(-10 * 24 * time.Hour)}
	want := 0.8 * math.Pow(0.95, 10)
	if got := tenDays.EffectiveScore(now); math.Abs(got-want) > 1e-9 {
		t.Errorf("10-day decay: got %g, want %g", got, want)
	}

	future := &Memory{Importance: 0.8, CreatedAt: now.Add(24 * time.Hour)}
	if got := future.EffectiveScore(now); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("future created_at should clamp age to 0, got %g", got)
	}
}

func TestParseRememberContent(t *testing.T) {
	tests := []struct {
		raw        string
		content    string
		memType    MemoryType
		importance float64
		pinned     bool
		tags       []string
	}{
		{"plain note about the weather", "plain note about the weather", MemoryTypeGeneral, 0.8, false, nil},
		{"critical: production db password rotated quarterly", "production db password rotated quarterly", MemoryTypeGeneral, 1.0, true, nil},
		{"CRITICAL: never force-push to main", "never force-push to main", MemoryTypeRule, 1.0, true, nil},
		{"[go, style]: prefer table tests", "prefer table tests", MemoryTypePreference, 0.8, false, []string{"go", "style"}},
		{"we decided to use sqlite", "we decided to use sqlite", MemoryTypeDecision, 0.8, false, nil},
		{"learned that WAL needs a checkpoint on close", "learned that WAL needs a checkpoint on close", MemoryTypeLearning, 0.8, false, nil},
		{"found a bug in the lease query", "found a bug in the lease query", MemoryTypeIssue, 0.8, false, nil},
		{"[]: empty tag list stays literal", "[]: empty tag list stays literal", MemoryTypeGeneral, 0.8, false, nil},
	}
	for _, tt := range tests {
		got := ParseRememberContent(tt.raw)
		if got.Content != tt.content {
			t.Errorf("%q: content = %q, want %q", tt.raw, got.Content, tt.content)
		}
		if got.Type != tt.memType {
			t.Errorf("%q: type = %s, want %s", tt.raw, got.Type, tt.memType)
		}
		if got.Importance != tt.importance {
			t.Errorf("%q: importance = %g, want %g", tt.raw, got.Importance, tt.importance)
		}
		if got.Pinned != tt.pinned {
			t.Errorf("%q: pinned = %v, want %v", tt.raw, got.Pinned, tt.pinned)
		}
		if len(got.Tags) != len(tt.tags) {
			t.Errorf("%q: tags = %v, want %v", tt.raw, got.Tags, tt.tags)
			continue
		}
		for i := range tt.tags {
			if got.Tags[i] != tt.tags[i] {
				t.Errorf("%q: tag[%d] = %q, want %q", tt.raw, i, got.Tags[i], tt.tags[i])
			}
		}
	}
}

func TestCodedErrors(t *testing.T) {
	err := NewVersionConflict(3)
	if ErrorCode(err) != CodeVersionConflict {
		t.Errorf("code = %s, want %s", ErrorCode(err), CodeVersionConflict)
	}
	if err.Detail["currentVersion"] != 3 {
		t.Errorf("detail currentVersion = %v, want 3", err.Detail["currentVersion"])
	}

	wrapped := fmt.Errorf("update failed: %w", NewMissingReason("update"))
	if !IsCode(wrapped, CodeMissingReason) {
		t.Error("IsCode should see through wrapping")
	}

	if ErrorCode(fmt.Errorf("plain")) != "" {
		t.Error("plain errors should have no code")
	}

	if !IsCode(ErrNotFound, CodeNotFound) {
		t.Error("ErrNotFound should carry not_found")
	}
}
