package sign

import (
	"strings"
	"testing"
	"time"
)

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestBuildV1RoundTrip(t *testing.T) {
	payload, err := BuildV1(testHash, "2025-06-01T12:00:00Z", "did:key:z6Mk")
	if err != nil {
		t.Fatalf("BuildV1 failed: %v", err)
	}
	p, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
	if p.ContentHash != testHash || p.CreatedAt != "2025-06-01T12:00:00Z" || p.SignerDID != "did:key:z6Mk" {
		t.Errorf("round trip mismatch: %+v", p)
	}
}

func TestBuildV2RoundTrip(t *testing.T) {
	payload, err := BuildV2("mem-123", testHash, "2025-06-01T12:00:00Z", "did:key:z6Mk")
	if err != nil {
		t.Fatalf("BuildV2 failed: %v", err)
	}
	if !strings.HasPrefix(payload, "v2|") {
		t.Errorf("v2 payload missing prefix: %s", payload)
	}
	p, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Version != 2 || p.MemoryID != "mem-123" {
		t.Errorf("round trip mismatch: %+v", p)
	}
}

func TestBuildRejectsBadFields(t *testing.T) {
	if _, err := BuildV1("NOT-HEX", "2025-06-01T12:00:00Z", "did:x"); err == nil {
		t.Error("uppercase hash should be rejected")
	}
	if _, err := BuildV1(testHash, "2025|06", "did:x"); err == nil {
		t.Error("separator in createdAt should be rejected")
	}
	if _, err := BuildV2("", testHash, "t", "did:x"); err == nil {
		t.Error("empty memoryId should be rejected")
	}
	if _, err := BuildV2("m|1", testHash, "t", "did:x"); err == nil {
		t.Error("separator in memoryId should be rejected")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"onlyonefield",
		"a|b",
		"v2|m|" + testHash + "|t",               // four fields
		"v2|m|" + testHash + "|t|did|extra",     // six fields
		"v3|m|" + testHash + "|t|did",           // unknown prefix parsed as v1, 5 fields
		"ZZZZ|2025-06-01T12:00:00Z|did:key:z6M", // bad hash in v1
	}
	for _, payload := range bad {
		if _, err := Parse(payload); err == nil {
			t.Errorf("Parse(%q) should fail", payload)
		}
	}
}

func TestConfirmTokenFlow(t *testing.T) {
	signer := NewTokenSigner([]byte("test-secret"))
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	token := signer.ConfirmToken(`{"type":"fact"}`, 26, now)
	if token == "" {
		t.Fatal("empty token")
	}

	if !signer.VerifyConfirm(token, `{"type":"fact"}`, 26, now) {
		t.Error("fresh token should verify")
	}
	if !signer.VerifyConfirm(token, `{"type":"fact"}`, 26, now.Add(45*time.Minute)) {
		t.Error("token should survive into the next hour bucket")
	}
	if signer.VerifyConfirm(token, `{"type":"fact"}`, 26, now.Add(3*time.Hour)) {
		t.Error("token should expire after the grace bucket")
	}
	if signer.VerifyConfirm(token, `{"type":"fact"}`, 27, now) {
		t.Error("count drift should invalidate the token")
	}
	if signer.VerifyConfirm(token, `{"type":"rule"}`, 26, now) {
		t.Error("selector drift should invalidate the token")
	}

	other := NewTokenSigner([]byte("other-secret"))
	if other.VerifyConfirm(token, `{"type":"fact"}`, 26, now) {
		t.Error("token from a different secret should not verify")
	}
}
