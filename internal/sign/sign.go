// Package sign builds and parses signable memory payloads and issues the
// HMAC confirm tokens that gate large batch forgets.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Payload is the canonical signing input for a memory signature.
type Payload struct {
	Version     int
	MemoryID    string
	ContentHash string
	CreatedAt   string
	SignerDID   string
}

const v2Prefix = "v2"

var hexHashRe = regexp.MustCompile(`^[0-9a-f]+$`)

func checkField(name, value string) error {
	if value == "" {
		return fmt.Errorf("payload field %s is empty", name)
	}
	if strings.Contains(value, "|") {
		return fmt.Errorf("payload field %s contains a separator", name)
	}
	return nil
}

func checkHash(contentHash string) error {
	if err := checkField("contentHash", contentHash); err != nil {
		return err
	}
	if !hexHashRe.MatchString(contentHash) {
		return fmt.Errorf("contentHash must be lowercase hex")
	}
	return nil
}

// BuildV1 produces the legacy "contentHash|createdAt|signerDid" form.
func BuildV1(contentHash, createdAt, signerDID string) (string, error) {
	if err := checkHash(contentHash); err != nil {
		return "", err
	}
	if err := checkField("createdAt", createdAt); err != nil {
		return "", err
	}
	if err := checkField("signerDid", signerDID); err != nil {
		return "", err
	}
	return strings.Join([]string{contentHash, createdAt, signerDID}, "|"), nil
}

// BuildV2 produces "v2|memoryId|contentHash|createdAt|signerDid".
func BuildV2(memoryID, contentHash, createdAt, signerDID string) (string, error) {
	if err := checkField("memoryId", memoryID); err != nil {
		return "", err
	}
	if err := checkHash(contentHash); err != nil {
		return "", err
	}
	if err := checkField("createdAt", createdAt); err != nil {
		return "", err
	}
	if err := checkField("signerDid", signerDID); err != nil {
		return "", err
	}
	return strings.Join([]string{v2Prefix, memoryID, contentHash, createdAt, signerDID}, "|"), nil
}

// Parse splits a signable payload back into its fields. The v2 prefix must
// parse exactly; anything else is treated as v1 and must have three fields.
func Parse(payload string) (*Payload, error) {
	parts := strings.Split(payload, "|")
	if parts[0] == v2Prefix {
		if len(parts) != 5 {
			return nil, fmt.Errorf("v2 payload must have 5 fields, got %d", len(parts))
		}
		p := &Payload{
			Version:     2,
			MemoryID:    parts[1],
			ContentHash: parts[2],
			CreatedAt:   parts[3],
			SignerDID:   parts[4],
		}
		if err := checkHash(p.ContentHash); err != nil {
			return nil, err
		}
		return p, nil
	}
	if len(parts) != 3 {
		return nil, fmt.Errorf("v1 payload must have 3 fields, got %d", len(parts))
	}
	p := &Payload{
		Version:     1,
		ContentHash: parts[0],
		CreatedAt:   parts[1],
		SignerDID:   parts[2],
	}
	if err := checkHash(p.ContentHash); err != nil {
		return nil, err
	}
	return p, nil
}

// TokenSigner issues and verifies batch-forget confirm tokens. Tokens are
// HMAC-SHA256 over (selector, count, UTC hour bucket), so a preview token
// stays valid for at least an hour and never survives selector drift.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner wraps the daemon secret used for confirm tokens.
func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{secret: secret}
}

func (s *TokenSigner) tokenAt(selector string, count int, bucket time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\x00%d\x00%d", selector, count, bucket.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}

// ConfirmToken returns the token for a preview taken at now.
func (s *TokenSigner) ConfirmToken(selector string, count int, now time.Time) string {
	return s.tokenAt(selector, count, now.UTC().Truncate(time.Hour))
}

// VerifyConfirm accepts tokens from the current or previous hour bucket so
// a preview issued just before the hour boundary still executes.
func (s *TokenSigner) VerifyConfirm(token, selector string, count int, now time.Time) bool {
	bucket := now.UTC().Truncate(time.Hour)
	for _, b := range []time.Time{bucket, bucket.Add(-time.Hour)} {
		if hmac.Equal([]byte(token), []byte(s.tokenAt(selector, count, b))) {
			return true
		}
	}
	return false
}
