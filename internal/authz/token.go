package authz

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Token format: base64url(claimsJSON) "." hex(hmac-sha256(secret, encoded)).

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
)

const secretLen = 32

// EncodeToken signs claims with the shared secret.
func EncodeToken(claims *Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty token secret")
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + signPayload(encoded, secret), nil
}

// DecodeToken verifies a token and returns its claims. Signature checks are
// constant time; expiry is checked after the signature.
func DecodeToken(token string, secret []byte, now time.Time) (*Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, ErrTokenMalformed
	}
	want := signPayload(encoded, secret)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return nil, ErrTokenSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenMalformed
	}
	if !claims.ExpiresAt.IsZero() && now.After(claims.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func signPayload(encoded string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// LoadOrCreateSecret reads the signing secret at path, generating one with
// 0600 permissions on first use.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) < secretLen {
			return nil, fmt.Errorf("token secret at %s is too short", path)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}
