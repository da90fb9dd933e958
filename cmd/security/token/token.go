package token

import (
	"encoding/hex"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// KeyEnv is the env var name for the fingerprint key.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "ESTATE_FINGERPRINT_KEY"

	// fingerprintBytes is the number of digest bytes kept (16 hex chars).
	fingerprintBytes = 8
)

// KeyFromEnv returns the configured key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort. BLAKE2b keys are capped at 64 bytes -> ErrKeyTooLong.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	if len(b) > blake2b.Size {
		return nil, ErrKeyTooLong
	}
	return b, nil
}

// Keyed reports whether the env key is present (non-empty after trim).
func Keyed() bool {
	return strings.TrimSpace(os.Getenv(KeyEnv)) != ""
}

// Fingerprint returns a short hex fingerprint of s suitable for logs.
// The empty string maps to the empty string.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	key := []byte(strings.TrimSpace(os.Getenv(KeyEnv)))
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	return FingerprintWithKey(s, key)
}

// FingerprintWithKey is Fingerprint with an explicit key (nil for unkeyed).
func FingerprintWithKey(s string, key []byte) string {
	h, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with an oversized key; fall back to the unkeyed digest.
		sum := blake2b.Sum256([]byte(s))
		return hex.EncodeToString(sum[:fingerprintBytes])
	}
	_, _ = h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil)[:fingerprintBytes])
}
