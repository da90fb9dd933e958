// Package token derives log-safe fingerprints of session identifiers.
//
// A session identifier is a bearer-equivalent secret: whoever holds the
// authoritative one passes validation. Logs and audit rows therefore carry
// only a short BLAKE2b fingerprint.
//
// Environment:
// - ESTATE_FINGERPRINT_KEY: when set, fingerprints are keyed BLAKE2b-256 MACs.
// Policy:
//   - If RequireFingerprintKey=true, callers MUST enforce a minimum key size (>= 32 bytes).
package token
