package app

import (
	"errors"
	"fmt"

	"estatedesk/cmd/security/token"
)

// minFingerprintKeyBytes is the floor for the BLAKE2b fingerprint key.
const minFingerprintKeyBytes = 32

// ValidateSecurityConfig enforces the fingerprint key policy at startup.
//
// A configured key must always be usable. With RequireFingerprintKey the key
// must also be present.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireFingerprintKey && !token.Keyed() {
		return nil
	}

	if _, err := token.KeyFromEnv(minFingerprintKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrKeyMissing):
			return fmt.Errorf("security policy: ESTATE_REQUIRE_FINGERPRINT_KEY=true but %s is missing", token.KeyEnv)
		case errors.Is(err, token.ErrKeyTooShort):
			return fmt.Errorf("security policy: %s is too short (min %d bytes)", token.KeyEnv, minFingerprintKeyBytes)
		case errors.Is(err, token.ErrKeyTooLong):
			return fmt.Errorf("security policy: %s is too long (max 64 bytes)", token.KeyEnv)
		default:
			return err
		}
	}
	return nil
}
