package authn

import (
	"encoding/hex"
	"os"
	"strings"
	"time"
)

// Config defines how caller tokens issued by the external identity provider are verified.
//
// At least one verifier must be configured: an HS256 shared secret, a PASETO
// v4.public key, or both. When both are set a token is accepted by whichever
// verifier recognizes it.
type Config struct {
	// JWTSecret is the HS256 shared secret. Empty disables the JWT verifier.
	JWTSecret string

	// JWTIssuer and JWTAudience are enforced when non-empty.
	JWTIssuer   string
	JWTAudience string

	// PasetoPublicKeyHex is the hex-encoded Ed25519 public key for v4.public tokens.
	PasetoPublicKeyHex string

	// PasetoIssuer is enforced when non-empty.
	PasetoIssuer string

	// CookieName is read when no Authorization header is present. Empty disables cookies.
	CookieName string

	// ClockSkew is the leeway applied to exp/nbf/iat checks.
	ClockSkew time.Duration
}

const minJWTSecretBytes = 32

// DefaultConfig returns the verification defaults. No verifier is enabled.
func DefaultConfig() Config {
	return Config{ClockSkew: 30 * time.Second}
}

// LoadConfigFromEnv loads authn configuration from environment variables.
//
// Keys:
//   - ESTATE_AUTH_JWT_SECRET, ESTATE_AUTH_JWT_ISSUER, ESTATE_AUTH_JWT_AUDIENCE
//   - ESTATE_AUTH_PASETO_PUBLIC_KEY_HEX, ESTATE_AUTH_PASETO_ISSUER
//   - ESTATE_AUTH_COOKIE_NAME
//   - ESTATE_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.JWTSecret = os.Getenv("ESTATE_AUTH_JWT_SECRET")
	cfg.JWTIssuer = strings.TrimSpace(os.Getenv("ESTATE_AUTH_JWT_ISSUER"))
	cfg.JWTAudience = strings.TrimSpace(os.Getenv("ESTATE_AUTH_JWT_AUDIENCE"))
	cfg.PasetoPublicKeyHex = strings.TrimSpace(os.Getenv("ESTATE_AUTH_PASETO_PUBLIC_KEY_HEX"))
	cfg.PasetoIssuer = strings.TrimSpace(os.Getenv("ESTATE_AUTH_PASETO_ISSUER"))
	cfg.CookieName = strings.TrimSpace(os.Getenv("ESTATE_AUTH_COOKIE_NAME"))

	if v := os.Getenv("ESTATE_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports ErrConfig when no verifier is usable or a key is malformed.
func (c Config) Validate() error {
	if c.JWTSecret == "" && c.PasetoPublicKeyHex == "" {
		return ErrConfig
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < minJWTSecretBytes {
		return ErrConfig
	}
	if c.PasetoPublicKeyHex != "" {
		if _, err := hex.DecodeString(c.PasetoPublicKeyHex); err != nil {
			return ErrConfig
		}
	}
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		return ErrConfig
	}
	return nil
}
