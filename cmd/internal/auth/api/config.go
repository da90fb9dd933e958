package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls session API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// ValidateMax polls per ValidateWindow are allowed per account.
	ValidateMax    int
	ValidateWindow time.Duration
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:     false,
		MaxBodyBytes:   16 << 10, // 16 KiB
		ValidateMax:    30,
		ValidateWindow: time.Minute,
	}
}

// LoadConfigFromEnv loads session API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:     envBool("ESTATE_TRUST_PROXY", def.TrustProxy),
		MaxBodyBytes:   envInt64("ESTATE_SESSION_MAX_BODY_BYTES", def.MaxBodyBytes),
		ValidateMax:    envInt("ESTATE_SESSION_VALIDATE_MAX", def.ValidateMax),
		ValidateWindow: envDuration("ESTATE_SESSION_VALIDATE_WINDOW", def.ValidateWindow),
	}

	// A body must at least fit a maximal session id plus the envelope.
	if cfg.MaxBodyBytes < 1<<10 {
		cfg.MaxBodyBytes = 1 << 10
	}
	if cfg.MaxBodyBytes > 1<<20 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
