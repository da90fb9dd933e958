package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string

	// MetricsAddr, when set, serves /metrics on a dedicated listener instead
	// of the API mux.
	MetricsAddr string

	LogLevel  string
	LogFormat string // json or pretty
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Browser clients poll /session/validate from another origin.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, ESTATE_FINGERPRINT_KEY MUST be set so session ids in logs and
	// the audit table are keyed hashes.
	RequireFingerprintKey bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:    EnvString("ESTATE_HTTP_ADDR", "0.0.0.0:8080"),
		MetricsAddr: EnvString("ESTATE_METRICS_ADDR", ""),

		LogLevel:  EnvString("ESTATE_LOG_LEVEL", "info"),
		LogFormat: EnvString("ESTATE_LOG_FORMAT", "json"),
		LogColor:  EnvBool("ESTATE_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("ESTATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("ESTATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("ESTATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("ESTATE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("ESTATE_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("ESTATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("ESTATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("ESTATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("ESTATE_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("ESTATE_DB_SCHEMA", "public"),

		ReadinessRequireDB: EnvBool("ESTATE_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvList("ESTATE_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("ESTATE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("ESTATE_CORS_MAX_AGE_SECONDS", 600),

		RequireFingerprintKey: EnvBool("ESTATE_REQUIRE_FINGERPRINT_KEY", false),
	}
}
