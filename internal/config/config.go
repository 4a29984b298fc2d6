// Package config provides centralized configuration for gulprep.
// Values come from environment variables with defaults and are validated
// once on startup so a bad setting fails the process before any input is read.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Security SecurityConfig
	Database DatabaseConfig
	Archive  ArchiveConfig
	Prep     PrepConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings used by `gulprep serve`.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 because a preparation run answers synchronously.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig holds HTTP API access settings.
type SecurityConfig struct {
	// APIKeys are accepted in the X-API-Key header of /api requests.
	// Empty disables key checks.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// RequireAPIKey reports whether /api requests must carry a key.
func (c SecurityConfig) RequireAPIKey() bool {
	return len(c.APIKeys) > 0
}

// DatabaseConfig holds the optional run archive connection settings.
// An empty URL disables archiving.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// ArchiveConfig holds retention settings for archived runs.
type ArchiveConfig struct {
	// RetentionDays is how long archived runs are kept; 0 keeps them forever (default: 90)
	RetentionDays int `env:"ARCHIVE_RETENTION_DAYS" default:"90"`

	// BatchSize caps runs deleted per statement (default: 500)
	BatchSize int `env:"ARCHIVE_BATCH_SIZE" default:"500"`

	// CheckInterval is how often the retention job runs (default: 24h)
	CheckInterval time.Duration `env:"ARCHIVE_CHECK_INTERVAL" default:"24h"`
}

// Enabled reports whether runs should be archived to PostgreSQL.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// PrepConfig holds GUL input preparation settings.
type PrepConfig struct {
	// ProfilePath is a JSON or YAML exposure profile; empty uses the built-in OED profile.
	ProfilePath string `env:"PREP_PROFILE_PATH"`

	// TargetDir is where items/coverages files are written (default: ./input)
	TargetDir string `env:"PREP_TARGET_DIR" default:"input"`

	// ChunkSize is the number of rows flushed per write chunk (default: 100000)
	ChunkSize int `env:"PREP_CHUNK_SIZE" default:"100000"`

	// MaxWorkers caps concurrent artifact writers; 0 means runtime.NumCPU().
	MaxWorkers int `env:"PREP_MAX_WORKERS" default:"0"`

	// WriteInputsTable also writes gul_inputs.csv for debugging (default: false)
	WriteInputsTable bool `env:"PREP_WRITE_INPUTS_TABLE" default:"false"`

	// MaxConcurrentRuns bounds parallel runs accepted by the HTTP API (default: 2)
	MaxConcurrentRuns int `env:"PREP_MAX_CONCURRENT_RUNS" default:"2"`

	// RunWaitTime is how long an API request waits for a run slot (default: 30s)
	RunWaitTime time.Duration `env:"PREP_RUN_WAIT_TIME" default:"30s"`

	// InputRoot confines exposure, keys and profile paths of API requests (default: .)
	InputRoot string `env:"PREP_INPUT_ROOT" default:"."`

	// OutputRoot confines target directories of API requests (default: .)
	OutputRoot string `env:"PREP_OUTPUT_ROOT" default:"."`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
