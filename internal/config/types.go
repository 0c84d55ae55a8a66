// Package config provides the configuration types shared by the CLI and the
// server, with their defaults and validation. It does not read files or the
// environment; internal/cli/config does.
package config

import "time"

// Config holds all FeatureFactory configuration.
type Config struct {
	Ledger   LedgerConfig   `koanf:"ledger"`
	DataRoot string         `koanf:"data_root"`
	Executor ExecutorConfig `koanf:"executor"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Scoring  ScoringConfig  `koanf:"scoring"`
	Dataset  DatasetConfig  `koanf:"dataset"`
	Server   ServerConfig   `koanf:"server"`
	Admins   []string       `koanf:"admins"`
	Log      LogConfig      `koanf:"log"`
	Output   string         `koanf:"output"`
}

// LedgerConfig selects the Feature Ledger database.
type LedgerConfig struct {
	Driver string `koanf:"driver"` // sqlite or postgres
	DSN    string `koanf:"dsn"`    // file path for sqlite, connection string for postgres
}

// ExecutorConfig bounds the execution of feature code.
type ExecutorConfig struct {
	Isolation     string        `koanf:"isolation"` // process (default) or thread; thread cannot bound memory
	Timeout       time.Duration `koanf:"timeout"`
	MaxAttempts   int           `koanf:"max_attempts"`
	MaxSteps      uint64        `koanf:"max_steps"`
	MemoryLimitMB int           `koanf:"memory_limit_mb"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	Entrypoint    string        `koanf:"entrypoint"`
}

// DedupConfig controls the fingerprint reservation gate.
type DedupConfig struct {
	// Timeout is how long a submission waits on a fingerprint held by
	// another session before reporting Busy.
	Timeout time.Duration `koanf:"timeout"`
	// ReservationTTL is how long an unreleased reservation stays live.
	ReservationTTL time.Duration `koanf:"reservation_ttl"`
}

// ScoringConfig controls cross-validation.
type ScoringConfig struct {
	Folds          int    `koanf:"folds"`
	Seed           uint64 `koanf:"seed"`
	MaxDepth       int    `koanf:"max_depth"`
	MinSamplesLeaf int    `koanf:"min_samples_leaf"`
}

// DatasetConfig controls dataset loading.
type DatasetConfig struct {
	// SampleSize limits the rows features are scored on; 0 means all.
	SampleSize int `koanf:"sample_size"`
}

// ServerConfig holds configuration for the session API.
type ServerConfig struct {
	Addr          string  `koanf:"addr"`
	SessionSecret string  `koanf:"session_secret"`
	SecureCookies bool    `koanf:"secure_cookies"` // set behind HTTPS
	RateLimit     float64 `koanf:"rate_limit"`     // submissions per second per contributor
	RateBurst     int     `koanf:"rate_burst"`
	// UserHeader is set by a trusted authenticating proxy to the
	// contributor's name, e.g. X-Forwarded-User.
	UserHeader string `koanf:"user_header"`
	// Tokens maps contributor names to login tokens.
	Tokens map[string]string `koanf:"tokens"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}
