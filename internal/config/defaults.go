package config

import "time"

// Default configuration values.
const (
	DefaultLedgerDriver   = "sqlite"
	DefaultLedgerDSN      = "featurefactory.db"
	DefaultDataRoot       = "."
	DefaultIsolation      = "process"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultMemoryLimitMB  = 512
	DefaultEntrypoint     = "transform"
	DefaultDedupTimeout   = 30 * time.Second
	DefaultReservationTTL = 5 * time.Minute
	DefaultFolds          = 5
	DefaultSeed           = 42
	DefaultMinSamplesLeaf = 1
	DefaultAddr           = ":8080"
	DefaultRateLimit      = 1.0
	DefaultRateBurst      = 5
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultOutput         = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// Defaults returns the default configuration keyed the way it is loaded,
// for use as the lowest-precedence layer.
func Defaults() map[string]any {
	return map[string]any{
		"ledger.driver":            DefaultLedgerDriver,
		"ledger.dsn":               DefaultLedgerDSN,
		"data_root":                DefaultDataRoot,
		"executor.isolation":       DefaultIsolation,
		"executor.timeout":         DefaultTimeout.String(),
		"executor.max_attempts":    DefaultMaxAttempts,
		"executor.max_steps":       0,
		"executor.memory_limit_mb": DefaultMemoryLimitMB,
		"executor.retry_backoff":   "0s",
		"executor.entrypoint":      DefaultEntrypoint,
		"dedup.timeout":            DefaultDedupTimeout.String(),
		"dedup.reservation_ttl":    DefaultReservationTTL.String(),
		"scoring.folds":            DefaultFolds,
		"scoring.seed":             DefaultSeed,
		"scoring.max_depth":        0,
		"scoring.min_samples_leaf": DefaultMinSamplesLeaf,
		"dataset.sample_size":      0,
		"server.addr":              DefaultAddr,
		"server.session_secret":    "",
		"server.secure_cookies":    false,
		"server.user_header":       "",
		"server.rate_limit":        DefaultRateLimit,
		"server.rate_burst":        DefaultRateBurst,
		"admins":                   []string{},
		"log.level":                DefaultLogLevel,
		"log.format":               DefaultLogFormat,
		"output":                   DefaultOutput,
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Ledger:   LedgerConfig{Driver: DefaultLedgerDriver, DSN: DefaultLedgerDSN},
		DataRoot: DefaultDataRoot,
		Executor: ExecutorConfig{
			Isolation:     DefaultIsolation,
			Timeout:       DefaultTimeout,
			MaxAttempts:   DefaultMaxAttempts,
			MemoryLimitMB: DefaultMemoryLimitMB,
			Entrypoint:    DefaultEntrypoint,
		},
		Dedup:   DedupConfig{Timeout: DefaultDedupTimeout, ReservationTTL: DefaultReservationTTL},
		Scoring: ScoringConfig{Folds: DefaultFolds, Seed: DefaultSeed, MinSamplesLeaf: DefaultMinSamplesLeaf},
		Server:  ServerConfig{Addr: DefaultAddr, RateLimit: DefaultRateLimit, RateBurst: DefaultRateBurst},
		Log:     LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Output:  DefaultOutput,
	}
}
