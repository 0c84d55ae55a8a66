package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(slices.Contains([]string{"sqlite", "postgres", "pgx"}, c.Ledger.Driver),
		"ledger.driver must be sqlite or postgres, got %q", c.Ledger.Driver)
	check(c.Ledger.Driver != "postgres" && c.Ledger.Driver != "pgx" || c.Ledger.DSN != "",
		"ledger.dsn is required for postgres")

	check(c.Executor.Isolation == "thread" || c.Executor.Isolation == "process",
		"executor.isolation must be thread or process, got %q", c.Executor.Isolation)
	check(c.Executor.Timeout > 0, "executor.timeout must be positive")
	check(c.Executor.MaxAttempts >= 1, "executor.max_attempts must be at least 1")
	check(c.Executor.MemoryLimitMB >= 0, "executor.memory_limit_mb cannot be negative")
	check(c.Executor.RetryBackoff >= 0, "executor.retry_backoff cannot be negative")
	check(isIdentifier(c.Executor.Entrypoint), "executor.entrypoint %q is not a valid function name", c.Executor.Entrypoint)

	check(c.Dedup.Timeout >= 0, "dedup.timeout cannot be negative")
	check(c.Dedup.ReservationTTL > 0, "dedup.reservation_ttl must be positive")

	check(c.Scoring.Folds >= 2, "scoring.folds must be at least 2")
	check(c.Scoring.MaxDepth >= 0, "scoring.max_depth cannot be negative")
	check(c.Scoring.MinSamplesLeaf >= 1, "scoring.min_samples_leaf must be at least 1")
	check(c.Dataset.SampleSize >= 0, "dataset.sample_size cannot be negative")

	check(c.Server.RateLimit >= 0, "server.rate_limit cannot be negative")
	check(c.Server.RateBurst >= 0, "server.rate_burst cannot be negative")

	check(slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)),
		"log.level must be debug, info, warn or error, got %q", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json",
		"log.format must be text or json, got %q", c.Log.Format)
	check(slices.Contains([]string{"auto", "text", "markdown", "json"}, c.Output),
		"output must be auto, text, markdown or json, got %q", c.Output)

	return errors.Join(errs...)
}

// ValidateServer checks the settings only the session API needs.
func (c *Config) ValidateServer() error {
	if len(c.Server.SessionSecret) < 16 {
		return fmt.Errorf("server.session_secret must be at least 16 bytes\nHint: set FEATUREFACTORY_SERVER__SESSION_SECRET")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.UserHeader == "" && len(c.Server.Tokens) == 0 {
		return fmt.Errorf("contributors cannot be authenticated\nHint: set server.tokens or server.user_header")
	}
	for user, token := range c.Server.Tokens {
		if len(token) < 16 {
			return fmt.Errorf("server.tokens.%s must be at least 16 bytes", user)
		}
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
