// Package config loads FeatureFactory configuration for the CLI.
//
// Precedence (highest to lowest): flags > environment > config file > defaults.
// Environment variables use the FEATUREFACTORY_ prefix with "__" separating
// sections, e.g. FEATUREFACTORY_EXECUTOR__MAX_ATTEMPTS=5.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	intconfig "github.com/HDI-Project/FeatureFactory/internal/config"
)

// Config is an alias for the shared configuration.
type Config = intconfig.Config

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "FEATUREFACTORY_"

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// flagKeys maps persistent flag names to configuration keys. Flags not listed
// here are command options, not configuration.
var flagKeys = map[string]string{
	"ledger-driver": "ledger.driver",
	"ledger-dsn":    "ledger.dsn",
	"data-root":     "data_root",
	"isolation":     "executor.isolation",
	"timeout":       "executor.timeout",
	"max-attempts":  "executor.max_attempts",
	"folds":         "scoring.folds",
	"seed":          "scoring.seed",
	"sample-size":   "dataset.sample_size",
	"dedup-timeout": "dedup.timeout",
	"addr":          "server.addr",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"output":        "output",
}

var configFileUsed string

// Load reads configuration from defaults, the config file, the environment
// and explicitly set flags, then validates it. Relative paths in the file
// resolve against the file's directory; relative paths given as flags
// resolve against the working directory.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	configFileUsed = ""

	// 1. Defaults
	if err := k.Load(confmap.Provider(intconfig.Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cwd, _ := os.Getwd()
	if cwd == "" {
		cwd = "."
	}
	root := cwd
	if cfgFile == "" {
		if dir := intconfig.FindRoot(cwd); dir != "" {
			cfgFile = intconfig.FindConfigFile(dir)
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		configFileUsed = cfgFile
		if abs, err := filepath.Abs(cfgFile); err == nil {
			root = filepath.Dir(abs)
		}
	}

	// 3. Environment: FEATUREFACTORY_SCORING__FOLDS -> scoring.folds
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	flagPaths := map[string]string{}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			if key == "data_root" || key == "ledger.dsn" {
				flagPaths[key] = f.Value.String()
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Decode
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Resolve paths
	if _, ok := flagPaths["data_root"]; ok {
		cfg.DataRoot = resolvePathRelativeTo(cfg.DataRoot, cwd)
	} else {
		cfg.DataRoot = resolvePathRelativeTo(cfg.DataRoot, root)
	}
	if cfg.Ledger.Driver == "sqlite" && cfg.Ledger.DSN != ":memory:" {
		base := root
		if _, ok := flagPaths["ledger.dsn"]; ok {
			base = cwd
		}
		cfg.Ledger.DSN = resolvePathRelativeTo(cfg.Ledger.DSN, base)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// GetConfigFileUsed returns the path to the config file loaded last, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// NewLogger builds the slog logger described by cfg, writing to w.
func NewLogger(cfg intconfig.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// configKey is used to store the loaded config in context.
type configKey struct{}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context, or nil.
func GetConfig(ctx context.Context) *Config {
	cfg, _ := ctx.Value(configKey{}).(*Config)
	return cfg
}
