package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/config"
	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	intconfig "github.com/HDI-Project/FeatureFactory/internal/config"
	"github.com/HDI-Project/FeatureFactory/internal/dataset"
	"github.com/HDI-Project/FeatureFactory/internal/executor"
	"github.com/HDI-Project/FeatureFactory/internal/fingerprint"
	"github.com/HDI-Project/FeatureFactory/internal/scoring"
	"github.com/HDI-Project/FeatureFactory/internal/session"
	"github.com/HDI-Project/FeatureFactory/internal/state"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Ledger   state.Ledger
	Renderer *output.Renderer

	closers []io.Closer
}

// NewCommandContext opens the Feature Ledger and creates the renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutLedger(cmd)

	ledger, err := openLedger(cmd.Context(), cc.Cfg, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.Ledger = ledger
	cc.closers = append(cc.closers, ledger)

	return cc, cc.close, nil
}

// NewCommandContextWithoutLedger creates a CommandContext without a ledger.
// Useful for commands that don't need database access.
func NewCommandContextWithoutLedger(cmd *cobra.Command) *CommandContext {
	cfg := getConfig(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}
}

func (cc *CommandContext) close() {
	for i := len(cc.closers) - 1; i >= 0; i-- {
		if err := cc.closers[i].Close(); err != nil {
			cc.Logger.Debug("close failed", "error", err)
		}
	}
}

// Stack are the configured collaborators of a Coordinator.
type Stack struct {
	// Observer receives submission metrics; nil means none.
	Observer session.Observer
	// OnAttempt is called after every execution attempt; nil means none.
	OnAttempt func(attempt int, elapsed time.Duration, err error)
}

// Coordinator builds a session coordinator over the ledger using the
// configured dataset provider, executor, scorer and fingerprint gate.
func (cc *CommandContext) Coordinator(ctx context.Context, stack Stack) (*session.Coordinator, error) {
	cfg := cc.Cfg

	duck, err := dataset.NewDuckDBProvider(ctx, dataset.DuckDBOptions{
		DataRoot: cfg.DataRoot,
		Seed:     int64(cfg.Scoring.Seed),
		Logger:   cc.Logger,
	})
	if err != nil {
		return nil, err
	}
	cc.closers = append(cc.closers, duck)

	runner, err := executor.NewRunner(cfg.Executor.Isolation, executor.Limits{
		Timeout:       cfg.Executor.Timeout,
		MaxSteps:      cfg.Executor.MaxSteps,
		MemoryLimitMB: cfg.Executor.MemoryLimitMB,
		Entrypoint:    cfg.Executor.Entrypoint,
	}, cc.Logger)
	if err != nil {
		return nil, err
	}
	exec := executor.New(runner, executor.Options{
		MaxAttempts: cfg.Executor.MaxAttempts,
		Backoff:     cfg.Executor.RetryBackoff,
		Logger:      cc.Logger,
		OnAttempt:   stack.OnAttempt,
	})

	return session.New(session.Config{
		Ledger:   cc.Ledger,
		Datasets: dataset.NewCache(duck),
		Executor: exec,
		Scorer: scoring.New(scoring.Config{
			Folds:          cfg.Scoring.Folds,
			Seed:           cfg.Scoring.Seed,
			MaxDepth:       cfg.Scoring.MaxDepth,
			MinSamplesLeaf: cfg.Scoring.MinSamplesLeaf,
		}),
		Gate: fingerprint.NewGate(cc.Ledger, fingerprint.GateOptions{
			TTL:    cfg.Dedup.ReservationTTL,
			Claims: cc.Ledger,
			Logger: cc.Logger,
		}),
		DedupTimeout: cfg.Dedup.Timeout,
		SampleSize:   cfg.Dataset.SampleSize,
		Admins:       cfg.Admins,
		Observer:     stack.Observer,
		Logger:       cc.Logger,
	})
}

// Session opens a contributor session using the --user and --problem flags.
func (cc *CommandContext) Session(cmd *cobra.Command, stack Stack) (*session.Session, error) {
	user, problem, err := identity(cmd)
	if err != nil {
		return nil, err
	}
	coord, err := cc.Coordinator(cmd.Context(), stack)
	if err != nil {
		return nil, err
	}
	return coord.Open(cmd.Context(), user, problem)
}

// addIdentityFlags registers the flags naming the contributor and problem.
func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("user", "u", "", "Contributor name (default: $USER)")
	cmd.Flags().StringP("problem", "p", "", "Problem name")
}

func identity(cmd *cobra.Command) (user, problem string, err error) {
	user, _ = cmd.Flags().GetString("user")
	problem, _ = cmd.Flags().GetString("problem")
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		return "", "", usageErrorf("a contributor name is required (--user)")
	}
	if problem == "" {
		return "", "", usageErrorf("a problem is required (--problem)")
	}
	return user, problem, nil
}

func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Ledger, error) {
	if cfg.Ledger.Driver == "sqlite" && cfg.Ledger.DSN != ":memory:" {
		if dir := filepath.Dir(cfg.Ledger.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create ledger directory: %w", err)
			}
		}
	}
	return state.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN, logger)
}

// readCode reads feature code from a file, or from stdin when path is "-".
func readCode(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // path is a user-supplied feature file
	}
	if err != nil {
		return "", fmt.Errorf("failed to read feature code: %w", err)
	}
	return string(data), nil
}

// getConfig returns the configuration stored by the root command, or the
// defaults when a command runs standalone.
func getConfig(ctx context.Context) *config.Config {
	if ctx != nil {
		if cfg := config.GetConfig(ctx); cfg != nil {
			return cfg
		}
	}
	return intconfig.Default()
}

// problemByName looks a problem up for commands that print it.
func problemByName(ctx context.Context, ledger core.Ledger, name string) (*core.Problem, error) {
	p, err := ledger.GetProblem(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("problem %q: %w", name, err)
	}
	return p, nil
}
