package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Options configures an Executor.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean 1.
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	Logger  *slog.Logger
	// OnAttempt, if set, is called after every attempt with its 1-based
	// number and outcome.
	OnAttempt func(attempt int, elapsed time.Duration, err error)
}

// Result is a validated feature column.
type Result struct {
	Column   core.Column
	Attempts int
	Elapsed  time.Duration
}

// Executor runs feature code with bounded retries.
// Only Timeout and ResourceExhausted failures are retried; a UserError is
// deterministic and returned after the first attempt.
type Executor struct {
	runner Runner
	opts   Options
	logger *slog.Logger
}

// New creates an Executor over runner.
func New(runner Runner, opts Options) *Executor {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Executor{runner: runner, opts: opts, logger: discardLogger(opts.Logger)}
}

// NewRunner builds the runner for an isolation mode. The empty mode is
// process isolation.
func NewRunner(isolation string, limits Limits, logger *slog.Logger) (Runner, error) {
	switch isolation {
	case IsolationThread:
		return NewThreadRunner(limits, logger), nil
	case "", IsolationProcess:
		return NewProcessRunner(limits, logger)
	default:
		return nil, fmt.Errorf("unknown isolation mode %q (expected %s or %s)", isolation, IsolationThread, IsolationProcess)
	}
}

// MaxAttempts returns the configured attempt bound.
func (e *Executor) MaxAttempts() int {
	return e.opts.MaxAttempts
}

// Execute runs code against ds and returns the validated column.
// Caller cancellation stops retries immediately and is returned unclassified.
func (e *Executor) Execute(ctx context.Context, code string, ds *core.Dataset) (*Result, error) {
	if ds == nil {
		return nil, fmt.Errorf("execute: dataset is nil")
	}
	start := time.Now()

	var lastErr error
	attempt := 0
	for attempt < e.opts.MaxAttempts {
		attempt++
		attemptStart := time.Now()
		col, err := e.runner.Run(ctx, code, ds)
		if e.opts.OnAttempt != nil {
			e.opts.OnAttempt(attempt, time.Since(attemptStart), err)
		}
		if err == nil {
			return &Result{Column: col, Attempts: attempt, Elapsed: time.Since(start)}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}
		if !core.KindOf(err).Transient() {
			break
		}
		if attempt >= e.opts.MaxAttempts {
			break
		}

		e.logger.Warn("retrying feature execution",
			slog.String("problem", ds.Problem),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if e.opts.Backoff > 0 {
			timer := time.NewTimer(e.opts.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			case <-timer.C:
			}
		}
	}

	var f *core.Failure
	if errors.As(lastErr, &f) {
		f.Attempts = attempt
	}
	return nil, lastErr
}
