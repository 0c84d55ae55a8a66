// Package executor runs untrusted feature code against a dataset snapshot.
//
// A Runner performs one attempt under a timeout and resource limits; the
// Executor retries transient failures and validates the returned column.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ffstarlark "github.com/HDI-Project/FeatureFactory/internal/starlark"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Isolation modes.
const (
	IsolationThread  = "thread"
	IsolationProcess = "process"
)

// Limits bound a single attempt.
type Limits struct {
	// Timeout is the wall-clock limit of one attempt. Zero means none.
	Timeout time.Duration
	// MaxSteps bounds the Starlark computation. Zero means unbounded.
	MaxSteps uint64
	// MemoryLimitMB bounds the worker heap in process isolation. Zero means unbounded.
	MemoryLimitMB int
	// Entrypoint is the function feature code must define.
	Entrypoint string
}

// Runner executes feature code once.
// Failures are *core.Failure of kind Timeout, UserError or ResourceExhausted;
// any other error is an infrastructure error or the caller's cancellation.
type Runner interface {
	Run(ctx context.Context, code string, ds *core.Dataset) (core.Column, error)
}

// classify maps an error raised by feature code to a failure.
func classify(err error, stepsExhausted bool) error {
	if stepsExhausted {
		return core.Failf(core.KindResourceExhausted, "feature code exceeded its execution step budget").Wrap(err)
	}
	var f *core.Failure
	if errors.As(err, &f) {
		return f
	}
	var evalErr *ffstarlark.EvalError
	if errors.As(err, &evalErr) {
		return core.Failf(core.KindUserError, "feature code raised an error").WithDetail(evalErr.Error())
	}
	return core.Failf(core.KindUserError, "feature code failed").WithDetail(err.Error())
}

func timeoutFailure(d time.Duration) error {
	return core.Failf(core.KindTimeout, "attempt exceeded %s", d)
}

func abortError(ctx context.Context) error {
	return fmt.Errorf("execution aborted: %w", context.Cause(ctx))
}

func discardLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
