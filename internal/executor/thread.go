package executor

import (
	"context"
	"fmt"
	"log/slog"

	ffstarlark "github.com/HDI-Project/FeatureFactory/internal/starlark"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// ThreadRunner runs feature code on a dedicated Starlark thread in its own
// goroutine. On timeout or abort the thread is cancelled and the goroutine is
// awaited, so no computation outlives its attempt. The heap is shared with the
// host process, so Limits.MemoryLimitMB is not enforced.
type ThreadRunner struct {
	Limits Limits
	Logger *slog.Logger
}

// NewThreadRunner creates a ThreadRunner.
func NewThreadRunner(limits Limits, logger *slog.Logger) *ThreadRunner {
	logger = discardLogger(logger)
	if limits.MemoryLimitMB > 0 {
		logger.Warn("memory limit is not enforced in thread isolation", slog.Int("memory_limit_mb", limits.MemoryLimitMB))
	}
	return &ThreadRunner{Limits: limits, Logger: logger}
}

type outcome struct {
	col core.Column
	err error
}

// Run executes one attempt.
func (r *ThreadRunner) Run(ctx context.Context, code string, ds *core.Dataset) (core.Column, error) {
	feature, err := ffstarlark.Compile("feature.star", code, r.Limits.Entrypoint)
	if err != nil {
		return core.Column{}, classify(err, false)
	}

	attemptCtx := ctx
	if r.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.Limits.Timeout)
		defer cancel()
	}

	thread := ffstarlark.NewThread(ds.Problem, r.Limits.MaxSteps, r.Logger)
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: core.Failf(core.KindUserError, "feature code crashed the runtime").WithDetail(fmt.Sprint(p))}
			}
		}()
		v, err := feature.Run(thread, ds)
		if err != nil {
			done <- outcome{err: classify(err, ffstarlark.StepsExhausted(thread, r.Limits.MaxSteps))}
			return
		}
		col, err := ToColumn(v, ds)
		done <- outcome{col: col, err: err}
	}()

	select {
	case out := <-done:
		return out.col, out.err
	case <-attemptCtx.Done():
		thread.Cancel("attempt cancelled")
		<-done
		if ctx.Err() != nil {
			return core.Column{}, abortError(ctx)
		}
		r.Logger.Debug("feature attempt timed out", slog.String("problem", ds.Problem), slog.Duration("timeout", r.Limits.Timeout))
		return core.Column{}, timeoutFailure(r.Limits.Timeout)
	}
}

var _ Runner = (*ThreadRunner)(nil)
