package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

const stderrTail = 2048

// ProcessRunner runs each attempt in a child process: the binary's hidden
// worker command. The child is killed when the attempt times out or the
// caller aborts, and its heap is bounded by Limits.MemoryLimitMB.
type ProcessRunner struct {
	Limits Limits
	// Command is the worker argv, e.g. {"/usr/bin/featurefactory", "worker"}.
	Command []string
	// Env is appended to the parent environment.
	Env    []string
	Logger *slog.Logger
}

// NewProcessRunner creates a ProcessRunner re-executing the current binary.
func NewProcessRunner(limits Limits, logger *slog.Logger) (*ProcessRunner, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate worker binary: %w", err)
	}
	return &ProcessRunner{Limits: limits, Command: []string{self, "worker"}, Logger: discardLogger(logger)}, nil
}

// Run executes one attempt in a fresh worker process.
func (r *ProcessRunner) Run(ctx context.Context, code string, ds *core.Dataset) (core.Column, error) {
	if len(r.Command) == 0 {
		return core.Column{}, fmt.Errorf("process runner has no worker command")
	}
	payload, err := encodeRequest(WorkerRequest{
		Code:          code,
		Entrypoint:    r.Limits.Entrypoint,
		MaxSteps:      r.Limits.MaxSteps,
		MemoryLimitMB: r.Limits.MemoryLimitMB,
		Dataset:       ds,
	})
	if err != nil {
		return core.Column{}, err
	}

	attemptCtx := ctx
	if r.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.Limits.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(attemptCtx, r.Command[0], r.Command[1:]...) //nolint:gosec // argv is our own binary
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	logger := discardLogger(r.Logger)
	logger.Debug("worker exited",
		slog.String("problem", ds.Problem),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("exit_code", cmd.ProcessState.ExitCode()),
	)

	if attemptCtx.Err() != nil {
		if ctx.Err() != nil {
			return core.Column{}, abortError(ctx)
		}
		return core.Column{}, timeoutFailure(r.Limits.Timeout)
	}

	var resp WorkerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return core.Column{}, r.deadWorker(runErr, stderr.String())
	}
	if resp.Failure != nil {
		return core.Column{}, &core.Failure{Kind: resp.Failure.Kind, Reason: resp.Failure.Reason, Detail: resp.Failure.Detail}
	}
	if runErr != nil {
		return core.Column{}, r.deadWorker(runErr, stderr.String())
	}

	col := core.Column{Values: resp.Values, Valid: resp.Valid}
	if col.Len() != ds.NumRows() || len(col.Valid) != col.Len() {
		return core.Column{}, fmt.Errorf("worker returned %d values for %d rows", col.Len(), ds.NumRows())
	}
	return col, nil
}

// deadWorker classifies a worker that exited without a usable response.
func (r *ProcessRunner) deadWorker(runErr error, stderr string) error {
	if len(stderr) > stderrTail {
		stderr = stderr[len(stderr)-stderrTail:]
	}
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		if runErr == nil {
			runErr = errors.New("empty response")
		}
		return fmt.Errorf("worker failed: %w", runErr)
	}
	if exitErr.ExitCode() == ExitResourceExhausted ||
		exitErr.ExitCode() == -1 || // killed by a signal, e.g. the OOM killer
		strings.Contains(stderr, "out of memory") {
		return core.Failf(core.KindResourceExhausted, "feature code exhausted the worker's resources").WithDetail(strings.TrimSpace(lastLine(stderr)))
	}
	if exitErr.ExitCode() == ExitProtocol {
		return fmt.Errorf("worker protocol error: %s", strings.TrimSpace(stderr))
	}
	return core.Failf(core.KindUserError, "feature code crashed the worker").WithDetail(strings.TrimSpace(lastLine(stderr)))
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var _ Runner = (*ProcessRunner)(nil)
