package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"runtime/metrics"
	"sync/atomic"
	"time"

	ffstarlark "github.com/HDI-Project/FeatureFactory/internal/starlark"
	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Worker exit codes. The parent trusts the JSON response when present and
// falls back to the exit code when the worker died before writing one.
const (
	ExitOK                = 0
	ExitUserError         = 3
	ExitResourceExhausted = 4
	ExitProtocol          = 5
)

const watchdogInterval = 20 * time.Millisecond

// WorkerRequest is the payload a ProcessRunner sends on the worker's stdin.
// Dataset cells are sent with their types; see cell.
type WorkerRequest struct {
	Code          string        `json:"code"`
	Entrypoint    string        `json:"entrypoint,omitempty"`
	MaxSteps      uint64        `json:"max_steps,omitempty"`
	MemoryLimitMB int           `json:"memory_limit_mb,omitempty"`
	Dataset       *core.Dataset `json:"dataset"`
}

// WorkerResponse is written by the worker on stdout.
type WorkerResponse struct {
	Values  []float64      `json:"values,omitempty"`
	Valid   []bool         `json:"valid,omitempty"`
	Failure *WorkerFailure `json:"failure,omitempty"`
}

// WorkerFailure is a classified failure crossing the process boundary.
type WorkerFailure struct {
	Kind   core.Kind `json:"kind"`
	Reason string    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
}

// ServeWorker runs one feature attempt read from r and writes the response to w.
// It returns the process exit code.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, logger *slog.Logger) int {
	logger = discardLogger(logger)

	var req WorkerRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		logger.Error("failed to decode worker request", slog.Any("error", err))
		return ExitProtocol
	}
	if req.Dataset == nil {
		logger.Error("worker request has no dataset")
		return ExitProtocol
	}

	var overLimit atomic.Bool
	feature, err := ffstarlark.Compile("feature.star", req.Code, req.Entrypoint)
	if err != nil {
		return respond(w, logger, core.Column{}, classify(err, false))
	}
	thread := ffstarlark.NewThread(req.Dataset.Problem, req.MaxSteps, logger)

	if req.MemoryLimitMB > 0 {
		limit := uint64(req.MemoryLimitMB) << 20
		debug.SetMemoryLimit(int64(limit))
		stop := watchHeap(limit, func() {
			overLimit.Store(true)
			thread.Cancel("memory limit exceeded")
		})
		defer stop()
	}

	stopInterrupt := context.AfterFunc(ctx, func() { thread.Cancel("worker interrupted") })
	defer stopInterrupt()

	v, err := feature.Run(thread, req.Dataset)
	if overLimit.Load() {
		return respond(w, logger, core.Column{}, core.Failf(core.KindResourceExhausted, "feature code exceeded the %d MB memory limit", req.MemoryLimitMB))
	}
	if err != nil {
		return respond(w, logger, core.Column{}, classify(err, ffstarlark.StepsExhausted(thread, req.MaxSteps)))
	}
	col, err := ToColumn(v, req.Dataset)
	return respond(w, logger, col, err)
}

func respond(w io.Writer, logger *slog.Logger, col core.Column, err error) int {
	resp := WorkerResponse{Values: col.Values, Valid: col.Valid}
	code := ExitOK
	if err != nil {
		var f *core.Failure
		if !errors.As(err, &f) {
			f = core.Failf(core.KindUserError, "feature code failed").WithDetail(err.Error())
		}
		resp = WorkerResponse{Failure: &WorkerFailure{Kind: f.Kind, Reason: f.Reason, Detail: f.Detail}}
		code = ExitUserError
		if f.Kind == core.KindResourceExhausted {
			code = ExitResourceExhausted
		}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to write worker response", slog.Any("error", err))
		return ExitProtocol
	}
	return code
}

// watchHeap polls the live heap and calls exceeded once it passes limit.
func watchHeap(limit uint64, exceeded func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		sample := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(sample)
				if sample[0].Value.Kind() == metrics.KindUint64 && sample[0].Value.Uint64() > limit {
					exceeded()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// encodeRequest serializes a request for a worker.
func encodeRequest(req WorkerRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker request: %w", err)
	}
	return payload, nil
}
