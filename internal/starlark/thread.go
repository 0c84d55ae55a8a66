package starlark

import (
	"log/slog"

	"go.starlark.net/starlark"
)

// NewThread creates a Starlark thread for one feature execution.
// maxSteps bounds the computation (0 means unbounded). print() output from
// feature code goes to the logger at debug level.
// Threads are never reused: cancellation is sticky.
func NewThread(name string, maxSteps uint64, logger *slog.Logger) *starlark.Thread {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug("feature print", slog.String("thread", name), slog.String("msg", msg))
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, &EvalError{File: name, Message: "load(" + module + ") is not allowed in feature code"}
		},
	}
	if maxSteps > 0 {
		thread.SetMaxExecutionSteps(maxSteps)
	}
	return thread
}

// StepsExhausted reports whether the thread stopped because it ran out of
// execution steps rather than because of an error in the code.
func StepsExhausted(thread *starlark.Thread, maxSteps uint64) bool {
	return maxSteps > 0 && thread.ExecutionSteps() >= maxSteps
}
