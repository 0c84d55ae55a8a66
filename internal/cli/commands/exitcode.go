package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitInvalid     = 2
	ExitNotFound    = 3
	ExitDuplicate   = 4
	ExitUnavailable = 5
)

// usageError is invalid command input.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return ExitInvalid
	}

	switch core.KindOf(err) {
	case core.KindUserError, core.KindInvalidColumn, core.KindInsufficientData, core.KindResourceExhausted:
		return ExitInvalid
	case core.KindDuplicateFingerprint, core.KindAlreadyExists:
		return ExitDuplicate
	case core.KindBusy, core.KindUnavailable, core.KindTimeout:
		return ExitUnavailable
	}

	switch {
	case errors.Is(err, core.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, core.ErrExists):
		return ExitDuplicate
	case errors.Is(err, context.DeadlineExceeded):
		return ExitUnavailable
	}
	return ExitError
}
