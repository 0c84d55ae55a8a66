package core

import (
	"errors"
	"fmt"
)

// Kind classifies why a submission did not produce a new scored feature.
type Kind string

// Failure kinds, grouped by the stage that raises them.
const (
	KindTimeout           Kind = "timeout"
	KindUserError         Kind = "user_error"
	KindResourceExhausted Kind = "resource_exhausted"

	KindBusy          Kind = "busy"
	KindAlreadyExists Kind = "already_exists"

	KindInvalidColumn    Kind = "invalid_column"
	KindInsufficientData Kind = "insufficient_data"

	KindDuplicateFingerprint Kind = "duplicate_fingerprint"
	KindUnavailable          Kind = "unavailable"
)

// Category is the stage family a Kind belongs to.
type Category string

// Failure categories.
const (
	CategoryExecution     Category = "execution"
	CategoryDeduplication Category = "deduplication"
	CategoryScoring       Category = "scoring"
	CategoryPersistence   Category = "persistence"
)

// Category returns the stage family of k.
func (k Kind) Category() Category {
	switch k {
	case KindTimeout, KindUserError, KindResourceExhausted:
		return CategoryExecution
	case KindBusy, KindAlreadyExists:
		return CategoryDeduplication
	case KindInvalidColumn, KindInsufficientData:
		return CategoryScoring
	default:
		return CategoryPersistence
	}
}

// Transient reports whether a failure of this kind may succeed on another attempt.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindResourceExhausted
}

// Failure is a classified failure. Reason tells the contributor what went wrong;
// Detail carries the original message from user code, if any, for diagnosis only.
type Failure struct {
	Kind     Kind
	Reason   string
	Detail   string
	Attempts int
	Err      error
}

// Sentinels for errors.Is. They match any Failure of the same kind.
var (
	ErrTimeout              = &Failure{Kind: KindTimeout}
	ErrUserError            = &Failure{Kind: KindUserError}
	ErrResourceExhausted    = &Failure{Kind: KindResourceExhausted}
	ErrBusy                 = &Failure{Kind: KindBusy}
	ErrAlreadyExists        = &Failure{Kind: KindAlreadyExists}
	ErrInvalidColumn        = &Failure{Kind: KindInvalidColumn}
	ErrInsufficientData     = &Failure{Kind: KindInsufficientData}
	ErrDuplicateFingerprint = &Failure{Kind: KindDuplicateFingerprint}
	ErrUnavailable          = &Failure{Kind: KindUnavailable}
)

// Ledger lookup and uniqueness errors outside the failure taxonomy.
var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Failf builds a Failure of the given kind with a formatted reason.
func Failf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WithDetail attaches diagnostic text and returns f.
func (f *Failure) WithDetail(detail string) *Failure {
	f.Detail = detail
	return f
}

// Wrap attaches an underlying error and returns f.
func (f *Failure) Wrap(err error) *Failure {
	f.Err = err
	return f
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", f.Attempts)
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches another Failure by kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// KindOf returns the failure kind carried by err, or "" if err is not classified.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
