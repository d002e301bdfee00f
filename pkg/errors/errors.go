// Package errors defines the sentinel errors shared by the join engine and its
// tooling, plus an AppError wrapper that carries a process exit code for the CLI.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidThreshold    = errors.New("invalid threshold")
	ErrUnknownSimilarity   = errors.New("unknown similarity measure")
	ErrUnknownStrategy     = errors.New("unknown indexing strategy")
	ErrUnknownLengthFilter = errors.New("unknown length filter")
	ErrInvalidInput        = errors.New("invalid input")
	ErrPhase               = errors.New("join phase out of order")
	ErrSnapshotCorrupt     = errors.New("snapshot corrupt")
	ErrSinkFailed          = errors.New("output sink failed")
	ErrInternal            = errors.New("internal error")
)

// Exit codes reported by the ssjoin binary.
const (
	ExitOK       = 0
	ExitInternal = 1
	ExitConfig   = 2
	ExitInput    = 3
	ExitOutput   = 4
)

type AppError struct {
	Err      error
	Message  string
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, exitCode int, message string) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  message,
		ExitCode: exitCode,
	}
}

func Newf(sentinel error, exitCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: exitCode,
	}
}

// Is and As re-export the standard helpers so callers importing this package
// under the name "errors" keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode
	}

	switch {
	case errors.Is(err, ErrInvalidThreshold),
		errors.Is(err, ErrUnknownSimilarity),
		errors.Is(err, ErrUnknownStrategy),
		errors.Is(err, ErrUnknownLengthFilter):
		return ExitConfig
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSnapshotCorrupt):
		return ExitInput
	case errors.Is(err, ErrSinkFailed):
		return ExitOutput
	default:
		return ExitInternal
	}
}
