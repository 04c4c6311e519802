// Package apperr defines the error taxonomy shared across the fee ledger.
//
// ErrInvalidArgument marks caller mistakes (bad amounts, unknown tiers,
// malformed ratios). It is surfaced as-is and never retried.
// ErrUnavailable marks infrastructure failures (Postgres, transfer gateway).
// It carries a retryable hint for the caller.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnavailable     = errors.New("unavailable")
)

// InvalidArgument wraps ErrInvalidArgument with a formatted detail message.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Unavailable wraps an infrastructure error with ErrUnavailable, keeping the
// underlying cause in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// IsInvalidArgument reports whether err is a validation failure.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsUnavailable reports whether err is a retryable infrastructure failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
