package storage

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnavailable marks failures of the backing service (connection loss, timeouts, I/O).
	ErrUnavailable = errors.New("storage unavailable")
	// ErrEmptyFilter rejects bulk deletes that would match every timer.
	ErrEmptyFilter   = errors.New("storage: empty timer filter")
	ErrEmailTaken    = errors.New("storage: email already verified by another user")
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// IsUnavailable reports whether err came from the backing service.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// unavailable wraps a driver error with op and marks it as ErrUnavailable.
// Caller cancellation is wrapped but left unmarked so it keeps propagating as cancellation.
func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, op)
	}
	return errors.Mark(errors.Wrap(err, op), ErrUnavailable)
}
