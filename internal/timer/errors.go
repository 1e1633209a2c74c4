package timer

import "github.com/cockroachdb/errors"

var (
	// ErrMalformedPayload is returned by Create when the payload cannot be JSON encoded.
	ErrMalformedPayload = errors.New("timer: payload is not serializable")
	ErrEmptyEvent       = errors.New("timer: event is required")
	// ErrNotRunning is returned for short timers requested while the scheduler is stopped.
	ErrNotRunning = errors.New("timer: scheduler not running")
)
