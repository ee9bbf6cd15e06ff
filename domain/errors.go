package domain

import (
	"context"
	"errors"
)

// Error taxonomy of the indexing pipeline. Wrap causes with these sentinels so
// the worker pool can classify a failure with errors.Is.
var (
	// ErrProfileNotFound is terminal, the profile vanished.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrMalformedInput is terminal, e.g. text the encoder rejects.
	ErrMalformedInput = errors.New("malformed input")
	// ErrEncoderRejected is terminal: bad credentials or an unknown model.
	ErrEncoderRejected = errors.New("encoder rejected the request")
	// ErrTransientStorage is retried with backoff.
	ErrTransientStorage = errors.New("transient storage error")
	// ErrTransientEncoder is retried with backoff.
	ErrTransientEncoder = errors.New("transient encoder error")
	// ErrJobTimeout is retried and counts toward the same ceiling.
	ErrJobTimeout = errors.New("job timed out")
	// ErrCoordinator aborts a bulk reindex run.
	ErrCoordinator = errors.New("reindex coordinator error")
)

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrMalformedInput) || errors.Is(err, ErrEncoderRejected)
}

// IsTimeout reports whether err stems from a wall-clock limit.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrJobTimeout) || errors.Is(err, context.DeadlineExceeded)
}
