package worker

import (
	"context"
	"errors"
)

// JobHandler defines the interface that all job handlers must implement.
// Each handler is responsible for executing a specific type of background job.
type JobHandler interface {
	// Type returns the job type identifier that this handler processes.
	// It names the schedule and labels the job metrics.
	Type() string

	// Handle executes the job with the given payload.
	// The payload is the raw JSON registered with the schedule, or nil.
	// Returns an error if the run fails; the next tick runs it again. Use
	// NewPermanentError to stop the schedule instead.
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError wraps an error to indicate it should not be retried.
// A schedule whose run fails with a PermanentError is stopped instead of
// running again on its next tick.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
// Use this to indicate that a job should not run again.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
