package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyStarted is returned by Start when the runner has already been started.
	ErrAlreadyStarted = errors.New("task already started")

	// ErrNotStarted is returned by Step when Start has not been called.
	ErrNotStarted = errors.New("task not started")

	// ErrTimeout is matched by errors returned when a run exceeds its time bound.
	ErrTimeout = errors.New("task timed out")

	// ErrCancelled is matched by errors returned after a runner has been cancelled.
	ErrCancelled = errors.New("task cancelled")
)

// TimeoutError reports a RunToCompletion call that exceeded its time bound.
type TimeoutError struct {
	// Task is the description of the task that timed out.
	Task string

	// Timeout is the configured bound.
	Timeout time.Duration

	// Elapsed is the time measured when the bound was found to be exceeded.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (limit %s)", e.Task, e.Elapsed, e.Timeout)
}

// Unwrap lets errors.Is match ErrTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
