package scheduler

import "fmt"

// State represents the lifecycle state of a Runner.
type State string

const (
	// StateNotStarted indicates Start has not been called yet.
	StateNotStarted State = "not_started"

	// StateRunning indicates the task has started and has work remaining.
	StateRunning State = "running"

	// StateDone indicates the task completed successfully.
	StateDone State = "done"

	// StateCancelled indicates the runner was cancelled before the task completed.
	StateCancelled State = "cancelled"

	// StateTimedOut indicates RunToCompletion exceeded its time bound.
	StateTimedOut State = "timed_out"

	// StateFailed indicates the task returned an error from a step.
	StateFailed State = "failed"
)

// IsTerminal returns true if no further steps will be taken in this state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateCancelled ||
		s == StateTimedOut || s == StateFailed
}

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StateNotStarted, StateRunning, StateDone,
		StateCancelled, StateTimedOut, StateFailed:
		return nil
	default:
		return fmt.Errorf("invalid runner state: %s", s)
	}
}

func (s State) String() string {
	return string(s)
}
