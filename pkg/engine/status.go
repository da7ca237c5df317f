package engine

import "fmt"

// Action is the lifecycle operation a resource or stack is performing.
type Action string

const (
	// ActionInit is the action of a resource no operation has been started on.
	ActionInit Action = "INIT"

	// ActionCreate creates the external object.
	ActionCreate Action = "CREATE"

	// ActionUpdate changes the external object in place.
	ActionUpdate Action = "UPDATE"

	// ActionDelete removes the external object.
	ActionDelete Action = "DELETE"
)

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionInit, ActionCreate, ActionUpdate, ActionDelete:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

func (a Action) String() string {
	return string(a)
}

// Status is the progress of the current action.
type Status string

const (
	// StatusInProgress indicates the action was requested and is being polled.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusComplete indicates the action finished successfully.
	StatusComplete Status = "COMPLETE"

	// StatusFailed indicates the action failed; the status reason says why.
	StatusFailed Status = "FAILED"
)

// IsTerminal returns true if the action will make no further progress.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusInProgress, StatusComplete, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

func (s Status) String() string {
	return string(s)
}

// State is an action paired with its status, e.g. CREATE_COMPLETE.
type State struct {
	Action Action
	Status Status
}

func (s State) String() string {
	return fmt.Sprintf("%s_%s", s.Action, s.Status)
}
