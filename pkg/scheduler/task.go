package scheduler

import (
	"context"
	"fmt"
)

// Task is a unit of suspendable work.
//
// Each call to Step performs work up to the next suspension point. Step returns
// done=false when the task suspended and has more work to do, and done=true when
// it has finished. An error ends the task; it must not be stepped again after
// reporting done or an error.
type Task interface {
	Step(ctx context.Context) (done bool, err error)
}

// Canceller is implemented by tasks that want to be told when their runner is
// cancelled. Cancel must not block or perform external work.
type Canceller interface {
	Cancel()
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context) (bool, error)

// Step calls f.
func (f TaskFunc) Step(ctx context.Context) (bool, error) {
	return f(ctx)
}

type funcTask struct {
	desc string
	fn   TaskFunc
}

func (t *funcTask) Step(ctx context.Context) (bool, error) { return t.fn(ctx) }
func (t *funcTask) String() string                         { return t.desc }

// Func returns a described Task backed by fn.
func Func(desc string, fn TaskFunc) Task {
	return &funcTask{desc: desc, fn: fn}
}

// Describe returns a human-readable description of t.
func Describe(t Task) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}

// PollTask issues a request once and then polls until the result is observed.
//
// Begin runs in the first step. If it reports done the task finishes without
// suspending; otherwise the task suspends and every later step calls Poll.
type PollTask struct {
	begin func(ctx context.Context) (bool, error)
	poll  func(ctx context.Context) (bool, error)
	begun bool
}

// NewPollTask returns a PollTask. A nil begin suspends once before polling.
func NewPollTask(begin, poll func(ctx context.Context) (bool, error)) *PollTask {
	return &PollTask{begin: begin, poll: poll}
}

// Step implements Task.
func (p *PollTask) Step(ctx context.Context) (bool, error) {
	if !p.begun {
		p.begun = true
		if p.begin == nil {
			return false, nil
		}
		return p.begin(ctx)
	}
	return p.poll(ctx)
}
