package scheduler

import "context"

// WrapperTask runs subtasks one after another, forwarding each of their
// suspension points. Subtasks are produced on demand by a next function, so the
// choice of the following subtask can depend on the outcome of the previous one.
//
// When a subtask finishes inside a step, WrapperTask immediately starts the next
// subtask within the same step. A subtask failure aborts the wrapper and is
// returned unchanged.
type WrapperTask struct {
	desc    string
	next    func(ctx context.Context) (Task, error)
	current Task
}

// Wrap returns a composite task whose subtasks are produced by next. next
// returns a nil Task once there is nothing left to run; it is not called again
// after that.
func Wrap(desc string, next func(ctx context.Context) (Task, error)) *WrapperTask {
	return &WrapperTask{desc: desc, next: next}
}

// Sequence returns a composite task running tasks in order. Nil entries are
// skipped so optional steps can be passed inline.
func Sequence(desc string, tasks ...Task) *WrapperTask {
	pending := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t != nil {
			pending = append(pending, t)
		}
	}

	return Wrap(desc, func(context.Context) (Task, error) {
		if len(pending) == 0 {
			return nil, nil
		}
		t := pending[0]
		pending = pending[1:]
		return t, nil
	})
}

// Step implements Task.
func (w *WrapperTask) Step(ctx context.Context) (bool, error) {
	for {
		if w.current == nil {
			t, err := w.next(ctx)
			if err != nil {
				return false, err
			}
			if t == nil {
				w.next = exhausted
				return true, nil
			}
			w.current = t
		}

		done, err := w.current.Step(ctx)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
		w.current = nil
	}
}

// Cancel forwards cancellation to the running subtask.
func (w *WrapperTask) Cancel() {
	if c, ok := w.current.(Canceller); ok {
		c.Cancel()
	}
}

func (w *WrapperTask) String() string {
	return w.desc
}

func exhausted(context.Context) (Task, error) {
	return nil, nil
}
