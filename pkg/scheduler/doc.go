// Package scheduler provides cooperative, single-threaded scheduling of suspendable work.
//
// # Overview
//
// Provisioning operations against a cloud provider complete asynchronously: a request is
// issued and the resulting object has to be polled until it reaches a terminal status. Rather
// than blocking a goroutine per in-flight operation, work is expressed as a Task that performs
// one unit of external work per Step and then suspends, handing control back to whoever is
// driving it.
//
// # Core Types
//
//   - Task: a unit of suspendable work advanced by Step
//   - Runner: drives one Task (Start, Step, Cancel, RunToCompletion)
//   - PollTask: a Task made of a begin function followed by repeated polls
//   - WrapperTask: a composite Task forwarding the suspension points of its subtasks
//
// A Task with n suspension points returns done=false from n calls to Step and done=true from
// the following one. Runner.Start performs the first of those calls, so the task needs exactly
// n further Runner.Step calls to complete.
//
// # Composition
//
// Sequence and Wrap build composite tasks. When a subtask completes inside a Step, the
// composite continues straight into the next subtask within the same Step, so sequencing a task
// with n suspension points and one with m suspension points yields a task with n+m suspension
// points:
//
//	task := scheduler.Sequence("backup then delete", backup, remove)
//	runner := scheduler.NewRunner(task)
//	if err := runner.Start(ctx); err != nil {
//	    return err
//	}
//	for {
//	    done, err := runner.Step(ctx)
//	    if err != nil || done {
//	        return err
//	    }
//	}
//
// # Thread Safety
//
// Tasks and Runners are not safe for concurrent use. A single control loop owns each Runner and
// multiplexes many of them by calling Step on each in turn.
package scheduler
