package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/openfroyo/stacker/pkg/telemetry"
)

// DefaultPollInterval is the wait between steps in RunToCompletion.
const DefaultPollInterval = time.Second

// Runner drives a single Task through its lifecycle.
//
// A Runner is owned by one control loop and is not safe for concurrent use.
type Runner struct {
	task  Task
	desc  string
	kind  string
	state State
	err   error
	steps int

	timeout   time.Duration
	startedAt time.Time

	clock   clock.Clock
	backoff backoff.BackOff
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock used to measure elapsed time and to wait between
// steps in RunToCompletion.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithBackOff sets the policy deciding how long RunToCompletion waits between
// steps. A policy returning backoff.Stop ends the run as timed out.
func WithBackOff(b backoff.BackOff) Option {
	return func(r *Runner) {
		r.backoff = b
	}
}

// WithPollInterval waits a constant d between steps. Zero steps back to back.
func WithPollInterval(d time.Duration) Option {
	return WithBackOff(backoff.NewConstantBackOff(d))
}

// WithTimeout bounds the time between Start and the last step. An expired
// runner moves to TimedOut on its next Step instead of advancing the task.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(l *telemetry.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics sets the metrics recorder for steps and outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner returns a Runner for task in the NotStarted state.
func NewRunner(task Task, opts ...Option) *Runner {
	r := &Runner{
		task:    task,
		desc:    Describe(task),
		kind:    fmt.Sprintf("%T", task),
		state:   StateNotStarted,
		clock:   clock.New(),
		backoff: backoff.NewConstantBackOff(DefaultPollInterval),
		logger:  telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the runner's current state.
func (r *Runner) State() State {
	return r.state
}

// Err returns the error that ended the runner, if any.
func (r *Runner) Err() error {
	return r.err
}

// Steps returns how many times the task has been stepped.
func (r *Runner) Steps() int {
	return r.steps
}

// Started reports whether Start has been called.
func (r *Runner) Started() bool {
	return r.state != StateNotStarted
}

// Done reports whether the runner is in a terminal state.
func (r *Runner) Done() bool {
	return r.state.IsTerminal()
}

func (r *Runner) String() string {
	return fmt.Sprintf("Task %s", r.desc)
}

// Start runs the task up to its first suspension point.
func (r *Runner) Start(ctx context.Context) error {
	switch r.state {
	case StateNotStarted:
	case StateCancelled:
		return r.err
	default:
		return fmt.Errorf("%s: %w", r, ErrAlreadyStarted)
	}

	r.logger.Debugf("%s starting", r)
	r.state = StateRunning
	r.startedAt = r.clock.Now()
	_, err := r.advance(ctx)
	return err
}

// Step advances the task to its next suspension point and reports whether it
// has finished. Once the runner is terminal, Step does no work: it returns
// (true, nil) after success and (true, err) with the terminating error
// otherwise.
func (r *Runner) Step(ctx context.Context) (bool, error) {
	switch r.state {
	case StateNotStarted:
		return false, fmt.Errorf("%s: %w", r, ErrNotStarted)
	case StateRunning:
		if elapsed := r.clock.Since(r.startedAt); r.timeout > 0 && elapsed > r.timeout {
			return true, r.timeOut(elapsed)
		}
		return r.advance(ctx)
	case StateDone:
		return true, nil
	default:
		return true, r.err
	}
}

// Cancel stops the runner. The task is not stepped again and is notified
// through Canceller when it implements it. Cancelling a terminal runner has no
// effect.
func (r *Runner) Cancel() {
	if r.state.IsTerminal() {
		return
	}

	r.logger.Debugf("%s cancelled", r)
	r.finish(StateCancelled, fmt.Errorf("%s: %w", r, ErrCancelled))
	if c, ok := r.task.(Canceller); ok {
		c.Cancel()
	}
}

// RunToCompletion starts the task and steps it until it finishes, waiting
// between steps according to the runner's backoff policy. A positive timeout
// replaces any bound set with WithTimeout; elapsed time is measured on the
// runner's clock and checked before each step, so a step in progress is never
// interrupted. Cancelling ctx cancels the runner.
func (r *Runner) RunToCompletion(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		r.timeout = timeout
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	r.backoff.Reset()

	for r.state == StateRunning {
		wait := r.backoff.NextBackOff()
		if wait == backoff.Stop {
			return r.timeOut(r.clock.Since(r.startedAt))
		}
		if err := r.sleep(ctx, wait); err != nil {
			r.Cancel()
			return r.err
		}
		if _, err := r.Step(ctx); err != nil {
			return err
		}
	}

	if r.state == StateDone {
		return nil
	}
	return r.err
}

func (r *Runner) advance(ctx context.Context) (bool, error) {
	done, err := r.task.Step(ctx)
	r.steps++
	r.metrics.RecordTaskStep(r.kind)

	switch {
	case err != nil:
		r.logger.WithError(err).Debugf("%s failed", r)
		r.finish(StateFailed, err)
		return true, err
	case done:
		r.logger.Debugf("%s complete", r)
		r.finish(StateDone, nil)
		return true, nil
	default:
		return false, nil
	}
}

func (r *Runner) timeOut(elapsed time.Duration) error {
	r.logger.Debugf("%s timed out", r)
	r.finish(StateTimedOut, &TimeoutError{Task: r.desc, Timeout: r.timeout, Elapsed: elapsed})
	return r.err
}

func (r *Runner) finish(state State, err error) {
	r.state = state
	r.err = err
	r.metrics.RecordRunnerOutcome(string(state))
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := r.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
