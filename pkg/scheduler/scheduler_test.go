package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stacker/pkg/scheduler"
)

// yieldTask suspends a fixed number of times and then completes.
type yieldTask struct {
	name      string
	yields    int
	steps     int
	failAt    int
	err       error
	cancelled bool
	onStep    func()
}

func newYieldTask(name string, yields int) *yieldTask {
	return &yieldTask{name: name, yields: yields}
}

func (t *yieldTask) Step(ctx context.Context) (bool, error) {
	t.steps++
	if t.onStep != nil {
		t.onStep()
	}
	if t.err != nil && t.steps == t.failAt {
		return false, t.err
	}
	return t.steps > t.yields, nil
}

func (t *yieldTask) Cancel()        { t.cancelled = true }
func (t *yieldTask) String() string { return t.name }

func stepsToCompletion(t *testing.T, r *scheduler.Runner) int {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	n := 0
	for !r.Done() {
		_, err := r.Step(ctx)
		require.NoError(t, err)
		n++
		require.Less(t, n, 1000, "task never completed")
	}
	return n
}

func TestRunnerStartRunsToFirstSuspension(t *testing.T) {
	task := newYieldTask("wait", 2)
	r := scheduler.NewRunner(task)

	assert.Equal(t, scheduler.StateNotStarted, r.State())
	require.NoError(t, r.Start(context.Background()))

	assert.Equal(t, 1, task.steps)
	assert.Equal(t, scheduler.StateRunning, r.State())
	assert.True(t, r.Started())
	assert.False(t, r.Done())
}

func TestRunnerStartTwice(t *testing.T) {
	r := scheduler.NewRunner(newYieldTask("wait", 3))
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	err := r.Start(ctx)
	assert.ErrorIs(t, err, scheduler.ErrAlreadyStarted)
}

func TestRunnerStepBeforeStart(t *testing.T) {
	task := newYieldTask("wait", 1)
	r := scheduler.NewRunner(task)

	_, err := r.Step(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrNotStarted)
	assert.Zero(t, task.steps)
}

func TestRunnerTaskWithoutSuspension(t *testing.T) {
	task := newYieldTask("instant", 0)
	r := scheduler.NewRunner(task)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	assert.Equal(t, scheduler.StateDone, r.State())

	done, err := r.Step(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 1, task.steps, "a finished task must not be stepped again")
}

func TestRunnerTakesOneStepPerSuspension(t *testing.T) {
	tests := map[string]struct {
		yields int
	}{
		"A task with one suspension needs one step.":     {yields: 1},
		"A task with five suspensions needs five steps.": {yields: 5},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r := scheduler.NewRunner(newYieldTask("wait", test.yields))
			assert.Equal(t, test.yields, stepsToCompletion(t, r))
			assert.Equal(t, scheduler.StateDone, r.State())
		})
	}
}

func TestRunnerFailure(t *testing.T) {
	boom := errors.New("boom")
	task := newYieldTask("fail", 5)
	task.failAt, task.err = 2, boom

	r := scheduler.NewRunner(task)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	_, err := r.Step(ctx)
	assert.Same(t, boom, err)
	assert.Equal(t, scheduler.StateFailed, r.State())

	done, err := r.Step(ctx)
	assert.True(t, done)
	assert.Same(t, boom, err)
	assert.Equal(t, 2, task.steps)
}

func TestRunnerFailureOnStart(t *testing.T) {
	boom := errors.New("boom")
	task := newYieldTask("fail", 5)
	task.failAt, task.err = 1, boom

	r := scheduler.NewRunner(task)
	err := r.Start(context.Background())
	assert.Same(t, boom, err)
	assert.Equal(t, scheduler.StateFailed, r.State())
}

func TestRunnerCancel(t *testing.T) {
	task := newYieldTask("wait", 5)
	r := scheduler.NewRunner(task)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	r.Cancel()
	assert.Equal(t, scheduler.StateCancelled, r.State())
	assert.True(t, task.cancelled)

	done, err := r.Step(ctx)
	assert.True(t, done)
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
	assert.Equal(t, 1, task.steps)

	// Cancelling again is a no-op.
	r.Cancel()
	assert.Equal(t, scheduler.StateCancelled, r.State())
}

func TestRunnerCancelBeforeStart(t *testing.T) {
	task := newYieldTask("wait", 1)
	r := scheduler.NewRunner(task)
	r.Cancel()

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
	assert.Zero(t, task.steps)
}

func TestRunnerCancelAfterDone(t *testing.T) {
	task := newYieldTask("instant", 0)
	r := scheduler.NewRunner(task)
	require.NoError(t, r.Start(context.Background()))

	r.Cancel()
	assert.Equal(t, scheduler.StateDone, r.State())
	assert.False(t, task.cancelled)
}

func TestRunToCompletion(t *testing.T) {
	task := newYieldTask("wait", 3)
	r := scheduler.NewRunner(task, scheduler.WithPollInterval(0))

	require.NoError(t, r.RunToCompletion(context.Background(), 0))
	assert.Equal(t, scheduler.StateDone, r.State())
	assert.Equal(t, 4, task.steps)
}

func TestRunToCompletionPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	task := newYieldTask("fail", 3)
	task.failAt, task.err = 3, boom

	r := scheduler.NewRunner(task, scheduler.WithPollInterval(0))
	err := r.RunToCompletion(context.Background(), time.Minute)
	assert.Same(t, boom, err)
	assert.Equal(t, scheduler.StateFailed, r.State())
}

func TestRunToCompletionTimeout(t *testing.T) {
	mock := clock.NewMock()
	task := newYieldTask("forever", 1000)
	task.onStep = func() { mock.Add(time.Second) }

	r := scheduler.NewRunner(task,
		scheduler.WithClock(mock),
		scheduler.WithPollInterval(0),
	)

	err := r.RunToCompletion(context.Background(), 3*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrTimeout)

	var terr *scheduler.TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "forever", terr.Task)
	assert.Equal(t, 3*time.Second, terr.Timeout)
	assert.Equal(t, 4*time.Second, terr.Elapsed)

	assert.Equal(t, scheduler.StateTimedOut, r.State())
	assert.Equal(t, 4, task.steps)
	assert.False(t, task.cancelled)

	done, err := r.Step(context.Background())
	assert.True(t, done)
	assert.ErrorIs(t, err, scheduler.ErrTimeout)
	assert.Equal(t, 4, task.steps)
}

func TestRunToCompletionBackOffStop(t *testing.T) {
	task := newYieldTask("wait", 3)
	r := scheduler.NewRunner(task, scheduler.WithBackOff(&backoff.StopBackOff{}))

	err := r.RunToCompletion(context.Background(), 0)
	assert.ErrorIs(t, err, scheduler.ErrTimeout)
	assert.Equal(t, 1, task.steps)
}

func TestRunToCompletionContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := newYieldTask("wait", 10)
	task.onStep = func() {
		if task.steps == 2 {
			cancel()
		}
	}

	r := scheduler.NewRunner(task, scheduler.WithPollInterval(0))
	err := r.RunToCompletion(ctx, 0)

	assert.ErrorIs(t, err, scheduler.ErrCancelled)
	assert.Equal(t, scheduler.StateCancelled, r.State())
	assert.Equal(t, 2, task.steps)
	assert.True(t, task.cancelled)
}

func TestRunToCompletionWaitsOnClock(t *testing.T) {
	mock := clock.NewMock()
	task := newYieldTask("wait", 1)
	r := scheduler.NewRunner(task,
		scheduler.WithClock(mock),
		scheduler.WithPollInterval(5*time.Second),
	)

	errc := make(chan error, 1)
	go func() { errc <- r.RunToCompletion(context.Background(), 0) }()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case err := <-errc:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 2, task.steps)
}

func TestSequenceStepCount(t *testing.T) {
	tests := map[string]struct {
		n, m int
	}{
		"Two tasks without suspensions finish on start.": {n: 0, m: 0},
		"Only the first task suspends.":                  {n: 2, m: 0},
		"Only the second task suspends.":                 {n: 0, m: 3},
		"Both tasks suspend.":                            {n: 2, m: 3},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			a := newYieldTask("a", test.n)
			b := newYieldTask("b", test.m)
			r := scheduler.NewRunner(scheduler.Sequence("a then b", a, b))

			assert.Equal(t, test.n+test.m, stepsToCompletion(t, r))
			assert.Equal(t, test.n+1, a.steps)
			assert.Equal(t, test.m+1, b.steps)
		})
	}
}

func TestSequenceSkipsNilTasks(t *testing.T) {
	a := newYieldTask("a", 1)
	r := scheduler.NewRunner(scheduler.Sequence("a", nil, a, nil))
	assert.Equal(t, 1, stepsToCompletion(t, r))
}

func TestSequenceFailureStopsLaterTasks(t *testing.T) {
	boom := errors.New("boom")
	a := newYieldTask("a", 2)
	a.failAt, a.err = 2, boom
	b := newYieldTask("b", 0)

	r := scheduler.NewRunner(scheduler.Sequence("a then b", a, b))
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	_, err := r.Step(ctx)
	assert.Same(t, boom, err)
	assert.Zero(t, b.steps)
}

func TestSequenceCancelReachesCurrentSubtask(t *testing.T) {
	a := newYieldTask("a", 0)
	b := newYieldTask("b", 3)
	r := scheduler.NewRunner(scheduler.Sequence("a then b", a, b))
	require.NoError(t, r.Start(context.Background()))

	r.Cancel()
	assert.False(t, a.cancelled)
	assert.True(t, b.cancelled)
}

func TestWrapProducesSubtasksLazily(t *testing.T) {
	var produced []string
	first := newYieldTask("first", 1)

	w := scheduler.Wrap("lazy", func(context.Context) (scheduler.Task, error) {
		switch len(produced) {
		case 0:
			produced = append(produced, "first")
			return first, nil
		case 1:
			// The second subtask is chosen only once the first has finished.
			require.Equal(t, 2, first.steps)
			produced = append(produced, "second")
			return newYieldTask("second", 1), nil
		default:
			return nil, nil
		}
	})

	r := scheduler.NewRunner(w)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, []string{"first"}, produced)

	assert.Equal(t, 2, stepsRemaining(t, r))
	assert.Equal(t, []string{"first", "second"}, produced)
	assert.Equal(t, "Task lazy", r.String())
}

func TestWrapProducerError(t *testing.T) {
	boom := errors.New("no more")
	w := scheduler.Wrap("broken", func(context.Context) (scheduler.Task, error) {
		return nil, boom
	})

	err := scheduler.NewRunner(w).Start(context.Background())
	assert.Same(t, boom, err)
}

func TestPollTask(t *testing.T) {
	polls := 0
	p := scheduler.NewPollTask(
		func(context.Context) (bool, error) { return false, nil },
		func(context.Context) (bool, error) {
			polls++
			return polls == 3, nil
		},
	)

	r := scheduler.NewRunner(p)
	assert.Equal(t, 3, stepsToCompletion(t, r))
}

func TestPollTaskBeginCompletes(t *testing.T) {
	p := scheduler.NewPollTask(
		func(context.Context) (bool, error) { return true, nil },
		func(context.Context) (bool, error) {
			t.Fatal("poll must not run")
			return false, nil
		},
	)

	r := scheduler.NewRunner(p)
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, scheduler.StateDone, r.State())
}

func TestFuncDescribe(t *testing.T) {
	task := scheduler.Func("noop", func(context.Context) (bool, error) { return true, nil })
	assert.Equal(t, "noop", scheduler.Describe(task))
	assert.Equal(t, fmt.Sprintf("%T", scheduler.TaskFunc(nil)),
		scheduler.Describe(scheduler.TaskFunc(func(context.Context) (bool, error) { return true, nil })))
}

func TestStateTerminal(t *testing.T) {
	tests := map[string]struct {
		state    scheduler.State
		terminal bool
	}{
		"Not started is not terminal.": {state: scheduler.StateNotStarted},
		"Running is not terminal.":     {state: scheduler.StateRunning},
		"Done is terminal.":            {state: scheduler.StateDone, terminal: true},
		"Cancelled is terminal.":       {state: scheduler.StateCancelled, terminal: true},
		"Timed out is terminal.":       {state: scheduler.StateTimedOut, terminal: true},
		"Failed is terminal.":          {state: scheduler.StateFailed, terminal: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.terminal, test.state.IsTerminal())
			assert.NoError(t, test.state.Validate())
		})
	}

	assert.Error(t, scheduler.State("paused").Validate())
}

func stepsRemaining(t *testing.T, r *scheduler.Runner) int {
	t.Helper()
	n := 0
	for !r.Done() {
		_, err := r.Step(context.Background())
		require.NoError(t, err)
		n++
	}
	return n
}

func TestRunnerWithTimeoutOnManualSteps(t *testing.T) {
	mock := clock.NewMock()
	task := newYieldTask("slow", 100)
	r := scheduler.NewRunner(task,
		scheduler.WithClock(mock),
		scheduler.WithTimeout(time.Minute),
	)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	mock.Add(30 * time.Second)
	done, err := r.Step(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	mock.Add(31 * time.Second)
	done, err = r.Step(ctx)
	assert.True(t, done)
	assert.ErrorIs(t, err, scheduler.ErrTimeout)
	assert.Equal(t, scheduler.StateTimedOut, r.State())
	assert.Equal(t, 2, task.steps)
}
