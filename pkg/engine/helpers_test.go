package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/scheduler"
	"github.com/openfroyo/stacker/pkg/template"
)

const (
	testType     = "Test::Resource"
	snapshotType = "Test::Snapshot"
)

// journal records lifecycle calls across resources.
type journal struct {
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) reset() {
	j.entries = nil
}

type testProps struct {
	Polls     int    `yaml:"polls"`
	Fail      string `yaml:"fail"`
	FailCheck string `yaml:"fail_check"`
	InPlace   bool   `yaml:"in_place"`
	Always    bool   `yaml:"always"`
	Value     any    `yaml:"value"`
}

// testResource completes its create after props.Polls unsuccessful checks.
type testResource struct {
	engine.Base
	props testProps
	log   *journal
}

type countdown struct {
	remaining int
}

func (r *testResource) HandleCreate(ctx context.Context) (engine.Handle, error) {
	r.log.add("create %s", r.Name())
	if r.props.Fail != "" {
		return nil, errors.New(r.props.Fail)
	}
	if err := r.SetResourceID(ctx, "id-"+r.Name()); err != nil {
		return nil, err
	}
	return &countdown{remaining: r.props.Polls}, nil
}

func (r *testResource) CheckCreateComplete(_ context.Context, h engine.Handle) (bool, error) {
	if r.props.FailCheck != "" {
		return false, engine.NewUnexpectedStateError(r.props.FailCheck)
	}
	c := h.(*countdown)
	if c.remaining == 0 {
		r.log.add("created %s", r.Name())
		return true, nil
	}
	c.remaining--
	return false, nil
}

func (r *testResource) HandleUpdate(_ context.Context, def *template.Definition) (engine.Handle, error) {
	if !r.props.InPlace {
		return nil, engine.ErrUpdateReplace
	}
	r.log.add("update %s", r.Name())
	return nil, template.DecodeProperties(def.Properties, &r.props)
}

func (r *testResource) AlwaysUpdate() bool { return r.props.Always }

func (r *testResource) HandleDelete(ctx context.Context) (engine.Handle, error) {
	r.log.add("delete %s", r.Name())
	return nil, r.ClearResourceID(ctx)
}

func (r *testResource) GetAttribute(ctx context.Context, key string) (any, error) {
	if key == "value" {
		return r.props.Value, nil
	}
	return r.Base.GetAttribute(ctx, key)
}

// snapshotResource records the state it was snapshot-deleted from.
type snapshotResource struct {
	testResource
	prev engine.State
}

func (r *snapshotResource) HandleSnapshotDelete(_ context.Context, prev engine.State) (engine.Handle, error) {
	r.log.add("snapshot %s", r.Name())
	r.prev = prev
	return nil, nil
}

func newTestRegistry(t *testing.T, log *journal) *engine.Registry {
	t.Helper()

	reg := engine.NewRegistry()
	require.NoError(t, reg.Register(testType, func(def *template.Definition, scope engine.Scope) (engine.Resource, error) {
		r := &testResource{Base: engine.NewBase(def, scope), log: log}
		if err := template.DecodeProperties(def.Properties, &r.props); err != nil {
			return nil, err
		}
		return r, nil
	}))
	require.NoError(t, reg.Register(snapshotType, func(def *template.Definition, scope engine.Scope) (engine.Resource, error) {
		r := &snapshotResource{testResource: testResource{Base: engine.NewBase(def, scope), log: log}}
		if err := template.DecodeProperties(def.Properties, &r.props); err != nil {
			return nil, err
		}
		return r, nil
	}))
	return reg
}

func parseTemplate(t *testing.T, src string) *template.Template {
	t.Helper()
	tmpl, err := template.Parse([]byte(src))
	require.NoError(t, err)
	return tmpl
}

// runTask starts a runner unless it is already started and steps it until it
// finishes, returning the number of steps taken after Start.
func runTask(t *testing.T, r *scheduler.Runner) (int, error) {
	t.Helper()

	ctx := context.Background()
	if !r.Started() {
		if err := r.Start(ctx); err != nil {
			return 0, err
		}
	}

	steps := 0
	for !r.Done() {
		steps++
		require.Less(t, steps, 100, "task did not finish")
		if _, err := r.Step(ctx); err != nil {
			return steps, err
		}
	}
	return steps, r.Err()
}
