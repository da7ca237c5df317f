package volume_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stacker/pkg/cloud/fake"
	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/template"
)

func newResource(t *testing.T, factory engine.Factory, typ string, props map[string]any, c *fake.Cloud) engine.Resource {
	t.Helper()

	def := &template.Definition{Name: "Data", Type: typ, Properties: props}
	r, err := factory(def, engine.Scope{
		StackName: "demo",
		Services:  &engine.Services{Cloud: c},
	})
	require.NoError(t, err)
	return r
}

// pollN calls check n times and collects the results, failing on any error.
func pollN(t *testing.T, n int, check func() (bool, error)) []bool {
	t.Helper()

	got := make([]bool, 0, n)
	for i := 0; i < n; i++ {
		done, err := check()
		require.NoError(t, err, "poll %d", i+1)
		got = append(got, done)
	}
	return got
}

// pollUntilDone calls check until it reports done and returns the number of
// calls it took.
func pollUntilDone(t *testing.T, check func() (bool, error)) int {
	t.Helper()

	for i := 1; i < 100; i++ {
		done, err := check()
		require.NoError(t, err)
		if done {
			return i
		}
	}
	require.FailNow(t, "check never completed")
	return 0
}

// created creates r and polls it until the volume is available.
func created(t *testing.T, r engine.Resource) {
	t.Helper()
	ctx := context.Background()

	h, err := r.HandleCreate(ctx)
	require.NoError(t, err)
	pollUntilDone(t, func() (bool, error) { return r.CheckCreateComplete(ctx, h) })
}
