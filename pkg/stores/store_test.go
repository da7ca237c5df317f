package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	stores := map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return setupTestStore(t) },
		"memory": func(*testing.T) Store { return NewMemoryStore() },
	}

	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, build(t))
		})
	}
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)
}

func TestSQLiteStoreMigrationsAreIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.HealthCheck(ctx))

	for _, table := range []string{"stacks", "resources", "events"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestStackRecords(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		stack := &StackRecord{ID: "s1", Name: "web", Template: "{}", Action: "CREATE", Status: "IN_PROGRESS"}
		require.NoError(t, s.SaveStack(ctx, stack))
		assert.False(t, stack.CreatedAt.IsZero())

		stack.Status = "COMPLETE"
		require.NoError(t, s.SaveStack(ctx, stack))

		got, err := s.GetStack(ctx, "web")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
		assert.Equal(t, "COMPLETE", got.Status)
		assert.Equal(t, "{}", got.Template)

		_, err = s.GetStack(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		stacks, err := s.ListStacks(ctx)
		require.NoError(t, err)
		assert.Len(t, stacks, 1)

		require.NoError(t, s.DeleteStack(ctx, "s1"))
		assert.ErrorIs(t, s.DeleteStack(ctx, "s1"), ErrNotFound)
	})
}

func TestResourceRecords(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveStack(ctx, &StackRecord{ID: "s1", Name: "web"}))

		res := &ResourceRecord{StackID: "s1", Name: "data", Type: "OS::Cinder::Volume", Action: "CREATE", Status: "IN_PROGRESS"}
		require.NoError(t, s.SaveResource(ctx, res))
		require.NoError(t, s.SetResourceID(ctx, "s1", "data", "vol-1"))

		got, err := s.GetResource(ctx, "s1", "data")
		require.NoError(t, err)
		assert.Equal(t, "vol-1", got.ResourceID)
		assert.Equal(t, "OS::Cinder::Volume", got.Type)

		assert.ErrorIs(t, s.SetResourceID(ctx, "s1", "other", "x"), ErrNotFound)

		require.NoError(t, s.SaveResource(ctx, &ResourceRecord{StackID: "s1", Name: "attach", Type: "OS::Cinder::VolumeAttachment"}))
		list, err := s.ListResources(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "attach", list[0].Name)
		assert.Equal(t, "data", list[1].Name)

		require.NoError(t, s.DeleteResource(ctx, "s1", "data"))
		_, err = s.GetResource(ctx, "s1", "data")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEvents(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveStack(ctx, &StackRecord{ID: "s1", Name: "web"}))
		require.NoError(t, s.SaveStack(ctx, &StackRecord{ID: "s2", Name: "db"}))

		for _, status := range []string{"IN_PROGRESS", "COMPLETE"} {
			e := &Event{StackID: "s1", ResourceName: "data", Action: "CREATE", Status: status}
			require.NoError(t, s.AppendEvent(ctx, e))
			assert.NotZero(t, e.ID)
		}
		require.NoError(t, s.AppendEvent(ctx, &Event{StackID: "s2", Action: "CREATE", Status: "COMPLETE"}))

		events, err := s.ListEvents(ctx, "s1", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "IN_PROGRESS", events[0].Status)
		assert.Equal(t, "COMPLETE", events[1].Status)

		events, err = s.ListEvents(ctx, "s1", 1, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "COMPLETE", events[0].Status)
	})
}

func TestDeleteStackRemovesChildren(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveStack(ctx, &StackRecord{ID: "s1", Name: "web"}))
		require.NoError(t, s.SaveResource(ctx, &ResourceRecord{StackID: "s1", Name: "data", Type: "t"}))
		require.NoError(t, s.AppendEvent(ctx, &Event{StackID: "s1", Action: "CREATE", Status: "COMPLETE"}))

		require.NoError(t, s.DeleteStack(ctx, "s1"))

		resources, err := s.ListResources(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, resources)

		events, err := s.ListEvents(ctx, "s1", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
