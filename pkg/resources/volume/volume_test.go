package volume_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stacker/pkg/cloud"
	"github.com/openfroyo/stacker/pkg/cloud/fake"
	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/resources/volume"
	"github.com/openfroyo/stacker/pkg/template"
)

func awsVolume(t *testing.T, c *fake.Cloud, props map[string]any) engine.Resource {
	t.Helper()
	return newResource(t, volume.NewAWSVolume, volume.TypeAWSVolume, props, c)
}

func cinderVolume(t *testing.T, c *fake.Cloud, props map[string]any) engine.Resource {
	t.Helper()
	return newResource(t, volume.NewCinderVolume, volume.TypeCinderVolume, props, c)
}

func TestVolumeCreate(t *testing.T) {
	c := fake.New()
	c.OnCreate(cloud.StatusCreating, cloud.StatusCreating, cloud.StatusAvailable)
	ctx := context.Background()

	r := awsVolume(t, c, map[string]any{
		"Size":             10,
		"AvailabilityZone": "nova",
		"Tags":             []any{map[string]any{"Key": "env", "Value": "prod"}},
	})

	h, err := r.HandleCreate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, r.ResourceID())
	assert.Zero(t, c.Calls(fake.OpGetVolume))

	got := pollN(t, 3, func() (bool, error) { return r.CheckCreateComplete(ctx, h) })
	assert.Equal(t, []bool{false, false, true}, got)

	vol, ok := c.Volume(r.ResourceID())
	require.True(t, ok)
	assert.Equal(t, 10, vol.Size)
	assert.Equal(t, "nova", vol.AvailabilityZone)
	assert.Equal(t, "demo-Data", vol.Name)
	assert.Equal(t, "demo-Data", vol.Description)
	assert.Equal(t, map[string]string{"env": "prod"}, vol.Metadata)
	assert.Equal(t, r.ResourceID(), r.RefID())
}

func TestVolumeCreatingStatuses(t *testing.T) {
	tests := []struct {
		name     string
		build    func(t *testing.T, c *fake.Cloud) engine.Resource
		creating []string
	}{
		{
			name: "aws create",
			build: func(t *testing.T, c *fake.Cloud) engine.Resource {
				return awsVolume(t, c, map[string]any{"Size": 1, "AvailabilityZone": "nova"})
			},
			creating: []string{cloud.StatusCreating},
		},
		{
			name: "aws restore",
			build: func(t *testing.T, c *fake.Cloud) engine.Resource {
				backup := c.AddBackup(cloud.Volume{ID: "old"})
				return awsVolume(t, c, map[string]any{"AvailabilityZone": "nova", "SnapshotId": backup})
			},
			creating: []string{cloud.StatusCreating, cloud.StatusRestoringBackup},
		},
		{
			name: "cinder create",
			build: func(t *testing.T, c *fake.Cloud) engine.Resource {
				return cinderVolume(t, c, map[string]any{"size": 1})
			},
			creating: []string{cloud.StatusCreating, cloud.StatusRestoringBackup, cloud.StatusDownloading},
		},
		{
			name: "cinder restore",
			build: func(t *testing.T, c *fake.Cloud) engine.Resource {
				backup := c.AddBackup(cloud.Volume{ID: "old"})
				return cinderVolume(t, c, map[string]any{"backup_id": backup})
			},
			creating: []string{cloud.StatusCreating, cloud.StatusRestoringBackup, cloud.StatusDownloading},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fake.New()
			c.OnCreate(append(append([]string(nil), tt.creating...), cloud.StatusAvailable)...)
			ctx := context.Background()

			r := tt.build(t, c)
			h, err := r.HandleCreate(ctx)
			require.NoError(t, err)

			want := make([]bool, len(tt.creating)+1)
			want[len(tt.creating)] = true
			got := pollN(t, len(want), func() (bool, error) { return r.CheckCreateComplete(ctx, h) })
			assert.Equal(t, want, got)
		})
	}
}

func TestVolumeCreateUnexpectedStatus(t *testing.T) {
	tests := []struct {
		name   string
		build  func(t *testing.T, c *fake.Cloud) engine.Resource
		status string
	}{
		{
			name: "error",
			build: func(t *testing.T, c *fake.Cloud) engine.Resource {
				return cinderVolume(t, c, map[string]any{"size": 1})
			},
			status: cloud.StatusError,
		},
		{
			name: "downloading is not an aws creating status",
			build: func(t *testing.T, c *fake.Cloud) engine.Resource {
				return awsVolume(t, c, map[string]any{"Size": 1, "AvailabilityZone": "nova"})
			},
			status: cloud.StatusDownloading,
		},
		{
			name: "restoring without a restore source",
			build: func(t *testing.T, c *fake.Cloud) engine.Resource {
				return awsVolume(t, c, map[string]any{"Size": 1, "AvailabilityZone": "nova"})
			},
			status: cloud.StatusRestoringBackup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fake.New()
			c.OnCreate(cloud.StatusCreating, tt.status)
			ctx := context.Background()

			r := tt.build(t, c)
			h, err := r.HandleCreate(ctx)
			require.NoError(t, err)

			done, err := r.CheckCreateComplete(ctx, h)
			require.NoError(t, err)
			assert.False(t, done)

			_, err = r.CheckCreateComplete(ctx, h)
			require.ErrorIs(t, err, engine.ErrUnexpectedState)

			var ee *engine.EngineError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.status, ee.Status)
		})
	}
}

func TestVolumeCreateRejected(t *testing.T) {
	c := fake.New()
	r := cinderVolume(t, c, map[string]any{"name": "empty"})

	_, err := r.HandleCreate(context.Background())
	require.ErrorIs(t, err, cloud.ErrBadRequest)
	assert.Empty(t, r.ResourceID())
}

func TestVolumeRestoreRenames(t *testing.T) {
	c := fake.New()
	backup := c.AddBackup(cloud.Volume{ID: "old"})
	ctx := context.Background()

	r := cinderVolume(t, c, map[string]any{
		"backup_id":   backup,
		"name":        "restored",
		"description": "from backup",
	})
	created(t, r)

	assert.Zero(t, c.Calls(fake.OpCreateVolume))
	assert.Equal(t, 1, c.Calls(fake.OpRestoreBackup))
	assert.Equal(t, 1, c.Calls(fake.OpUpdateVolume))

	vol, ok := c.Volume(r.ResourceID())
	require.True(t, ok)
	assert.Equal(t, "restored", vol.Name)
	assert.Equal(t, "from backup", vol.Description)

	awsR := awsVolume(t, c, map[string]any{"AvailabilityZone": "nova", "SnapshotId": backup})
	_, err := awsR.HandleCreate(ctx)
	require.NoError(t, err)
	vol, _ = c.Volume(awsR.ResourceID())
	assert.Equal(t, "demo-Data", vol.Name)
	assert.Equal(t, "demo-Data", vol.Description)
}

func TestVolumeRestoreMissingBackup(t *testing.T) {
	c := fake.New()
	r := cinderVolume(t, c, map[string]any{"backup_id": "nope"})

	_, err := r.HandleCreate(context.Background())
	require.ErrorIs(t, err, cloud.ErrNotFound)
	assert.Empty(t, r.ResourceID())
}

func TestCinderVolumeCreateRequest(t *testing.T) {
	c := fake.New()
	image := c.AddImage("cirros")

	r := cinderVolume(t, c, map[string]any{
		"size":              2,
		"availability_zone": "nova",
		"image":             "cirros",
		"volume_type":       "ssd",
		"metadata":          map[string]any{"role": "db"},
	})
	created(t, r)

	vol, ok := c.Volume(r.ResourceID())
	require.True(t, ok)
	assert.Equal(t, "demo-Data", vol.Name)
	assert.Empty(t, vol.Description)
	assert.Equal(t, image, vol.ImageRef)
	assert.True(t, vol.Bootable)
	assert.Equal(t, "ssd", vol.VolumeType)
	assert.Equal(t, map[string]string{"role": "db"}, vol.Metadata)
}

func TestCinderVolumeImageRef(t *testing.T) {
	c := fake.New()
	r := cinderVolume(t, c, map[string]any{"imageRef": "img-1"})
	created(t, r)

	vol, _ := c.Volume(r.ResourceID())
	assert.Equal(t, "img-1", vol.ImageRef)
	assert.Zero(t, c.Calls(fake.OpFindImage))
}

func TestCinderVolumeUnknownImage(t *testing.T) {
	c := fake.New()
	r := cinderVolume(t, c, map[string]any{"image": "missing"})

	_, err := r.HandleCreate(context.Background())
	require.ErrorIs(t, err, engine.ErrConfiguration)
	assert.Contains(t, err.Error(), `image "missing" not found`)
	assert.Zero(t, c.Calls(fake.OpCreateVolume))
}

func TestVolumeInvalidProperties(t *testing.T) {
	c := fake.New()
	scope := engine.Scope{StackName: "demo", Services: &engine.Services{Cloud: c}}

	_, err := volume.NewAWSVolume(&template.Definition{
		Name:       "Data",
		Type:       volume.TypeAWSVolume,
		Properties: map[string]any{"Size": 1},
	}, scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "property AvailabilityZone is required")

	_, err = volume.NewCinderVolume(&template.Definition{
		Name:       "Data",
		Type:       volume.TypeCinderVolume,
		Properties: map[string]any{"size": -1},
	}, scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "property size failed min=1")

	_, err = volume.NewCinderVolume(&template.Definition{
		Name:       "Data",
		Type:       volume.TypeCinderVolume,
		Properties: map[string]any{"size": 1},
	}, engine.Scope{})
	require.ErrorIs(t, err, engine.ErrConfiguration)
}

func TestCinderVolumeAttributes(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := cinderVolume(t, c, map[string]any{
		"size":              3,
		"availability_zone": "nova",
		"description":       "data disk",
		"metadata":          map[string]any{"role": "db"},
	})
	created(t, r)

	tests := map[string]any{
		"availability_zone":   "nova",
		"size":                "3",
		"display_name":        "demo-Data",
		"display_description": "data disk",
		"status":              cloud.StatusAvailable,
		"bootable":            "false",
		"snapshot_id":         "",
		"source_volid":        "",
		"volume_type":         "",
	}
	for key, want := range tests {
		got, err := r.GetAttribute(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	raw, err := r.GetAttribute(ctx, "metadata")
	require.NoError(t, err)
	var metadata map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw.(string)), &metadata))
	assert.Equal(t, map[string]string{"role": "db"}, metadata)

	createdAt, err := r.GetAttribute(ctx, "created_at")
	require.NoError(t, err)
	assert.NotEmpty(t, createdAt)

	_, err = r.GetAttribute(ctx, "color")
	assert.ErrorIs(t, err, engine.ErrInvalidAttribute)

	aws := awsVolume(t, c, map[string]any{"Size": 1, "AvailabilityZone": "nova"})
	_, err = aws.GetAttribute(ctx, "size")
	assert.ErrorIs(t, err, engine.ErrInvalidAttribute)
}

func TestVolumeDelete(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := awsVolume(t, c, map[string]any{"Size": 1, "AvailabilityZone": "nova"})
	created(t, r)
	id := r.ResourceID()
	c.Script(id, cloud.StatusAvailable, cloud.StatusDeleting, cloud.StatusDeleting, fake.Deleted)

	h, err := r.HandleDelete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Calls(fake.OpDeleteVolume))

	got := pollN(t, 3, func() (bool, error) { return r.CheckDeleteComplete(ctx, h) })
	assert.Equal(t, []bool{false, false, true}, got)

	_, exists := c.Volume(id)
	assert.False(t, exists)
	assert.Empty(t, r.ResourceID())
}

func TestVolumeDeleteAlreadyGone(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := awsVolume(t, c, map[string]any{"Size": 1, "AvailabilityZone": "nova"})
	created(t, r)
	c.Script(r.ResourceID(), fake.Deleted)

	h, err := r.HandleDelete(ctx)
	require.NoError(t, err)

	done, err := r.CheckDeleteComplete(ctx, h)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, c.Calls(fake.OpDeleteVolume))
	assert.Empty(t, r.ResourceID())
}

func TestVolumeDeleteNeverCreated(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := awsVolume(t, c, map[string]any{"Size": 1, "AvailabilityZone": "nova"})
	h, err := r.HandleDelete(ctx)
	require.NoError(t, err)

	done, err := r.CheckDeleteComplete(ctx, h)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, c.Calls(fake.OpGetVolume))
}

func TestVolumeDeleteInUse(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := cinderVolume(t, c, map[string]any{"size": 1})
	created(t, r)
	c.Script(r.ResourceID(), cloud.StatusInUse)

	_, err := r.HandleDelete(ctx)
	require.ErrorIs(t, err, engine.ErrPrecondition)
	assert.Contains(t, err.Error(), "Volume in use")
	assert.Zero(t, c.Calls(fake.OpDeleteVolume))
	assert.NotEmpty(t, r.ResourceID())
}

func TestVolumeDeleteProviderFailure(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := cinderVolume(t, c, map[string]any{"size": 1})
	created(t, r)
	c.Fail(fake.OpDeleteVolume, cloud.NewTransport(fake.OpDeleteVolume, errors.New("connection reset")))

	_, err := r.HandleDelete(ctx)
	require.ErrorIs(t, err, cloud.ErrTransport)
	assert.NotEmpty(t, r.ResourceID())
}

func snapshotDeleter(t *testing.T, r engine.Resource) engine.SnapshotDeleter {
	t.Helper()
	sd, ok := r.(engine.SnapshotDeleter)
	require.True(t, ok)
	return sd
}

func TestVolumeSnapshotDelete(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := cinderVolume(t, c, map[string]any{"size": 1})
	created(t, r)
	c.OnBackup(cloud.StatusCreating, cloud.StatusAvailable)

	prev := engine.State{Action: engine.ActionCreate, Status: engine.StatusComplete}
	h, err := snapshotDeleter(t, r).HandleSnapshotDelete(ctx, prev)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Calls(fake.OpCreateBackup))
	assert.Zero(t, c.Calls(fake.OpDeleteVolume))

	got := pollN(t, 3, func() (bool, error) { return r.CheckDeleteComplete(ctx, h) })
	assert.Equal(t, []bool{false, false, true}, got)
	assert.Equal(t, 2, c.Calls(fake.OpGetBackup))
	assert.Equal(t, 1, c.Calls(fake.OpDeleteVolume))
	assert.Empty(t, r.ResourceID())
}

func TestVolumeSnapshotDeleteAfterFailure(t *testing.T) {
	for _, action := range []engine.Action{engine.ActionCreate, engine.ActionUpdate} {
		t.Run(string(action), func(t *testing.T) {
			c := fake.New()
			ctx := context.Background()

			r := cinderVolume(t, c, map[string]any{"size": 1})
			created(t, r)

			prev := engine.State{Action: action, Status: engine.StatusFailed}
			h, err := snapshotDeleter(t, r).HandleSnapshotDelete(ctx, prev)
			require.NoError(t, err)
			pollUntilDone(t, func() (bool, error) { return r.CheckDeleteComplete(ctx, h) })

			assert.Zero(t, c.Calls(fake.OpCreateBackup))
			assert.Equal(t, 1, c.Calls(fake.OpDeleteVolume))
		})
	}
}

func TestVolumeSnapshotDeleteBackupFails(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := cinderVolume(t, c, map[string]any{"size": 1})
	created(t, r)
	c.OnBackup(cloud.StatusError)

	h, err := snapshotDeleter(t, r).HandleSnapshotDelete(ctx, engine.State{Action: engine.ActionCreate, Status: engine.StatusComplete})
	require.NoError(t, err)

	_, err = r.CheckDeleteComplete(ctx, h)
	require.ErrorIs(t, err, engine.ErrUnexpectedState)
	assert.Zero(t, c.Calls(fake.OpDeleteVolume))
	assert.NotEmpty(t, r.ResourceID())
}

func TestVolumeSnapshotDeleteVolumeVanishes(t *testing.T) {
	c := fake.New()
	ctx := context.Background()

	r := cinderVolume(t, c, map[string]any{"size": 1})
	created(t, r)
	c.Fail(fake.OpCreateBackup, cloud.NewNotFound(fake.OpCreateBackup, r.ResourceID()))

	h, err := snapshotDeleter(t, r).HandleSnapshotDelete(ctx, engine.State{Action: engine.ActionCreate, Status: engine.StatusComplete})
	require.NoError(t, err)

	done, err := r.CheckDeleteComplete(ctx, h)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, c.Calls(fake.OpDeleteVolume))
	assert.Empty(t, r.ResourceID())
}
