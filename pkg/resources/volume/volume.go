package volume

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/openfroyo/stacker/pkg/cloud"
	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/template"
)

// Resource type names.
const (
	TypeAWSVolume              = "AWS::EC2::Volume"
	TypeAWSVolumeAttachment    = "AWS::EC2::VolumeAttachment"
	TypeCinderVolume           = "OS::Cinder::Volume"
	TypeCinderVolumeAttachment = "OS::Cinder::VolumeAttachment"
)

// Tag is a key/value pair attached to an AWS volume as metadata.
type Tag struct {
	Key   string `yaml:"Key" validate:"required"`
	Value string `yaml:"Value" validate:"required"`
}

// AWSVolumeProperties are the properties of AWS::EC2::Volume.
type AWSVolumeProperties struct {
	// AvailabilityZone is the zone the volume is created in.
	AvailabilityZone string `yaml:"AvailabilityZone" validate:"required"`

	// Size is the size of the volume in GB.
	Size int `yaml:"Size" validate:"omitempty,min=1"`

	// SnapshotID names the backup to restore the volume from.
	SnapshotID string `yaml:"SnapshotId"`

	// Tags become volume metadata.
	Tags []Tag `yaml:"Tags" validate:"omitempty,dive"`
}

// CinderVolumeProperties are the properties of OS::Cinder::Volume.
type CinderVolumeProperties struct {
	AvailabilityZone string            `yaml:"availability_zone"`
	Size             int               `yaml:"size" validate:"omitempty,min=1"`
	SnapshotID       string            `yaml:"snapshot_id"`
	BackupID         string            `yaml:"backup_id"`
	Name             string            `yaml:"name"`
	Description      string            `yaml:"description"`
	VolumeType       string            `yaml:"volume_type"`
	Metadata         map[string]string `yaml:"metadata"`
	Image            string            `yaml:"image"`
	SourceVolID      string            `yaml:"source_volid"`

	// ImageRef is the deprecated spelling of Image.
	ImageRef string `yaml:"imageRef"`
}

// Volume is a block storage volume. The AWS and Cinder types share its
// lifecycle and differ in how the create request is built.
type Volume struct {
	engine.Base

	client cloud.Client

	// backupID is the restore source; empty for a plain create.
	backupID string

	// name and description are applied to the volume.
	name        string
	description string

	// creating lists the statuses that mean the create is still running.
	creating []string

	// request builds the create request for a plain create.
	request func(ctx context.Context) (cloud.CreateVolumeRequest, error)
}

var (
	_ engine.Resource        = (*Volume)(nil)
	_ engine.SnapshotDeleter = (*Volume)(nil)
)

// CinderVolume is an OS::Cinder::Volume. It adds live attributes to Volume.
type CinderVolume struct {
	Volume
}

// NewAWSVolume is the engine.Factory for AWS::EC2::Volume.
func NewAWSVolume(def *template.Definition, scope engine.Scope) (engine.Resource, error) {
	var props AWSVolumeProperties
	if err := template.DecodeProperties(def.Properties, &props); err != nil {
		return nil, err
	}

	v := &Volume{}
	if err := v.init(def, scope); err != nil {
		return nil, err
	}

	v.backupID = props.SnapshotID
	v.name = v.PhysicalName()
	v.description = v.PhysicalName()
	v.creating = []string{cloud.StatusCreating}
	if v.backupID != "" {
		v.creating = append(v.creating, cloud.StatusRestoringBackup)
	}

	var metadata map[string]string
	if len(props.Tags) > 0 {
		metadata = make(map[string]string, len(props.Tags))
		for _, tag := range props.Tags {
			metadata[tag.Key] = tag.Value
		}
	}

	v.request = func(context.Context) (cloud.CreateVolumeRequest, error) {
		return cloud.CreateVolumeRequest{
			Size:             props.Size,
			AvailabilityZone: props.AvailabilityZone,
			Name:             v.name,
			Description:      v.description,
			Metadata:         metadata,
		}, nil
	}
	return v, nil
}

// NewCinderVolume is the engine.Factory for OS::Cinder::Volume.
func NewCinderVolume(def *template.Definition, scope engine.Scope) (engine.Resource, error) {
	var props CinderVolumeProperties
	if err := template.DecodeProperties(def.Properties, &props); err != nil {
		return nil, err
	}

	cv := &CinderVolume{}
	v := &cv.Volume
	if err := v.init(def, scope); err != nil {
		return nil, err
	}

	v.backupID = props.BackupID
	v.name = props.Name
	if v.name == "" {
		v.name = v.PhysicalName()
	}
	v.description = props.Description
	v.creating = []string{cloud.StatusCreating, cloud.StatusRestoringBackup, cloud.StatusDownloading}

	v.request = func(ctx context.Context) (cloud.CreateVolumeRequest, error) {
		req := cloud.CreateVolumeRequest{
			Size:             props.Size,
			AvailabilityZone: props.AvailabilityZone,
			Name:             v.name,
			Description:      v.description,
			VolumeType:       props.VolumeType,
			SnapshotID:       props.SnapshotID,
			SourceVolID:      props.SourceVolID,
			Metadata:         props.Metadata,
			ImageRef:         props.ImageRef,
		}
		if props.Image != "" {
			img, err := v.client.FindImage(ctx, props.Image)
			if cloud.Classify(err) == cloud.OutcomeNotFound {
				return req, engine.NewConfigurationError(fmt.Sprintf("image %q not found", props.Image), err)
			}
			if err != nil {
				return req, err
			}
			req.ImageRef = img.ID
		}
		return req, nil
	}
	return cv, nil
}

func (v *Volume) init(def *template.Definition, scope engine.Scope) error {
	v.Base = engine.NewBase(def, scope)
	v.client = v.Services().Cloud
	if v.client == nil {
		return engine.NewConfigurationError("no cloud client configured", nil).WithResource(def.Name)
	}
	return nil
}

// HandleCreate restores the volume from a backup or creates it, and records
// its id before returning.
func (v *Volume) HandleCreate(ctx context.Context) (engine.Handle, error) {
	if v.backupID != "" {
		id, err := v.client.RestoreBackup(ctx, v.backupID)
		if err != nil {
			return nil, err
		}
		if err := v.SetResourceID(ctx, id); err != nil {
			return nil, err
		}
		if err := v.client.UpdateVolume(ctx, id, v.name, v.description); err != nil {
			return nil, err
		}
		v.Logger().WithField("backup_id", v.backupID).Info("restoring volume from backup")
		return id, nil
	}

	req, err := v.request(ctx)
	if err != nil {
		return nil, err
	}
	vol, err := v.client.CreateVolume(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := v.SetResourceID(ctx, vol.ID); err != nil {
		return nil, err
	}
	v.Logger().Infof("creating volume of %d GB", req.Size)
	return vol.ID, nil
}

// CheckCreateComplete polls the volume status once.
func (v *Volume) CheckCreateComplete(ctx context.Context, _ engine.Handle) (bool, error) {
	vol, err := v.client.GetVolume(ctx, v.ResourceID())
	if err != nil {
		return false, err
	}

	switch {
	case vol.Status == cloud.StatusAvailable:
		return true, nil
	case slices.Contains(v.creating, vol.Status):
		return false, nil
	default:
		return false, engine.NewUnexpectedStateError(vol.Status).
			WithResource(v.Name()).
			WithOperation("create")
	}
}

// HandleDelete starts deleting the volume.
func (v *Volume) HandleDelete(ctx context.Context) (engine.Handle, error) {
	return v.startDelete(ctx, false)
}

// HandleSnapshotDelete backs the volume up before deleting it, unless the
// last create or update failed and there is nothing worth keeping.
func (v *Volume) HandleSnapshotDelete(ctx context.Context, prev engine.State) (engine.Handle, error) {
	backup := prev != engine.State{Action: engine.ActionCreate, Status: engine.StatusFailed} &&
		prev != engine.State{Action: engine.ActionUpdate, Status: engine.StatusFailed}
	return v.startDelete(ctx, backup)
}

func (v *Volume) startDelete(ctx context.Context, backup bool) (engine.Handle, error) {
	runner := v.NewRunner(v.deleteTask(backup))
	if err := runner.Start(ctx); err != nil {
		return nil, err
	}
	return runner, nil
}

// CheckDeleteComplete advances the delete task by one step.
func (v *Volume) CheckDeleteComplete(ctx context.Context, h engine.Handle) (bool, error) {
	return engine.StepRunner(ctx, h)
}

// GetAttribute reads the attribute from the live volume.
func (v *CinderVolume) GetAttribute(ctx context.Context, key string) (any, error) {
	if !slices.Contains(cinderAttributes, key) {
		return nil, engine.NewInvalidAttributeError(v.Name(), key)
	}

	vol, err := v.client.GetVolume(ctx, v.ResourceID())
	if err != nil {
		return nil, err
	}

	switch key {
	case "availability_zone":
		return vol.AvailabilityZone, nil
	case "size":
		return strconv.Itoa(vol.Size), nil
	case "snapshot_id":
		return vol.SnapshotID, nil
	case "display_name":
		return vol.Name, nil
	case "display_description":
		return vol.Description, nil
	case "volume_type":
		return vol.VolumeType, nil
	case "metadata":
		data, err := json.Marshal(vol.Metadata)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "source_volid":
		return vol.SourceVolID, nil
	case "status":
		return vol.Status, nil
	case "created_at":
		return vol.CreatedAt.Format(time.RFC3339), nil
	default:
		return strconv.FormatBool(vol.Bootable), nil
	}
}

var cinderAttributes = []string{
	"availability_zone",
	"size",
	"snapshot_id",
	"display_name",
	"display_description",
	"volume_type",
	"metadata",
	"source_volid",
	"status",
	"created_at",
	"bootable",
}
