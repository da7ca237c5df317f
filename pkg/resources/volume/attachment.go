package volume

import (
	"context"

	"github.com/openfroyo/stacker/pkg/cloud"
	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/template"
)

// AWSAttachmentProperties are the properties of AWS::EC2::VolumeAttachment.
type AWSAttachmentProperties struct {
	InstanceID string `yaml:"InstanceId" validate:"required"`
	VolumeID   string `yaml:"VolumeId" validate:"required"`
	Device     string `yaml:"Device" validate:"required,device"`
}

// CinderAttachmentProperties are the properties of
// OS::Cinder::VolumeAttachment.
type CinderAttachmentProperties struct {
	InstanceUUID string `yaml:"instance_uuid" validate:"required"`
	VolumeID     string `yaml:"volume_id" validate:"required"`
	Mountpoint   string `yaml:"mountpoint" validate:"required"`
}

// Attachment attaches a volume to a server. Its resource id is the
// attachment id reported by the provider.
type Attachment struct {
	engine.Base

	client   cloud.Client
	serverID string
	volumeID string
	device   string
}

var _ engine.Resource = (*Attachment)(nil)

// NewAWSAttachment is the engine.Factory for AWS::EC2::VolumeAttachment.
func NewAWSAttachment(def *template.Definition, scope engine.Scope) (engine.Resource, error) {
	var props AWSAttachmentProperties
	if err := template.DecodeProperties(def.Properties, &props); err != nil {
		return nil, err
	}
	return newAttachment(def, scope, props.InstanceID, props.VolumeID, props.Device)
}

// NewCinderAttachment is the engine.Factory for OS::Cinder::VolumeAttachment.
func NewCinderAttachment(def *template.Definition, scope engine.Scope) (engine.Resource, error) {
	var props CinderAttachmentProperties
	if err := template.DecodeProperties(def.Properties, &props); err != nil {
		return nil, err
	}
	return newAttachment(def, scope, props.InstanceUUID, props.VolumeID, props.Mountpoint)
}

func newAttachment(def *template.Definition, scope engine.Scope, serverID, volumeID, device string) (*Attachment, error) {
	a := &Attachment{
		Base:     engine.NewBase(def, scope),
		serverID: serverID,
		volumeID: volumeID,
		device:   device,
	}
	a.client = a.Services().Cloud
	if a.client == nil {
		return nil, engine.NewConfigurationError("no cloud client configured", nil).WithResource(def.Name)
	}
	return a, nil
}

// HandleCreate issues the attach request and records the attachment id
// before returning the runner that waits for the volume to be in use.
func (a *Attachment) HandleCreate(ctx context.Context) (engine.Handle, error) {
	task := NewAttachTask(a.client, a.Logger(), a.serverID, a.volumeID, a.device)
	runner := a.NewRunner(task)
	if err := runner.Start(ctx); err != nil {
		return nil, err
	}
	if err := a.SetResourceID(ctx, task.AttachmentID()); err != nil {
		return nil, err
	}
	return runner, nil
}

// CheckCreateComplete advances the attach task by one step.
func (a *Attachment) CheckCreateComplete(ctx context.Context, h engine.Handle) (bool, error) {
	return engine.StepRunner(ctx, h)
}

// HandleDelete issues the detach request and returns the runner that waits
// for the volume to become available.
func (a *Attachment) HandleDelete(ctx context.Context) (engine.Handle, error) {
	runner := a.NewRunner(NewDetachTask(a.client, a.Logger(), a.serverID, a.volumeID))
	if err := runner.Start(ctx); err != nil {
		return nil, err
	}
	return runner, nil
}

// CheckDeleteComplete advances the detach task by one step. The attachment id
// is forgotten once the volume is detached.
func (a *Attachment) CheckDeleteComplete(ctx context.Context, h engine.Handle) (bool, error) {
	done, err := engine.StepRunner(ctx, h)
	if err != nil || !done {
		return done, err
	}
	return true, a.ClearResourceID(ctx)
}
