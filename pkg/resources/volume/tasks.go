package volume

import (
	"context"
	"fmt"

	"github.com/openfroyo/stacker/pkg/cloud"
	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/scheduler"
	"github.com/openfroyo/stacker/pkg/telemetry"
)

// AttachTask attaches a volume to a server and waits until the volume is in
// use. The attachment id is known as soon as the first step returns.
type AttachTask struct {
	client cloud.Client
	logger *telemetry.Logger

	serverID string
	volumeID string
	device   string

	attachmentID string
	requested    bool
}

var _ scheduler.Task = (*AttachTask)(nil)

// NewAttachTask creates a task attaching volumeID to serverID at device.
func NewAttachTask(client cloud.Client, logger *telemetry.Logger, serverID, volumeID, device string) *AttachTask {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &AttachTask{
		client:   client,
		logger:   logger,
		serverID: serverID,
		volumeID: volumeID,
		device:   device,
	}
}

// AttachmentID returns the id of the attachment once the request succeeded.
func (t *AttachTask) AttachmentID() string { return t.attachmentID }

func (t *AttachTask) String() string {
	return fmt.Sprintf("Attaching Volume %s to Instance %s as %s", t.volumeID, t.serverID, t.device)
}

// Step implements scheduler.Task.
func (t *AttachTask) Step(ctx context.Context) (bool, error) {
	if !t.requested {
		t.requested = true
		t.logger.Debug(t.String())

		att, err := t.client.AttachVolume(ctx, t.serverID, t.volumeID, t.device)
		if err != nil {
			return false, err
		}
		t.attachmentID = att.ID
		return false, nil
	}

	vol, err := t.client.GetVolume(ctx, t.volumeID)
	if err != nil {
		return false, err
	}

	switch vol.Status {
	case cloud.StatusAvailable, cloud.StatusAttaching:
		t.logger.Debugf("%s - volume status: %s", t, vol.Status)
		return false, nil
	case cloud.StatusInUse:
		t.logger.Infof("%s - complete", t)
		return true, nil
	default:
		return false, engine.NewUnexpectedStateError(vol.Status).WithOperation("attach")
	}
}

// DetachTask detaches a volume from a server and waits until the volume is
// available again. The detach request is repeated on every step while the
// volume is still attached; requests rejected because the attachment is
// already gone are ignored. A volume that no longer exists counts as detached.
type DetachTask struct {
	client cloud.Client
	logger *telemetry.Logger

	serverID string
	volumeID string

	started bool
	retry   bool
}

var _ scheduler.Task = (*DetachTask)(nil)

// NewDetachTask creates a task detaching volumeID from serverID.
func NewDetachTask(client cloud.Client, logger *telemetry.Logger, serverID, volumeID string) *DetachTask {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &DetachTask{
		client:   client,
		logger:   logger,
		serverID: serverID,
		volumeID: volumeID,
	}
}

func (t *DetachTask) String() string {
	return fmt.Sprintf("Detaching Volume %s from Instance %s", t.volumeID, t.serverID)
}

// Step implements scheduler.Task.
func (t *DetachTask) Step(ctx context.Context) (bool, error) {
	if !t.started {
		t.started = true
		t.logger.Debug(t.String())

		_, err := t.client.GetVolume(ctx, t.volumeID)
		switch cloud.Classify(err) {
		case cloud.OutcomeNotFound:
			t.logger.Warnf("%s - volume not found", t)
			return true, nil
		case cloud.OutcomeFailure:
			return false, err
		}
		return false, t.detach(ctx)
	}

	if t.retry {
		if err := t.detach(ctx); err != nil {
			return false, err
		}
	}

	vol, err := t.client.GetVolume(ctx, t.volumeID)
	switch cloud.Classify(err) {
	case cloud.OutcomeNotFound:
		t.logger.Warnf("%s - volume not found", t)
		return true, nil
	case cloud.OutcomeFailure:
		return false, err
	}

	switch vol.Status {
	case cloud.StatusInUse, cloud.StatusDetaching:
		t.logger.Debugf("%s - volume still in use", t)
		t.retry = true
		return false, nil
	case cloud.StatusAvailable:
		t.logger.Infof("%s - status: %s", t, vol.Status)
		return true, nil
	default:
		return false, engine.NewUnexpectedStateError(vol.Status).WithOperation("detach")
	}
}

func (t *DetachTask) detach(ctx context.Context) error {
	err := t.client.DetachVolume(ctx, t.serverID, t.volumeID)
	if err != nil && cloud.IgnorableDetachError(err) {
		t.logger.WithError(err).Debugf("%s - detach request ignored", t)
		return nil
	}
	return err
}

// backupTask backs up the volume and waits for the backup to become
// available. A volume that vanished before the backup started is reported
// through gone rather than as a failure.
func (v *Volume) backupTask() (scheduler.Task, *bool) {
	gone := new(bool)
	volumeID := v.ResourceID()
	var backupID string

	check := func(b *cloud.Backup) (bool, error) {
		switch b.Status {
		case cloud.StatusCreating:
			return false, nil
		case cloud.StatusAvailable:
			v.Logger().WithField("backup_id", b.ID).Info("volume backed up")
			return true, nil
		default:
			return false, engine.NewUnexpectedStateError(b.Status).
				WithResource(v.Name()).
				WithOperation("backup")
		}
	}

	begin := func(ctx context.Context) (bool, error) {
		b, err := v.client.CreateBackup(ctx, volumeID)
		switch cloud.Classify(err) {
		case cloud.OutcomeNotFound:
			*gone = true
			return true, nil
		case cloud.OutcomeFailure:
			return false, err
		}
		backupID = b.ID
		return check(b)
	}

	poll := func(ctx context.Context) (bool, error) {
		b, err := v.client.GetBackup(ctx, backupID)
		if err != nil {
			return false, err
		}
		return check(b)
	}

	desc := fmt.Sprintf("Backing up volume %s", volumeID)
	return scheduler.Func(desc, scheduler.NewPollTask(begin, poll).Step), gone
}

// removeTask deletes the volume and waits until the provider no longer knows
// it. A volume that is already gone is treated as deleted.
func (v *Volume) removeTask() scheduler.Task {
	volumeID := v.ResourceID()

	gone := func(ctx context.Context) (bool, error) {
		return true, v.ClearResourceID(ctx)
	}

	begin := func(ctx context.Context) (bool, error) {
		if volumeID == "" {
			return true, nil
		}

		vol, err := v.client.GetVolume(ctx, volumeID)
		switch cloud.Classify(err) {
		case cloud.OutcomeNotFound:
			return gone(ctx)
		case cloud.OutcomeFailure:
			return false, err
		}

		if vol.Status == cloud.StatusInUse {
			v.Logger().Warn("cannot delete volume while in use")
			return false, engine.NewPreconditionError("Volume in use").
				WithResource(v.Name()).
				WithOperation("delete")
		}

		switch err := v.client.DeleteVolume(ctx, volumeID); cloud.Classify(err) {
		case cloud.OutcomeNotFound:
			return gone(ctx)
		case cloud.OutcomeFailure:
			return false, err
		}
		return false, nil
	}

	poll := func(ctx context.Context) (bool, error) {
		_, err := v.client.GetVolume(ctx, volumeID)
		switch cloud.Classify(err) {
		case cloud.OutcomeNotFound:
			return gone(ctx)
		case cloud.OutcomeFailure:
			return false, err
		}
		return false, nil
	}

	desc := fmt.Sprintf("Deleting volume %s", volumeID)
	return scheduler.Func(desc, scheduler.NewPollTask(begin, poll).Step)
}

// deleteTask deletes the volume, backing it up first when backup is set.
func (v *Volume) deleteTask(backup bool) scheduler.Task {
	if !backup {
		return v.removeTask()
	}

	var gone *bool
	stage := 0
	return scheduler.Wrap(fmt.Sprintf("Backing up and deleting volume %s", v.ResourceID()),
		func(ctx context.Context) (scheduler.Task, error) {
			stage++
			switch stage {
			case 1:
				id := v.ResourceID()
				if id == "" {
					return nil, nil
				}
				_, err := v.client.GetVolume(ctx, id)
				switch cloud.Classify(err) {
				case cloud.OutcomeNotFound:
					return nil, v.ClearResourceID(ctx)
				case cloud.OutcomeFailure:
					return nil, err
				}
				var task scheduler.Task
				task, gone = v.backupTask()
				return task, nil
			case 2:
				if *gone {
					return nil, v.ClearResourceID(ctx)
				}
				return v.removeTask(), nil
			default:
				return nil, nil
			}
		})
}
