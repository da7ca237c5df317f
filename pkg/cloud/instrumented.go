package cloud

import (
	"context"

	"github.com/openfroyo/stacker/pkg/telemetry"
)

// Instrumented decorates a Client with a span, a latency histogram and an
// error counter per call.
type Instrumented struct {
	next Client
	tel  *telemetry.Telemetry
}

// Instrument wraps c. A nil tel returns c unchanged.
func Instrument(c Client, tel *telemetry.Telemetry) Client {
	if tel == nil {
		return c
	}
	return &Instrumented{next: c, tel: tel}
}

func (i *Instrumented) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return i.tel.ObserveProviderCall(ctx, op, errorKind, fn)
}

func errorKind(err error) string {
	return string(KindOf(err))
}

// CreateVolume implements Volumes.
func (i *Instrumented) CreateVolume(ctx context.Context, req CreateVolumeRequest) (*Volume, error) {
	var v *Volume
	err := i.observe(ctx, "create_volume", func(ctx context.Context) (err error) {
		v, err = i.next.CreateVolume(ctx, req)
		return err
	})
	return v, err
}

// GetVolume implements Volumes.
func (i *Instrumented) GetVolume(ctx context.Context, id string) (*Volume, error) {
	var v *Volume
	err := i.observe(ctx, "get_volume", func(ctx context.Context) (err error) {
		v, err = i.next.GetVolume(ctx, id)
		return err
	})
	return v, err
}

// UpdateVolume implements Volumes.
func (i *Instrumented) UpdateVolume(ctx context.Context, id, name, description string) error {
	return i.observe(ctx, "update_volume", func(ctx context.Context) error {
		return i.next.UpdateVolume(ctx, id, name, description)
	})
}

// DeleteVolume implements Volumes.
func (i *Instrumented) DeleteVolume(ctx context.Context, id string) error {
	return i.observe(ctx, "delete_volume", func(ctx context.Context) error {
		return i.next.DeleteVolume(ctx, id)
	})
}

// CreateBackup implements Backups.
func (i *Instrumented) CreateBackup(ctx context.Context, volumeID string) (*Backup, error) {
	var b *Backup
	err := i.observe(ctx, "create_backup", func(ctx context.Context) (err error) {
		b, err = i.next.CreateBackup(ctx, volumeID)
		return err
	})
	return b, err
}

// GetBackup implements Backups.
func (i *Instrumented) GetBackup(ctx context.Context, id string) (*Backup, error) {
	var b *Backup
	err := i.observe(ctx, "get_backup", func(ctx context.Context) (err error) {
		b, err = i.next.GetBackup(ctx, id)
		return err
	})
	return b, err
}

// RestoreBackup implements Backups.
func (i *Instrumented) RestoreBackup(ctx context.Context, backupID string) (string, error) {
	var id string
	err := i.observe(ctx, "restore_backup", func(ctx context.Context) (err error) {
		id, err = i.next.RestoreBackup(ctx, backupID)
		return err
	})
	return id, err
}

// AttachVolume implements ServerVolumes.
func (i *Instrumented) AttachVolume(ctx context.Context, serverID, volumeID, device string) (*Attachment, error) {
	var a *Attachment
	err := i.observe(ctx, "attach_volume", func(ctx context.Context) (err error) {
		a, err = i.next.AttachVolume(ctx, serverID, volumeID, device)
		return err
	})
	return a, err
}

// DetachVolume implements ServerVolumes.
func (i *Instrumented) DetachVolume(ctx context.Context, serverID, volumeID string) error {
	return i.observe(ctx, "detach_volume", func(ctx context.Context) error {
		return i.next.DetachVolume(ctx, serverID, volumeID)
	})
}

// FindImage implements Images.
func (i *Instrumented) FindImage(ctx context.Context, nameOrID string) (*Image, error) {
	var img *Image
	err := i.observe(ctx, "find_image", func(ctx context.Context) (err error) {
		img, err = i.next.FindImage(ctx, nameOrID)
		return err
	})
	return img, err
}
