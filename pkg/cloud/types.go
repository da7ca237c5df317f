package cloud

import (
	"context"
	"time"
)

// Volume status values reported by block storage.
const (
	StatusCreating        = "creating"
	StatusRestoringBackup = "restoring-backup"
	StatusDownloading     = "downloading"
	StatusAvailable       = "available"
	StatusAttaching       = "attaching"
	StatusInUse           = "in-use"
	StatusDetaching       = "detaching"
	StatusDeleting        = "deleting"
	StatusBackingUp       = "backing-up"
	StatusError           = "error"
)

// Volume is a block storage volume as reported by the provider.
type Volume struct {
	ID               string
	Name             string
	Description      string
	Status           string
	Size             int
	AvailabilityZone string
	VolumeType       string
	SnapshotID       string
	SourceVolID      string
	ImageRef         string
	Bootable         bool
	Metadata         map[string]string
	CreatedAt        time.Time
}

// CreateVolumeRequest describes a new volume. Zero fields are omitted from the
// provider request.
type CreateVolumeRequest struct {
	Size             int
	AvailabilityZone string
	Name             string
	Description      string
	VolumeType       string
	SnapshotID       string
	SourceVolID      string
	ImageRef         string
	Metadata         map[string]string
}

// Backup is a volume backup.
type Backup struct {
	ID       string
	VolumeID string
	Status   string
}

// Attachment links a volume to a server at a device path.
type Attachment struct {
	ID       string
	ServerID string
	VolumeID string
	Device   string
}

// Image is a bootable image known to the provider.
type Image struct {
	ID   string
	Name string
}

// Volumes manages block storage volumes.
type Volumes interface {
	CreateVolume(ctx context.Context, req CreateVolumeRequest) (*Volume, error)
	GetVolume(ctx context.Context, id string) (*Volume, error)
	UpdateVolume(ctx context.Context, id, name, description string) error
	DeleteVolume(ctx context.Context, id string) error
}

// Backups manages volume backups.
type Backups interface {
	CreateBackup(ctx context.Context, volumeID string) (*Backup, error)
	GetBackup(ctx context.Context, id string) (*Backup, error)
	// RestoreBackup restores a backup into a new volume and returns its id.
	RestoreBackup(ctx context.Context, backupID string) (string, error)
}

// ServerVolumes attaches volumes to servers.
type ServerVolumes interface {
	AttachVolume(ctx context.Context, serverID, volumeID, device string) (*Attachment, error)
	DetachVolume(ctx context.Context, serverID, volumeID string) error
}

// Images looks up images by name or id.
type Images interface {
	FindImage(ctx context.Context, nameOrID string) (*Image, error)
}

// Client is the full set of provider capabilities.
type Client interface {
	Volumes
	Backups
	ServerVolumes
	Images
}
