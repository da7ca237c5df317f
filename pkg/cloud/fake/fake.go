// Package fake provides an in-memory cloud.Client whose volume and backup
// status transitions can be scripted.
//
// Every GetVolume call consumes the next scripted status of that volume. When a
// volume has no scripted statuses left its status stays put. Operations that
// start an asynchronous transition (create, attach, detach, delete, backup)
// queue the provider's usual transition only when nothing is scripted, so tests
// can override them with Script or OnCreate.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/stacker/pkg/cloud"
)

// Deleted is a scripted status that removes the volume when consumed.
const Deleted = "<deleted>"

// Operation names accepted by Fail and Calls.
const (
	OpCreateVolume  = "create_volume"
	OpGetVolume     = "get_volume"
	OpUpdateVolume  = "update_volume"
	OpDeleteVolume  = "delete_volume"
	OpCreateBackup  = "create_backup"
	OpGetBackup     = "get_backup"
	OpRestoreBackup = "restore_backup"
	OpAttachVolume  = "attach_volume"
	OpDetachVolume  = "detach_volume"
	OpFindImage     = "find_image"
)

type volumeState struct {
	volume  cloud.Volume
	pending []string
}

type backupState struct {
	backup  cloud.Backup
	pending []string
}

// Cloud is an in-memory cloud.Client. It is safe for concurrent use.
type Cloud struct {
	mu sync.Mutex

	volumes     map[string]*volumeState
	backups     map[string]*backupState
	attachments map[string]cloud.Attachment
	images      map[string]cloud.Image

	createScripts [][]string
	backupScripts [][]string
	failures      map[string][]error
	calls         map[string]int
	now           func() time.Time
}

var _ cloud.Client = (*Cloud)(nil)

// New returns an empty cloud.
func New() *Cloud {
	return &Cloud{
		volumes:     make(map[string]*volumeState),
		backups:     make(map[string]*backupState),
		attachments: make(map[string]cloud.Attachment),
		images:      make(map[string]cloud.Image),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
		now:         time.Now,
	}
}

// AddVolume seeds an existing volume and returns its id. An empty ID is
// generated and an empty status defaults to available.
func (c *Cloud) AddVolume(v cloud.Volume) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = cloud.StatusAvailable
	}
	c.volumes[v.ID] = &volumeState{volume: v}
	return v.ID
}

// AddImage registers an image that FindImage can resolve by name or id.
func (c *Cloud) AddImage(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	img := cloud.Image{ID: uuid.NewString(), Name: name}
	c.images[img.ID] = img
	return img.ID
}

// AddBackup seeds a completed backup of a volume that may no longer exist.
func (c *Cloud) AddBackup(volume cloud.Volume) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := cloud.Backup{ID: uuid.NewString(), VolumeID: volume.ID, Status: cloud.StatusAvailable}
	c.backups[b.ID] = &backupState{backup: b}
	return b.ID
}

// OnCreate scripts the statuses observed by polls of the next created or
// restored volume. Calls queue up for successive creations.
func (c *Cloud) OnCreate(statuses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createScripts = append(c.createScripts, statuses)
}

// OnBackup scripts the statuses observed by polls of the next backup.
func (c *Cloud) OnBackup(statuses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backupScripts = append(c.backupScripts, statuses)
}

// Script replaces the pending statuses of an existing volume.
func (c *Cloud) Script(id string, statuses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.volumes[id]; ok {
		st.pending = append([]string(nil), statuses...)
	}
}

// Fail makes the next calls of op return errs, one per call, before the
// operation takes effect.
func (c *Cloud) Fail(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], errs...)
}

// Calls returns how many times op has been called.
func (c *Cloud) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Volume returns a copy of a volume without consuming scripted statuses.
func (c *Cloud) Volume(id string) (cloud.Volume, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.volumes[id]
	if !ok {
		return cloud.Volume{}, false
	}
	return copyVolume(st.volume), true
}

// VolumeIDs returns the ids of all volumes.
func (c *Cloud) VolumeIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.volumes))
	for id := range c.volumes {
		ids = append(ids, id)
	}
	return ids
}

// Attachment returns the attachment recorded for a volume.
func (c *Cloud) Attachment(volumeID string) (cloud.Attachment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attachments[volumeID]
	return a, ok
}

// call counts op and pops an injected failure. Must hold c.mu.
func (c *Cloud) call(op string) error {
	c.calls[op]++
	errs := c.failures[op]
	if len(errs) == 0 {
		return nil
	}
	c.failures[op] = errs[1:]
	return errs[0]
}

func (c *Cloud) nextCreateScript(defaults ...string) []string {
	if len(c.createScripts) == 0 {
		return defaults
	}
	s := c.createScripts[0]
	c.createScripts = c.createScripts[1:]
	return s
}

// CreateVolume implements cloud.Volumes.
func (c *Cloud) CreateVolume(_ context.Context, req cloud.CreateVolumeRequest) (*cloud.Volume, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpCreateVolume); err != nil {
		return nil, err
	}
	if req.Size <= 0 && req.SnapshotID == "" && req.SourceVolID == "" && req.ImageRef == "" {
		return nil, cloud.NewBadRequest(OpCreateVolume, "", errors.New("size is required"))
	}

	v := cloud.Volume{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Description:      req.Description,
		Status:           cloud.StatusCreating,
		Size:             req.Size,
		AvailabilityZone: req.AvailabilityZone,
		VolumeType:       req.VolumeType,
		SnapshotID:       req.SnapshotID,
		SourceVolID:      req.SourceVolID,
		ImageRef:         req.ImageRef,
		Bootable:         req.ImageRef != "",
		Metadata:         copyMetadata(req.Metadata),
		CreatedAt:        c.now().UTC(),
	}
	c.volumes[v.ID] = &volumeState{
		volume:  v,
		pending: c.nextCreateScript(cloud.StatusAvailable),
	}
	return &v, nil
}

// GetVolume implements cloud.Volumes.
func (c *Cloud) GetVolume(_ context.Context, id string) (*cloud.Volume, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpGetVolume); err != nil {
		return nil, err
	}

	st, ok := c.volumes[id]
	if !ok {
		return nil, cloud.NewNotFound(OpGetVolume, id)
	}
	if len(st.pending) > 0 {
		next := st.pending[0]
		st.pending = st.pending[1:]
		if next == Deleted {
			delete(c.volumes, id)
			delete(c.attachments, id)
			return nil, cloud.NewNotFound(OpGetVolume, id)
		}
		st.volume.Status = next
	}

	v := copyVolume(st.volume)
	return &v, nil
}

// UpdateVolume implements cloud.Volumes.
func (c *Cloud) UpdateVolume(_ context.Context, id, name, description string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpUpdateVolume); err != nil {
		return err
	}

	st, ok := c.volumes[id]
	if !ok {
		return cloud.NewNotFound(OpUpdateVolume, id)
	}
	st.volume.Name = name
	st.volume.Description = description
	return nil
}

// DeleteVolume implements cloud.Volumes.
func (c *Cloud) DeleteVolume(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpDeleteVolume); err != nil {
		return err
	}

	st, ok := c.volumes[id]
	if !ok {
		return cloud.NewNotFound(OpDeleteVolume, id)
	}
	if st.volume.Status == cloud.StatusInUse {
		return cloud.NewBadRequest(OpDeleteVolume, id, errors.New("volume is attached"))
	}
	st.volume.Status = cloud.StatusDeleting
	if len(st.pending) == 0 {
		st.pending = []string{Deleted}
	}
	return nil
}

// CreateBackup implements cloud.Backups.
func (c *Cloud) CreateBackup(_ context.Context, volumeID string) (*cloud.Backup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpCreateBackup); err != nil {
		return nil, err
	}

	if _, ok := c.volumes[volumeID]; !ok {
		return nil, cloud.NewNotFound(OpCreateBackup, volumeID)
	}

	pending := []string{cloud.StatusAvailable}
	if len(c.backupScripts) > 0 {
		pending = c.backupScripts[0]
		c.backupScripts = c.backupScripts[1:]
	}

	b := cloud.Backup{ID: uuid.NewString(), VolumeID: volumeID, Status: cloud.StatusCreating}
	c.backups[b.ID] = &backupState{backup: b, pending: pending}
	return &b, nil
}

// GetBackup implements cloud.Backups.
func (c *Cloud) GetBackup(_ context.Context, id string) (*cloud.Backup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpGetBackup); err != nil {
		return nil, err
	}

	st, ok := c.backups[id]
	if !ok {
		return nil, cloud.NewNotFound(OpGetBackup, id)
	}
	if len(st.pending) > 0 {
		st.backup.Status = st.pending[0]
		st.pending = st.pending[1:]
	}
	b := st.backup
	return &b, nil
}

// RestoreBackup implements cloud.Backups.
func (c *Cloud) RestoreBackup(_ context.Context, backupID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpRestoreBackup); err != nil {
		return "", err
	}

	if _, ok := c.backups[backupID]; !ok {
		return "", cloud.NewNotFound(OpRestoreBackup, backupID)
	}

	v := cloud.Volume{
		ID:        uuid.NewString(),
		Status:    cloud.StatusRestoringBackup,
		CreatedAt: c.now().UTC(),
	}
	c.volumes[v.ID] = &volumeState{
		volume:  v,
		pending: c.nextCreateScript(cloud.StatusAvailable),
	}
	return v.ID, nil
}

// AttachVolume implements cloud.ServerVolumes.
func (c *Cloud) AttachVolume(_ context.Context, serverID, volumeID, device string) (*cloud.Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpAttachVolume); err != nil {
		return nil, err
	}

	st, ok := c.volumes[volumeID]
	if !ok {
		return nil, cloud.NewNotFound(OpAttachVolume, volumeID)
	}
	if st.volume.Status != cloud.StatusAvailable {
		return nil, cloud.NewBadRequest(OpAttachVolume, volumeID,
			errors.New("volume status must be available"))
	}

	a := cloud.Attachment{ID: volumeID, ServerID: serverID, VolumeID: volumeID, Device: device}
	c.attachments[volumeID] = a
	st.volume.Status = cloud.StatusAttaching
	if len(st.pending) == 0 {
		st.pending = []string{cloud.StatusInUse}
	}
	return &a, nil
}

// DetachVolume implements cloud.ServerVolumes.
func (c *Cloud) DetachVolume(_ context.Context, serverID, volumeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpDetachVolume); err != nil {
		return err
	}

	st, ok := c.volumes[volumeID]
	if !ok {
		return cloud.NewNotFound(OpDetachVolume, volumeID)
	}
	a, attached := c.attachments[volumeID]
	if !attached || a.ServerID != serverID {
		return cloud.NewBadRequest(OpDetachVolume, volumeID, errors.New("volume is not attached to server"))
	}

	delete(c.attachments, volumeID)
	st.volume.Status = cloud.StatusDetaching
	if len(st.pending) == 0 {
		st.pending = []string{cloud.StatusAvailable}
	}
	return nil
}

// FindImage implements cloud.Images.
func (c *Cloud) FindImage(_ context.Context, nameOrID string) (*cloud.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpFindImage); err != nil {
		return nil, err
	}

	if img, ok := c.images[nameOrID]; ok {
		return &img, nil
	}
	for _, img := range c.images {
		if img.Name == nameOrID {
			return &img, nil
		}
	}
	return nil, cloud.NewNotFound(OpFindImage, nameOrID)
}

func copyVolume(v cloud.Volume) cloud.Volume {
	v.Metadata = copyMetadata(v.Metadata)
	return v
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
