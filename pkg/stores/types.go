package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// StackRecord represents a stored stack.
type StackRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ParentID     string    `json:"parent_id,omitempty"`
	Template     string    `json:"template"` // raw template source
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResourceRecord represents the stored state of one resource in a stack.
type ResourceRecord struct {
	StackID      string    `json:"stack_id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	ResourceID   string    `json:"resource_id,omitempty"` // empty until a cloud object exists
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Event is one entry of the append-only lifecycle log.
type Event struct {
	ID           int64     `json:"id"`
	StackID      string    `json:"stack_id"`
	ResourceName string    `json:"resource_name,omitempty"` // empty for stack-level events
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Stack operations
	SaveStack(ctx context.Context, stack *StackRecord) error
	GetStack(ctx context.Context, name string) (*StackRecord, error)
	ListStacks(ctx context.Context) ([]*StackRecord, error)
	DeleteStack(ctx context.Context, id string) error

	// Resource operations
	SaveResource(ctx context.Context, res *ResourceRecord) error
	GetResource(ctx context.Context, stackID, name string) (*ResourceRecord, error)
	SetResourceID(ctx context.Context, stackID, name, resourceID string) error
	ListResources(ctx context.Context, stackID string) ([]*ResourceRecord, error)
	DeleteResource(ctx context.Context, stackID, name string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, stackID string, limit, offset int) ([]*Event, error)
}
