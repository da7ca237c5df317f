package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	stacks    map[string]*StackRecord
	resources map[string]map[string]*ResourceRecord
	events    []*Event
	nextEvent int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stacks:    make(map[string]*StackRecord),
		resources: make(map[string]map[string]*ResourceRecord),
	}
}

// Init implements Store.
func (m *MemoryStore) Init(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Migrate implements Store.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// HealthCheck implements Store.
func (m *MemoryStore) HealthCheck(context.Context) error { return nil }

// SaveStack implements Store.
func (m *MemoryStore) SaveStack(_ context.Context, stack *StackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.stacks {
		if existing.Name == stack.Name && id != stack.ID {
			return fmt.Errorf("failed to save stack: name %s already used by %s", stack.Name, id)
		}
	}

	now := time.Now().UTC()
	if stack.CreatedAt.IsZero() {
		stack.CreatedAt = now
	}
	stack.UpdatedAt = now

	cp := *stack
	m.stacks[stack.ID] = &cp
	return nil
}

// GetStack implements Store.
func (m *MemoryStore) GetStack(_ context.Context, name string) (*StackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, stack := range m.stacks {
		if stack.Name == name {
			cp := *stack
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("stack %s: %w", name, ErrNotFound)
}

// ListStacks implements Store.
func (m *MemoryStore) ListStacks(context.Context) ([]*StackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stacks := make([]*StackRecord, 0, len(m.stacks))
	for _, stack := range m.stacks {
		cp := *stack
		stacks = append(stacks, &cp)
	}
	sort.Slice(stacks, func(i, j int) bool {
		if stacks[i].CreatedAt.Equal(stacks[j].CreatedAt) {
			return stacks[i].Name < stacks[j].Name
		}
		return stacks[i].CreatedAt.Before(stacks[j].CreatedAt)
	})
	return stacks, nil
}

// DeleteStack implements Store.
func (m *MemoryStore) DeleteStack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stacks[id]; !ok {
		return fmt.Errorf("stack %s: %w", id, ErrNotFound)
	}
	delete(m.stacks, id)
	delete(m.resources, id)

	kept := m.events[:0]
	for _, e := range m.events {
		if e.StackID != id {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return nil
}

// SaveResource implements Store.
func (m *MemoryStore) SaveResource(_ context.Context, res *ResourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	byName, ok := m.resources[res.StackID]
	if !ok {
		byName = make(map[string]*ResourceRecord)
		m.resources[res.StackID] = byName
	}
	if existing, ok := byName[res.Name]; ok {
		res.CreatedAt = existing.CreatedAt
	}
	cp := *res
	byName[res.Name] = &cp
	return nil
}

// GetResource implements Store.
func (m *MemoryStore) GetResource(_ context.Context, stackID, name string) (*ResourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.resources[stackID][name]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", name, ErrNotFound)
	}
	cp := *res
	return &cp, nil
}

// SetResourceID implements Store.
func (m *MemoryStore) SetResourceID(_ context.Context, stackID, name, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[stackID][name]
	if !ok {
		return fmt.Errorf("resource %s: %w", name, ErrNotFound)
	}
	res.ResourceID = resourceID
	res.UpdatedAt = time.Now().UTC()
	return nil
}

// ListResources implements Store.
func (m *MemoryStore) ListResources(_ context.Context, stackID string) ([]*ResourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resources := make([]*ResourceRecord, 0, len(m.resources[stackID]))
	for _, res := range m.resources[stackID] {
		cp := *res
		resources = append(resources, &cp)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	return resources, nil
}

// DeleteResource implements Store.
func (m *MemoryStore) DeleteResource(_ context.Context, stackID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.resources[stackID][name]; !ok {
		return fmt.Errorf("resource %s: %w", name, ErrNotFound)
	}
	delete(m.resources[stackID], name)
	return nil
}

// AppendEvent implements Store.
func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEvent++
	event.ID = m.nextEvent
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

// ListEvents implements Store.
func (m *MemoryStore) ListEvents(_ context.Context, stackID string, limit, offset int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := []*Event{}
	skipped := 0
	for _, e := range m.events {
		if e.StackID != stackID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(events) == limit {
			break
		}
		cp := *e
		events = append(events, &cp)
	}
	return events, nil
}
