package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a distinct database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// SaveStack inserts or updates a stack record.
func (s *SQLiteStore) SaveStack(ctx context.Context, stack *StackRecord) error {
	query := `
		INSERT INTO stacks (id, name, parent_id, template, action, status, status_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			template = excluded.template,
			action = excluded.action,
			status = excluded.status,
			status_reason = excluded.status_reason,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if stack.CreatedAt.IsZero() {
		stack.CreatedAt = now
	}
	stack.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		stack.ID,
		stack.Name,
		nullString(stack.ParentID),
		stack.Template,
		stack.Action,
		stack.Status,
		stack.StatusReason,
		stack.CreatedAt,
		stack.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save stack: %w", err)
	}

	return nil
}

// GetStack retrieves a stack by name.
func (s *SQLiteStore) GetStack(ctx context.Context, name string) (*StackRecord, error) {
	query := `
		SELECT id, name, parent_id, template, action, status, status_reason, created_at, updated_at
		FROM stacks
		WHERE name = ?
	`

	stack, err := scanStack(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stack %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stack: %w", err)
	}

	return stack, nil
}

// ListStacks returns all stacks ordered by creation time.
func (s *SQLiteStore) ListStacks(ctx context.Context) ([]*StackRecord, error) {
	query := `
		SELECT id, name, parent_id, template, action, status, status_reason, created_at, updated_at
		FROM stacks
		ORDER BY created_at, name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stacks: %w", err)
	}
	defer rows.Close()

	stacks := []*StackRecord{}
	for rows.Next() {
		stack, err := scanStack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stack: %w", err)
		}
		stacks = append(stacks, stack)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stacks: %w", err)
	}

	return stacks, nil
}

// DeleteStack removes a stack with its resources and events.
func (s *SQLiteStore) DeleteStack(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stacks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stack: %w", err)
	}
	return expectRow(result, "stack", id)
}

// SaveResource inserts or updates a resource record.
func (s *SQLiteStore) SaveResource(ctx context.Context, res *ResourceRecord) error {
	query := `
		INSERT INTO resources (stack_id, name, type, resource_id, action, status, status_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stack_id, name) DO UPDATE SET
			type = excluded.type,
			resource_id = excluded.resource_id,
			action = excluded.action,
			status = excluded.status,
			status_reason = excluded.status_reason,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		res.StackID,
		res.Name,
		res.Type,
		res.ResourceID,
		res.Action,
		res.Status,
		res.StatusReason,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}

	return nil
}

// GetResource retrieves a resource by stack and logical name.
func (s *SQLiteStore) GetResource(ctx context.Context, stackID, name string) (*ResourceRecord, error) {
	query := `
		SELECT stack_id, name, type, resource_id, action, status, status_reason, created_at, updated_at
		FROM resources
		WHERE stack_id = ? AND name = ?
	`

	res, err := scanResource(s.db.QueryRowContext(ctx, query, stackID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	return res, nil
}

// SetResourceID records the physical id of a resource.
func (s *SQLiteStore) SetResourceID(ctx context.Context, stackID, name, resourceID string) error {
	query := `
		UPDATE resources
		SET resource_id = ?, updated_at = ?
		WHERE stack_id = ? AND name = ?
	`

	result, err := s.db.ExecContext(ctx, query, resourceID, time.Now().UTC(), stackID, name)
	if err != nil {
		return fmt.Errorf("failed to set resource id: %w", err)
	}
	return expectRow(result, "resource", name)
}

// ListResources returns the resources of a stack ordered by name.
func (s *SQLiteStore) ListResources(ctx context.Context, stackID string) ([]*ResourceRecord, error) {
	query := `
		SELECT stack_id, name, type, resource_id, action, status, status_reason, created_at, updated_at
		FROM resources
		WHERE stack_id = ?
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query, stackID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*ResourceRecord{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// DeleteResource removes a resource record.
func (s *SQLiteStore) DeleteResource(ctx context.Context, stackID, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE stack_id = ? AND name = ?`, stackID, name)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return expectRow(result, "resource", name)
}

// AppendEvent appends a new event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (stack_id, resource_name, resource_type, resource_id, action, status, status_reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.StackID,
		event.ResourceName,
		event.ResourceType,
		event.ResourceID,
		event.Action,
		event.Status,
		event.StatusReason,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents returns the events of a stack in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, stackID string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, stack_id, resource_name, resource_type, resource_id, action, status, status_reason, timestamp
		FROM events
		WHERE stack_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, stackID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.StackID,
			&event.ResourceName,
			&event.ResourceType,
			&event.ResourceID,
			&event.Action,
			&event.Status,
			&event.StatusReason,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStack(row rowScanner) (*StackRecord, error) {
	stack := &StackRecord{}
	var parentID sql.NullString
	err := row.Scan(
		&stack.ID,
		&stack.Name,
		&parentID,
		&stack.Template,
		&stack.Action,
		&stack.Status,
		&stack.StatusReason,
		&stack.CreatedAt,
		&stack.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	stack.ParentID = parentID.String
	return stack, nil
}

func scanResource(row rowScanner) (*ResourceRecord, error) {
	res := &ResourceRecord{}
	err := row.Scan(
		&res.StackID,
		&res.Name,
		&res.Type,
		&res.ResourceID,
		&res.Action,
		&res.Status,
		&res.StatusReason,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func expectRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
