package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/stacker/pkg/scheduler"
	"github.com/openfroyo/stacker/pkg/stores"
	"github.com/openfroyo/stacker/pkg/telemetry"
	"github.com/openfroyo/stacker/pkg/template"
)

// Machine drives one resource through its lifecycle. It holds the handle of
// the action in progress and exposes the current action, status and reason.
// A handle is held exactly while the status is InProgress.
type Machine struct {
	res   Resource
	def   *template.Definition
	scope Scope
	tel   *telemetry.Telemetry

	action Action
	status Status
	reason string

	handle  Handle
	span    trace.Span
	started time.Time
}

// NewMachine creates a machine for res in the INIT_COMPLETE state. def is the
// resolved definition res was built from.
func NewMachine(res Resource, def *template.Definition, scope Scope) *Machine {
	if scope.Services == nil {
		scope.Services = &Services{}
	}
	return &Machine{
		res:    res,
		def:    def,
		scope:  scope,
		tel:    scope.Services.telemetry(),
		action: ActionInit,
		status: StatusComplete,
	}
}

// Resource returns the hosted resource.
func (m *Machine) Resource() Resource { return m.res }

// Definition returns the resolved definition of the resource.
func (m *Machine) Definition() *template.Definition { return m.def }

// State returns the current action and status.
func (m *Machine) State() State { return State{Action: m.action, Status: m.status} }

// Reason returns the status reason.
func (m *Machine) Reason() string { return m.reason }

// Handle returns the in-flight handle and whether an action is in progress.
func (m *Machine) Handle() (Handle, bool) {
	return m.handle, m.status == StatusInProgress
}

// Create issues the create request.
func (m *Machine) Create(ctx context.Context) error {
	if err := m.checkIdle(ActionCreate); err != nil {
		return err
	}
	ctx = m.begin(ctx, ActionCreate)
	return m.handled(ctx, func(ctx context.Context) (Handle, error) {
		return m.res.HandleCreate(ctx)
	})
}

// Update issues an in-place update to def. When the resource answers with
// ErrUpdateReplace the machine returns to its previous state and the error
// is returned so the caller can replace the resource.
func (m *Machine) Update(ctx context.Context, def *template.Definition) error {
	if err := m.checkIdle(ActionUpdate); err != nil {
		return err
	}

	prev := m.State()
	prevReason := m.reason
	spanCtx := m.begin(ctx, ActionUpdate)

	h, err := m.res.HandleUpdate(spanCtx, def)
	if errors.Is(err, ErrUpdateReplace) {
		m.action, m.status, m.reason = prev.Action, prev.Status, prevReason
		m.span.End()
		m.span = nil
		m.logger().Info("update requires replacement")
		m.persist(ctx, "Update requires replacement")
		return err
	}
	if err != nil {
		m.fail(spanCtx, err)
		return err
	}
	m.def = def
	m.handle = h
	return nil
}

// Delete issues the delete request honouring the deletion policy. Deleting a
// resource that was never created or is already deleted succeeds without
// calling the resource.
func (m *Machine) Delete(ctx context.Context) error {
	prev := m.State()
	if prev.Status == StatusInProgress {
		return m.busy(ActionDelete)
	}

	if prev.Action == ActionInit || prev == (State{ActionDelete, StatusComplete}) {
		m.action, m.status, m.reason = ActionDelete, StatusComplete, "Nothing to delete"
		m.persist(ctx, m.reason)
		return nil
	}

	ctx = m.begin(ctx, ActionDelete)
	switch m.def.DeletionPolicy {
	case template.DeletionPolicyRetain:
		m.logger().Info("retaining resource")
		return m.handled(ctx, func(context.Context) (Handle, error) { return nil, nil })
	case template.DeletionPolicySnapshot:
		if sd, ok := m.res.(SnapshotDeleter); ok {
			return m.handled(ctx, func(ctx context.Context) (Handle, error) {
				return sd.HandleSnapshotDelete(ctx, prev)
			})
		}
	}
	return m.handled(ctx, func(ctx context.Context) (Handle, error) {
		return m.res.HandleDelete(ctx)
	})
}

// Poll calls the check matching the action in progress once and reports
// whether the action has finished.
func (m *Machine) Poll(ctx context.Context) (bool, error) {
	if m.status != StatusInProgress {
		return false, NewInvalidStateError(
			fmt.Sprintf("no action in progress (state %s)", m.State()),
		).WithResource(m.res.Name())
	}

	if m.span != nil {
		ctx = trace.ContextWithSpan(ctx, m.span)
	}

	var done bool
	var err error
	switch m.action {
	case ActionCreate:
		done, err = m.res.CheckCreateComplete(ctx, m.handle)
	case ActionUpdate:
		done, err = m.res.CheckUpdateComplete(ctx, m.handle)
	case ActionDelete:
		if m.def.DeletionPolicy == template.DeletionPolicyRetain {
			done = true
		} else {
			done, err = m.res.CheckDeleteComplete(ctx, m.handle)
		}
	}

	switch {
	case err != nil:
		m.fail(ctx, err)
		return true, err
	case done:
		m.complete(ctx)
		return true, nil
	default:
		return false, nil
	}
}

// CreateTask returns a task that creates the resource and polls it to
// completion. The first check runs in the same step as the request.
func (m *Machine) CreateTask() scheduler.Task {
	return m.task("create", func(ctx context.Context) error { return m.Create(ctx) })
}

// UpdateTask returns a task that updates the resource to def.
func (m *Machine) UpdateTask(def *template.Definition) scheduler.Task {
	return m.task("update", func(ctx context.Context) error { return m.Update(ctx, def) })
}

// DeleteTask returns a task that deletes the resource.
func (m *Machine) DeleteTask() scheduler.Task {
	return m.task("delete", func(ctx context.Context) error { return m.Delete(ctx) })
}

func (m *Machine) task(verb string, request func(ctx context.Context) error) scheduler.Task {
	begin := func(ctx context.Context) (bool, error) {
		if err := request(ctx); err != nil {
			return true, err
		}
		if m.status == StatusComplete {
			return true, nil
		}
		return m.Poll(ctx)
	}
	return scheduler.Func(fmt.Sprintf("%s %s", verb, m.res.Name()),
		scheduler.NewPollTask(begin, m.Poll).Step)
}

func (m *Machine) checkIdle(action Action) error {
	if m.status == StatusInProgress {
		return m.busy(action)
	}
	return nil
}

func (m *Machine) busy(action Action) error {
	return NewInvalidStateError(
		fmt.Sprintf("cannot %s while %s", action, m.State()),
	).WithResource(m.res.Name()).WithOperation(string(action))
}

func (m *Machine) begin(ctx context.Context, action Action) context.Context {
	m.action = action
	m.status = StatusInProgress
	m.reason = ""
	m.handle = nil
	m.started = time.Now()

	ctx, m.span = m.tel.Tracer.StartResourceSpan(ctx, m.res.Name(), m.res.Type(), string(action))
	m.logger().Infof("%s in progress", action)
	m.persist(ctx, "state changed")
	return ctx
}

func (m *Machine) handled(ctx context.Context, call func(ctx context.Context) (Handle, error)) error {
	h, err := call(ctx)
	if err != nil {
		m.fail(ctx, err)
		return err
	}
	m.handle = h
	return nil
}

func (m *Machine) complete(ctx context.Context) {
	m.status = StatusComplete
	m.reason = "state changed"
	m.handle = nil
	m.tel.Metrics.RecordResourceOperation(m.res.Type(), string(m.action), string(m.status), time.Since(m.started))
	m.logger().Infof("%s complete", m.action)
	m.persist(ctx, m.reason)
	telemetry.EndSpan(m.span, nil)
	m.span = nil
}

func (m *Machine) fail(ctx context.Context, err error) {
	m.status = StatusFailed
	m.reason = fmt.Sprintf("%s: %v", m.action, err)
	m.handle = nil
	m.tel.Metrics.RecordResourceOperation(m.res.Type(), string(m.action), string(m.status), time.Since(m.started))
	m.tel.Metrics.RecordError(string(ClassOf(err)), CodeOf(err))
	m.logger().WithError(err).Errorf("%s failed", m.action)
	m.persist(ctx, m.reason)
	telemetry.EndSpan(m.span, err)
	m.span = nil
}

func (m *Machine) logger() *telemetry.Logger {
	l := m.tel.Logger.WithStack(m.scope.StackName).WithResource(m.res.Name(), m.res.Type())
	if id := m.res.ResourceID(); id != "" {
		l = l.WithResourceID(id)
	}
	return l
}

// persist saves the resource record and appends an event. Store failures are
// logged; the external object remains the source of truth.
func (m *Machine) persist(ctx context.Context, reason string) {
	store := m.scope.Services.Store
	if store == nil || m.scope.StackID == "" {
		return
	}

	now := time.Now().UTC()
	rec := &stores.ResourceRecord{
		StackID:      m.scope.StackID,
		Name:         m.res.Name(),
		Type:         m.res.Type(),
		ResourceID:   m.res.ResourceID(),
		Action:       string(m.action),
		Status:       string(m.status),
		StatusReason: m.reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.SaveResource(ctx, rec); err != nil {
		m.logger().WithError(err).Warn("failed to save resource record")
	}

	event := &stores.Event{
		StackID:      m.scope.StackID,
		ResourceName: m.res.Name(),
		ResourceType: m.res.Type(),
		ResourceID:   m.res.ResourceID(),
		Action:       string(m.action),
		Status:       string(m.status),
		StatusReason: reason,
		Timestamp:    now,
	}
	if err := store.AppendEvent(ctx, event); err != nil {
		m.logger().WithError(err).Warn("failed to append event")
	}
}
