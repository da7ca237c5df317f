package engine

import (
	"context"
	"time"

	"github.com/openfroyo/stacker/pkg/cloud"
	"github.com/openfroyo/stacker/pkg/scheduler"
	"github.com/openfroyo/stacker/pkg/stores"
	"github.com/openfroyo/stacker/pkg/telemetry"
	"github.com/openfroyo/stacker/pkg/template"
)

// Handle is the opaque in-flight state a Handle* call passes to the matching
// Check* call. It is usually a *scheduler.Runner or nil.
type Handle = any

// Lifecycle is the callback contract every resource type implements. Each
// Handle* call issues the request and returns quickly; the matching Check*
// call is then invoked once per scheduling tick until it returns true.
type Lifecycle interface {
	HandleCreate(ctx context.Context) (Handle, error)
	CheckCreateComplete(ctx context.Context, h Handle) (bool, error)

	// HandleUpdate receives the new definition with resolved properties.
	// Returning ErrUpdateReplace asks for the resource to be replaced.
	HandleUpdate(ctx context.Context, def *template.Definition) (Handle, error)
	CheckUpdateComplete(ctx context.Context, h Handle) (bool, error)

	HandleDelete(ctx context.Context) (Handle, error)
	CheckDeleteComplete(ctx context.Context, h Handle) (bool, error)
}

// AttributeResolver exposes values other resources and outputs may refer to.
type AttributeResolver interface {
	// GetAttribute returns the named attribute. Unknown names yield an
	// InvalidAttributeError.
	GetAttribute(ctx context.Context, key string) (any, error)

	// RefID is the value of {"Ref": name}.
	RefID() string
}

// Resource is a lifecycle implementation hosted by a stack.
type Resource interface {
	Lifecycle
	AttributeResolver

	Name() string
	Type() string
	ResourceID() string
}

// SnapshotDeleter is implemented by resources that keep a copy of their data
// when deleted under the Snapshot deletion policy. prev is the state the
// resource was in before the delete started.
type SnapshotDeleter interface {
	HandleSnapshotDelete(ctx context.Context, prev State) (Handle, error)
}

// AlwaysUpdater is implemented by resources whose content depends on more
// than their properties, such as a remotely fetched template. A stack update
// updates them even when their resolved properties are unchanged.
type AlwaysUpdater interface {
	AlwaysUpdate() bool
}

// TemplateFetcher retrieves remote templates.
type TemplateFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ChildStacks manages the nested stacks owned by a stack. The runners
// returned have already been started; callers step them to completion.
type ChildStacks interface {
	CreateChild(ctx context.Context, name string, tmpl *template.Template, params map[string]string, timeout time.Duration) (*scheduler.Runner, error)
	UpdateChild(ctx context.Context, name string, tmpl *template.Template, params map[string]string, timeout time.Duration) (*scheduler.Runner, error)

	// DeleteChild returns a nil runner when there is no child to delete.
	DeleteChild(ctx context.Context, name string) (*scheduler.Runner, error)

	ChildOutput(ctx context.Context, name, key string) (any, error)
	ChildARN(name string) string
}

// Services are the collaborators injected into resources. Any field may be
// nil when no resource in use needs it.
type Services struct {
	Cloud     cloud.Client
	Templates TemplateFetcher
	Children  ChildStacks
	Store     stores.Store
	Telemetry *telemetry.Telemetry

	// RunnerOptions are applied to every runner a resource starts.
	RunnerOptions []scheduler.Option
}

func (s *Services) telemetry() *telemetry.Telemetry {
	if s == nil || s.Telemetry == nil {
		return telemetry.Nop()
	}
	return s.Telemetry
}

// Scope places a resource in its owning stack.
type Scope struct {
	StackID   string
	StackName string
	Services  *Services
}

// Base provides the identity of a resource and the default lifecycle
// behaviour: Check* report completion immediately and updates require
// replacement. Resource types embed it and override what they need.
type Base struct {
	def        *template.Definition
	scope      Scope
	resourceID string
	logger     *telemetry.Logger
}

// NewBase creates the base for a resource defined by def.
func NewBase(def *template.Definition, scope Scope) Base {
	if scope.Services == nil {
		scope.Services = &Services{}
	}
	return Base{
		def:   def,
		scope: scope,
		logger: scope.Services.telemetry().Logger.
			WithStack(scope.StackName).
			WithResource(def.Name, def.Type),
	}
}

// Name returns the logical name from the template.
func (b *Base) Name() string { return b.def.Name }

// Type returns the resource type.
func (b *Base) Type() string { return b.def.Type }

// Definition returns the resolved definition the resource was built from.
func (b *Base) Definition() *template.Definition { return b.def }

// Properties returns the resolved properties.
func (b *Base) Properties() map[string]any { return b.def.Properties }

// Services returns the injected collaborators.
func (b *Base) Services() *Services { return b.scope.Services }

// Scope returns the owning stack scope.
func (b *Base) Scope() Scope { return b.scope }

// Logger returns a logger tagged with the stack and resource.
func (b *Base) Logger() *telemetry.Logger { return b.logger }

// PhysicalName is the name used for external objects: "<stack>-<resource>".
func (b *Base) PhysicalName() string {
	return b.scope.StackName + "-" + b.def.Name
}

// ResourceID returns the external object id, empty until one exists.
func (b *Base) ResourceID() string { return b.resourceID }

// SetResourceID records the external object id and writes it through to the
// store so a later process can find the object.
func (b *Base) SetResourceID(ctx context.Context, id string) error {
	b.resourceID = id
	b.logger = b.logger.WithResourceID(id)

	store := b.scope.Services.Store
	if store == nil || b.scope.StackID == "" {
		return nil
	}
	return store.SetResourceID(ctx, b.scope.StackID, b.def.Name, id)
}

// ClearResourceID forgets the external object id.
func (b *Base) ClearResourceID(ctx context.Context) error {
	return b.SetResourceID(ctx, "")
}

// NewRunner creates a runner with the configured runner options.
func (b *Base) NewRunner(task scheduler.Task, opts ...scheduler.Option) *scheduler.Runner {
	tel := b.scope.Services.telemetry()
	all := []scheduler.Option{
		scheduler.WithLogger(b.logger),
		scheduler.WithMetrics(tel.Metrics),
	}
	all = append(all, b.scope.Services.RunnerOptions...)
	return scheduler.NewRunner(task, append(all, opts...)...)
}

// HandleCreate does nothing by default.
func (b *Base) HandleCreate(context.Context) (Handle, error) { return nil, nil }

// CheckCreateComplete reports completion immediately by default.
func (b *Base) CheckCreateComplete(context.Context, Handle) (bool, error) { return true, nil }

// HandleUpdate requires replacement by default.
func (b *Base) HandleUpdate(context.Context, *template.Definition) (Handle, error) {
	return nil, ErrUpdateReplace
}

// CheckUpdateComplete reports completion immediately by default.
func (b *Base) CheckUpdateComplete(context.Context, Handle) (bool, error) { return true, nil }

// HandleDelete does nothing by default.
func (b *Base) HandleDelete(context.Context) (Handle, error) { return nil, nil }

// CheckDeleteComplete reports completion immediately by default.
func (b *Base) CheckDeleteComplete(context.Context, Handle) (bool, error) { return true, nil }

// GetAttribute has no attributes by default.
func (b *Base) GetAttribute(_ context.Context, key string) (any, error) {
	return nil, NewInvalidAttributeError(b.def.Name, key)
}

// RefID is the resource id, or the logical name before one exists.
func (b *Base) RefID() string {
	if b.resourceID != "" {
		return b.resourceID
	}
	return b.def.Name
}

// StepRunner advances a runner handle by one step. A nil handle is complete.
func StepRunner(ctx context.Context, h Handle) (bool, error) {
	if h == nil {
		return true, nil
	}
	runner, ok := h.(*scheduler.Runner)
	if !ok {
		return false, NewPermanentError("handle is not a task runner", nil).WithCode(ErrCodeInternal)
	}
	if runner == nil {
		return true, nil
	}
	if !runner.Started() {
		if err := runner.Start(ctx); err != nil {
			return true, err
		}
		return runner.Done(), nil
	}
	return runner.Step(ctx)
}
