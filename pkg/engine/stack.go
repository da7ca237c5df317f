package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stacker/pkg/scheduler"
	"github.com/openfroyo/stacker/pkg/stores"
	"github.com/openfroyo/stacker/pkg/telemetry"
	"github.com/openfroyo/stacker/pkg/template"
)

// DefaultRegion is reported by AWS::Region when no region is configured.
const DefaultRegion = "RegionOne"

// StackOptions configure a stack.
type StackOptions struct {
	// ID reuses an existing stack id, for example when a nested stack is
	// recreated. A new id is generated when empty.
	ID string

	// Registry builds resources by type. Required.
	Registry *Registry

	// Services are shared with every resource. The stack installs itself as
	// the ChildStacks implementation.
	Services Services

	// ParentID is the id of the owning stack for nested stacks.
	ParentID string

	// Region is the value of the AWS::Region pseudo parameter.
	Region string

	// Timeout bounds each stack action when run through NewRunner.
	Timeout time.Duration
}

// Stack hosts the resources of a template and drives them through create,
// update and delete in dependency order. Resources are stepped cooperatively:
// each step of a stack task gives every ready resource one step.
type Stack struct {
	id       string
	name     string
	opts     StackOptions
	services *Services

	tmpl   *template.Template
	params map[string]any
	graph  *Graph

	machines map[string]*Machine
	children map[string]*Stack
	childIDs map[string]string

	action  Action
	status  Status
	reason  string
	span    trace.Span
	started time.Time
}

var _ ChildStacks = (*Stack)(nil)

// NewStack validates tmpl against params and the registry and returns a stack
// in the INIT_COMPLETE state.
func NewStack(name string, tmpl *template.Template, params map[string]string, opts StackOptions) (*Stack, error) {
	if name == "" {
		return nil, NewConfigurationError("stack name cannot be empty", nil)
	}
	if opts.Registry == nil {
		return nil, NewConfigurationError("stack requires a resource registry", nil)
	}
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	s := &Stack{
		id:       id,
		name:     name,
		opts:     opts,
		machines: make(map[string]*Machine),
		children: make(map[string]*Stack),
		childIDs: make(map[string]string),
		action:   ActionInit,
		status:   StatusComplete,
	}

	services := opts.Services
	services.Children = s
	s.services = &services

	resolved, graph, err := s.prepare(tmpl, params)
	if err != nil {
		return nil, err
	}
	s.tmpl, s.params, s.graph = tmpl, resolved, graph
	return s, nil
}

// Validate checks a template and parameters without creating a stack.
func Validate(tmpl *template.Template, params map[string]string, registry *Registry) (*Graph, error) {
	s, err := NewStack("validate", tmpl, params, StackOptions{Registry: registry})
	if err != nil {
		return nil, err
	}
	return s.graph, nil
}

func (s *Stack) prepare(tmpl *template.Template, params map[string]string) (map[string]any, *Graph, error) {
	resolved, err := tmpl.ResolveParameters(params)
	if err != nil {
		return nil, nil, NewConfigurationError("invalid parameters", err)
	}

	for _, name := range tmpl.ResourceNames() {
		def := tmpl.Resources[name]
		if !s.opts.Registry.Has(def.Type) {
			return nil, nil, NewConfigurationError(fmt.Sprintf("unknown resource type %s", def.Type), nil).
				WithResource(name)
		}
	}

	graph, err := NewDAGBuilder().BuildGraph(tmpl)
	if err != nil {
		return nil, nil, err
	}
	return resolved, graph, nil
}

// ID returns the stack id.
func (s *Stack) ID() string { return s.id }

// Name returns the stack name.
func (s *Stack) Name() string { return s.name }

// ARN returns the stack's reference id.
func (s *Stack) ARN() string {
	return fmt.Sprintf("arn:openstack:heat::stacker:stacks/%s/%s", s.name, s.id)
}

// Template returns the current template.
func (s *Stack) Template() *template.Template { return s.tmpl }

// Graph returns the dependency graph of the current template.
func (s *Stack) Graph() *Graph { return s.graph }

// State returns the stack action and status.
func (s *Stack) State() State { return State{Action: s.action, Status: s.status} }

// Reason returns the stack status reason.
func (s *Stack) Reason() string { return s.reason }

// Machine returns the lifecycle machine of a resource once it has been built.
func (s *Stack) Machine(name string) (*Machine, bool) {
	m, ok := s.machines[name]
	return m, ok
}

// Resource returns a resource once it has been built.
func (s *Stack) Resource(name string) (Resource, bool) {
	m, ok := s.machines[name]
	if !ok {
		return nil, false
	}
	return m.Resource(), true
}

// Child returns the nested stack created for a resource.
func (s *Stack) Child(name string) (*Stack, bool) {
	c, ok := s.children[name]
	return c, ok
}

// NewRunner creates a runner for a stack task using the stack's runner
// options. A positive timeout overrides the stack timeout.
func (s *Stack) NewRunner(task scheduler.Task, timeout time.Duration) *scheduler.Runner {
	tel := s.services.telemetry()
	opts := []scheduler.Option{
		scheduler.WithLogger(tel.Logger.WithStack(s.name)),
		scheduler.WithMetrics(tel.Metrics),
	}
	opts = append(opts, s.services.RunnerOptions...)
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}
	if timeout > 0 {
		opts = append(opts, scheduler.WithTimeout(timeout))
	}
	return scheduler.NewRunner(task, opts...)
}

// CreateTask returns a task creating every resource in dependency order.
func (s *Stack) CreateTask() scheduler.Task {
	body := newGraphTask("create "+s.name, s.graph.Order(),
		func(name string) []string { return s.graph.Nodes[name].Dependencies },
		s.createResource)
	return s.actionTask(ActionCreate, nil, body)
}

// UpdateTask returns a task moving the stack to tmpl. Unchanged resources
// are left alone, changed ones are updated in place or replaced, new ones
// are created and resources missing from tmpl are deleted.
func (s *Stack) UpdateTask(tmpl *template.Template, params map[string]string) (scheduler.Task, error) {
	resolved, graph, err := s.prepare(tmpl, params)
	if err != nil {
		return nil, err
	}

	oldGraph := s.graph
	removed := make([]string, 0)
	for _, name := range oldGraph.ReverseOrder() {
		if _, kept := tmpl.Resources[name]; !kept {
			removed = append(removed, name)
		}
	}

	swap := func() {
		s.tmpl, s.params, s.graph = tmpl, resolved, graph
	}

	body := scheduler.Sequence("update "+s.name,
		newGraphTask("update resources of "+s.name, graph.Order(),
			func(name string) []string { return graph.Nodes[name].Dependencies },
			s.updateResource),
		newGraphTask("delete removed resources of "+s.name, removed,
			func(name string) []string { return oldGraph.Nodes[name].Dependents },
			s.deleteResource),
	)
	return s.actionTask(ActionUpdate, swap, body), nil
}

// DeleteTask returns a task deleting every resource in reverse dependency
// order.
func (s *Stack) DeleteTask() scheduler.Task {
	body := newGraphTask("delete "+s.name, s.graph.ReverseOrder(),
		func(name string) []string { return s.graph.Nodes[name].Dependents },
		s.deleteResource)
	return s.actionTask(ActionDelete, nil, body)
}

// MarkFailed fails an action that was abandoned by its runner, for example
// after a timeout.
func (s *Stack) MarkFailed(ctx context.Context, err error) {
	if s.status == StatusInProgress {
		s.fail(ctx, err)
	}
}

// Outputs resolves every output of the template.
func (s *Stack) Outputs(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any, len(s.tmpl.Outputs))
	for key := range s.tmpl.Outputs {
		v, err := s.Output(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Output resolves one output.
func (s *Stack) Output(ctx context.Context, key string) (any, error) {
	output, ok := s.tmpl.Outputs[key]
	if !ok {
		return nil, NewInvalidAttributeError(s.name, "Outputs."+key).
			WithDetail("output", key)
	}
	v, err := template.Resolve(output.Value, s.resolver(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output %s: %w", key, err)
	}
	return v, nil
}

func (s *Stack) createResource(ctx context.Context, name string) (scheduler.Task, error) {
	m, err := s.build(ctx, s.tmpl.Resources[name])
	if err != nil {
		return nil, err
	}
	return m.CreateTask(), nil
}

func alwaysUpdate(res Resource) bool {
	au, ok := res.(AlwaysUpdater)
	return ok && au.AlwaysUpdate()
}

func (s *Stack) updateResource(ctx context.Context, name string) (scheduler.Task, error) {
	m, ok := s.machines[name]
	if !ok || m.State() == (State{ActionDelete, StatusComplete}) {
		return s.createResource(ctx, name)
	}

	def, err := s.resolveDefinition(ctx, s.tmpl.Resources[name])
	if err != nil {
		return nil, err
	}

	if def.Type != m.def.Type || m.status == StatusFailed {
		return s.replaceTask(name, m), nil
	}
	if reflect.DeepEqual(def.Properties, m.def.Properties) && !alwaysUpdate(m.res) {
		m.def.DeletionPolicy = def.DeletionPolicy
		return nil, nil
	}

	replace := false
	update := m.UpdateTask(def)
	stage := 0
	return scheduler.Wrap("update "+name, func(ctx context.Context) (scheduler.Task, error) {
		stage++
		switch {
		case stage == 1:
			return scheduler.Func("update "+name, func(ctx context.Context) (bool, error) {
				done, err := update.Step(ctx)
				if errors.Is(err, ErrUpdateReplace) {
					replace = true
					return true, nil
				}
				return done, err
			}), nil
		case stage == 2 && replace:
			return s.replaceTask(name, m), nil
		}
		return nil, nil
	}), nil
}

// replaceTask deletes the current resource and creates a new one from the
// current template.
func (s *Stack) replaceTask(name string, old *Machine) scheduler.Task {
	created := false
	return scheduler.Sequence("replace "+name,
		old.DeleteTask(),
		scheduler.Wrap("recreate "+name, func(ctx context.Context) (scheduler.Task, error) {
			if created {
				return nil, nil
			}
			created = true
			return s.createResource(ctx, name)
		}),
	)
}

func (s *Stack) deleteResource(_ context.Context, name string) (scheduler.Task, error) {
	m, ok := s.machines[name]
	if !ok {
		return nil, nil
	}
	return m.DeleteTask(), nil
}

// build resolves a definition and creates its resource and machine.
func (s *Stack) build(ctx context.Context, def *template.Definition) (*Machine, error) {
	resolved, err := s.resolveDefinition(ctx, def)
	if err == nil {
		var res Resource
		res, err = s.opts.Registry.New(resolved, s.scope())
		if err == nil {
			m := NewMachine(res, resolved, s.scope())
			s.machines[def.Name] = m
			return m, nil
		}
	}

	s.recordResourceFailure(ctx, def, err)
	return nil, err
}

func (s *Stack) resolveDefinition(ctx context.Context, def *template.Definition) (*template.Definition, error) {
	props, err := template.ResolveProperties(def.Properties, s.resolver(ctx))
	if err != nil {
		return nil, NewConfigurationError("failed to resolve properties", err).WithResource(def.Name)
	}
	return &template.Definition{
		Name:           def.Name,
		Type:           def.Type,
		Properties:     props,
		DependsOn:      def.DependsOn,
		DeletionPolicy: def.DeletionPolicy,
	}, nil
}

func (s *Stack) scope() Scope {
	return Scope{StackID: s.id, StackName: s.name, Services: s.services}
}

func (s *Stack) resolver(ctx context.Context) template.Resolver {
	return &stackResolver{ctx: ctx, stack: s}
}

// stackResolver evaluates intrinsic functions against the stack.
type stackResolver struct {
	ctx   context.Context
	stack *Stack
}

func (r *stackResolver) Parameter(name string) (any, bool) {
	switch name {
	case template.PseudoStackName:
		return r.stack.name, true
	case template.PseudoStackID:
		return r.stack.ARN(), true
	case template.PseudoRegion:
		return r.stack.opts.Region, true
	}
	v, ok := r.stack.params[name]
	return v, ok
}

func (r *stackResolver) RefID(resource string) (string, error) {
	if m, ok := r.stack.machines[resource]; ok {
		return m.Resource().RefID(), nil
	}
	if _, ok := r.stack.tmpl.Resources[resource]; ok {
		return resource, nil
	}
	return "", NewConfigurationError(fmt.Sprintf("reference to unknown resource or parameter %s", resource), nil)
}

func (r *stackResolver) Attribute(resource, attribute string) (any, error) {
	if m, ok := r.stack.machines[resource]; ok {
		return m.Resource().GetAttribute(r.ctx, attribute)
	}
	if _, ok := r.stack.tmpl.Resources[resource]; ok {
		return nil, NewInvalidStateError(fmt.Sprintf("resource %s has not been created", resource)).
			WithResource(resource)
	}
	return nil, NewConfigurationError(fmt.Sprintf("attribute of unknown resource %s", resource), nil)
}

// CreateChild implements ChildStacks.
func (s *Stack) CreateChild(ctx context.Context, name string, tmpl *template.Template, params map[string]string, timeout time.Duration) (*scheduler.Runner, error) {
	child, err := NewStack(s.name+"-"+name, tmpl, params, StackOptions{
		ID:       s.childIDs[name],
		Registry: s.opts.Registry,
		Services: *s.services,
		ParentID: s.id,
		Region:   s.opts.Region,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	s.children[name] = child
	s.childIDs[name] = child.id
	return startRunner(ctx, child.NewRunner(child.CreateTask(), timeout))
}

// UpdateChild implements ChildStacks. A missing child is created.
func (s *Stack) UpdateChild(ctx context.Context, name string, tmpl *template.Template, params map[string]string, timeout time.Duration) (*scheduler.Runner, error) {
	child, ok := s.children[name]
	if !ok {
		return s.CreateChild(ctx, name, tmpl, params, timeout)
	}
	task, err := child.UpdateTask(tmpl, params)
	if err != nil {
		return nil, err
	}
	return startRunner(ctx, child.NewRunner(task, timeout))
}

// DeleteChild implements ChildStacks.
func (s *Stack) DeleteChild(ctx context.Context, name string) (*scheduler.Runner, error) {
	child, ok := s.children[name]
	if !ok {
		return nil, nil
	}
	task := scheduler.Sequence("delete nested stack "+child.name,
		child.DeleteTask(),
		scheduler.Func("forget "+child.name, func(context.Context) (bool, error) {
			delete(s.children, name)
			return true, nil
		}),
	)
	return startRunner(ctx, child.NewRunner(task, 0))
}

// ChildOutput implements ChildStacks.
func (s *Stack) ChildOutput(ctx context.Context, name, key string) (any, error) {
	child, ok := s.children[name]
	if !ok {
		return nil, NewPermanentError(fmt.Sprintf("nested stack %s does not exist", name), nil).
			WithCode(ErrCodeNotFound).WithResource(name)
	}
	return child.Output(ctx, key)
}

// ChildARN implements ChildStacks.
func (s *Stack) ChildARN(name string) string {
	if child, ok := s.children[name]; ok {
		return child.ARN()
	}
	return ""
}

func startRunner(ctx context.Context, r *scheduler.Runner) (*scheduler.Runner, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// actionTask wraps body with the stack's state transitions. prepare runs in
// the first step before body.
func (s *Stack) actionTask(action Action, prepare func(), body scheduler.Task) scheduler.Task {
	return &stackTask{stack: s, action: action, prepare: prepare, body: body}
}

type stackTask struct {
	stack   *Stack
	action  Action
	prepare func()
	body    scheduler.Task
	begun   bool
}

func (t *stackTask) Step(ctx context.Context) (bool, error) {
	s := t.stack
	if !t.begun {
		t.begun = true
		if s.status == StatusInProgress {
			return true, NewInvalidStateError(
				fmt.Sprintf("cannot %s stack while %s", t.action, s.State()),
			).WithOperation(string(t.action))
		}
		if t.prepare != nil {
			t.prepare()
		}
		s.begin(ctx, t.action)
	}

	done, err := t.body.Step(ctx)
	if err != nil {
		s.fail(ctx, err)
		return true, err
	}
	if done {
		s.complete(ctx)
	}
	return done, nil
}

func (t *stackTask) Cancel() {
	if c, ok := t.body.(scheduler.Canceller); ok {
		c.Cancel()
	}
	t.stack.MarkFailed(context.Background(), scheduler.ErrCancelled)
}

func (t *stackTask) String() string {
	return fmt.Sprintf("%s stack %s", t.action, t.stack.name)
}

func (s *Stack) begin(ctx context.Context, action Action) {
	s.action, s.status, s.reason = action, StatusInProgress, "Stack "+string(action)+" started"
	s.started = time.Now()
	_, s.span = s.services.telemetry().Tracer.StartStackSpan(ctx, s.name, string(action))
	s.logger().Infof("stack %s started", action)
	s.persist(ctx)
}

func (s *Stack) complete(ctx context.Context) {
	s.status, s.reason = StatusComplete, "Stack "+string(s.action)+" completed successfully"
	s.logger().Infof("stack %s complete in %s", s.action, time.Since(s.started).Round(time.Millisecond))
	s.persist(ctx)
	telemetry.EndSpan(s.span, nil)
	s.span = nil
}

func (s *Stack) fail(ctx context.Context, err error) {
	s.status, s.reason = StatusFailed, err.Error()
	s.logger().WithError(err).Errorf("stack %s failed", s.action)
	s.persist(ctx)
	telemetry.EndSpan(s.span, err)
	s.span = nil
}

func (s *Stack) logger() *telemetry.Logger {
	return s.services.telemetry().Logger.WithStack(s.name).WithField("stack_id", s.id)
}

// persist saves the stack record and appends a stack event. Store failures
// are logged.
func (s *Stack) persist(ctx context.Context) {
	store := s.services.Store
	if store == nil {
		return
	}

	source, err := yaml.Marshal(s.tmpl)
	if err != nil {
		s.logger().WithError(err).Warn("failed to encode template")
	}

	rec := &stores.StackRecord{
		ID:           s.id,
		Name:         s.name,
		ParentID:     s.opts.ParentID,
		Template:     string(source),
		Action:       string(s.action),
		Status:       string(s.status),
		StatusReason: s.reason,
	}
	if err := store.SaveStack(ctx, rec); err != nil {
		s.logger().WithError(err).Warn("failed to save stack record")
		return
	}

	event := &stores.Event{
		StackID:      s.id,
		Action:       string(s.action),
		Status:       string(s.status),
		StatusReason: s.reason,
		Timestamp:    time.Now().UTC(),
	}
	if err := store.AppendEvent(ctx, event); err != nil {
		s.logger().WithError(err).Warn("failed to append event")
	}
}

func (s *Stack) recordResourceFailure(ctx context.Context, def *template.Definition, cause error) {
	s.logger().WithError(cause).Errorf("failed to build resource %s", def.Name)

	store := s.services.Store
	if store == nil {
		return
	}
	now := time.Now().UTC()
	reason := fmt.Sprintf("%s: %v", ActionCreate, cause)
	if err := store.SaveResource(ctx, &stores.ResourceRecord{
		StackID:      s.id,
		Name:         def.Name,
		Type:         def.Type,
		Action:       string(ActionCreate),
		Status:       string(StatusFailed),
		StatusReason: reason,
	}); err != nil {
		s.logger().WithError(err).Warn("failed to save resource record")
	}
	if err := store.AppendEvent(ctx, &stores.Event{
		StackID:      s.id,
		ResourceName: def.Name,
		ResourceType: def.Type,
		Action:       string(ActionCreate),
		Status:       string(StatusFailed),
		StatusReason: reason,
		Timestamp:    now,
	}); err != nil {
		s.logger().WithError(err).Warn("failed to append event")
	}
}

// graphTask steps a set of resources, starting each one once every
// dependency inside the set has finished. Resources are visited in order so
// a resource whose dependencies finish during a step starts in that step.
type graphTask struct {
	desc    string
	order   []string
	member  map[string]bool
	deps    func(name string) []string
	start   func(ctx context.Context, name string) (scheduler.Task, error)
	running map[string]scheduler.Task
	done    map[string]bool
}

func newGraphTask(desc string, order []string, deps func(string) []string,
	start func(ctx context.Context, name string) (scheduler.Task, error)) *graphTask {
	member := make(map[string]bool, len(order))
	for _, name := range order {
		member[name] = true
	}
	return &graphTask{
		desc:    desc,
		order:   order,
		member:  member,
		deps:    deps,
		start:   start,
		running: make(map[string]scheduler.Task),
		done:    make(map[string]bool),
	}
}

func (g *graphTask) Step(ctx context.Context) (bool, error) {
	for _, name := range g.order {
		if g.done[name] {
			continue
		}

		task, ok := g.running[name]
		if !ok {
			if !g.ready(name) {
				continue
			}
			t, err := g.start(ctx, name)
			if err != nil {
				g.Cancel()
				return true, err
			}
			if t == nil {
				g.done[name] = true
				continue
			}
			g.running[name] = t
			task = t
		}

		finished, err := task.Step(ctx)
		if err != nil {
			delete(g.running, name)
			g.Cancel()
			return true, err
		}
		if finished {
			delete(g.running, name)
			g.done[name] = true
		}
	}
	return len(g.done) == len(g.order), nil
}

func (g *graphTask) ready(name string) bool {
	for _, dep := range g.deps(name) {
		if g.member[dep] && !g.done[dep] {
			return false
		}
	}
	return true
}

// Cancel cancels every running resource task.
func (g *graphTask) Cancel() {
	for _, t := range g.running {
		if c, ok := t.(scheduler.Canceller); ok {
			c.Cancel()
		}
	}
}

func (g *graphTask) String() string {
	return g.desc
}
