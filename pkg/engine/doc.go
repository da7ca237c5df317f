// Package engine hosts resources and drives them through their lifecycle.
//
// # Lifecycle
//
// Every resource type implements Lifecycle: each of create, update and delete
// is split into a Handle* call that issues the request and a Check* call that
// is polled once per scheduling tick until it reports completion. Handle*
// returns an opaque Handle (usually a started *scheduler.Runner) that is
// passed to every matching Check* call.
//
// Base provides identity and defaults: Check* report completion immediately
// and HandleUpdate answers ErrUpdateReplace, so a type only overrides what it
// needs.
//
// # Machine
//
// Machine hosts one resource and records its current action (INIT, CREATE,
// UPDATE, DELETE), status (IN_PROGRESS, COMPLETE, FAILED) and status reason.
// A handle is held exactly while an action is in progress. Each transition is
// logged, counted, traced and appended to the event store.
//
// # Stack
//
// Stack orders the resources of a template with a dependency DAG built from
// DependsOn and Ref/Fn::GetAtt references, and exposes cooperative tasks for
// stack create, update and delete:
//
//	s, err := engine.NewStack("demo", tmpl, params, engine.StackOptions{Registry: reg})
//	runner := s.NewRunner(s.CreateTask(), 0)
//	err = runner.RunToCompletion(ctx, time.Hour)
//
// Stack also implements ChildStacks so nested stack resources create their
// children with the same registry and scheduler.
package engine
