package template

import (
	"fmt"
	"sort"
	"strings"
)

// Intrinsic function keys.
const (
	FnRef    = "Ref"
	FnGetAtt = "Fn::GetAtt"
	FnJoin   = "Fn::Join"
)

// Resolver supplies the values intrinsic functions refer to.
type Resolver interface {
	// Parameter returns a parameter or pseudo parameter value.
	Parameter(name string) (any, bool)

	// RefID returns the reference id of a resource.
	RefID(resource string) (string, error)

	// Attribute returns an attribute of a resource.
	Attribute(resource, attribute string) (any, error)
}

// Resolve evaluates every intrinsic function in v and returns the result.
func Resolve(v any, r Resolver) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if fn, arg, ok := intrinsic(val); ok {
			return resolveFunction(fn, arg, r)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := Resolve(item, r)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := Resolve(item, r)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveProperties resolves a property map.
func ResolveProperties(props map[string]any, r Resolver) (map[string]any, error) {
	resolved, err := Resolve(map[string]any(props), r)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func intrinsic(m map[string]any) (string, any, bool) {
	if len(m) != 1 {
		return "", nil, false
	}
	for k, v := range m {
		switch k {
		case FnRef, FnGetAtt, FnJoin:
			return k, v, true
		}
	}
	return "", nil, false
}

func resolveFunction(fn string, arg any, r Resolver) (any, error) {
	switch fn {
	case FnRef:
		name, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("%s argument must be a string, got %T", FnRef, arg)
		}
		if v, ok := r.Parameter(name); ok {
			return v, nil
		}
		return r.RefID(name)

	case FnGetAtt:
		resource, attribute, err := getAttArgs(arg)
		if err != nil {
			return nil, err
		}
		return r.Attribute(resource, attribute)

	case FnJoin:
		args, ok := arg.([]any)
		if !ok || len(args) != 2 {
			return nil, fmt.Errorf("%s requires [delimiter, [values]]", FnJoin)
		}
		delim, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s delimiter must be a string", FnJoin)
		}
		resolved, err := Resolve(args[1], r)
		if err != nil {
			return nil, err
		}
		items, ok := resolved.([]any)
		if !ok {
			return nil, fmt.Errorf("%s values must be a list", FnJoin)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, delim), nil
	}
	return nil, fmt.Errorf("unknown function %s", fn)
}

func getAttArgs(arg any) (string, string, error) {
	args, ok := arg.([]any)
	if !ok || len(args) != 2 {
		return "", "", fmt.Errorf("%s requires [resource, attribute]", FnGetAtt)
	}
	resource, ok1 := args[0].(string)
	attribute, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("%s arguments must be strings", FnGetAtt)
	}
	return resource, attribute, nil
}

// References returns the sorted names referenced by Ref or Fn::GetAtt inside
// v. Ref targets include parameters; callers filter against known resources.
func References(v any) []string {
	seen := make(map[string]struct{})
	collectReferences(v, seen)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectReferences(v any, seen map[string]struct{}) {
	switch val := v.(type) {
	case map[string]any:
		if fn, arg, ok := intrinsic(val); ok {
			switch fn {
			case FnRef:
				if name, ok := arg.(string); ok {
					seen[name] = struct{}{}
				}
				return
			case FnGetAtt:
				if resource, _, err := getAttArgs(arg); err == nil {
					seen[resource] = struct{}{}
				}
				return
			}
		}
		for _, item := range val {
			collectReferences(item, seen)
		}
	case []any:
		for _, item := range val {
			collectReferences(item, seen)
		}
	}
}

// Dependencies returns the resources a definition depends on: explicit
// DependsOn entries plus every resource its properties reference.
func (t *Template) Dependencies(def *Definition) []string {
	seen := make(map[string]struct{})
	for _, dep := range def.DependsOn {
		seen[dep] = struct{}{}
	}
	for _, ref := range References(def.Properties) {
		if _, ok := t.Resources[ref]; ok && ref != def.Name {
			seen[ref] = struct{}{}
		}
	}

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}
