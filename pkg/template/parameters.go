package template

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Parameter types.
const (
	ParamString         = "String"
	ParamNumber         = "Number"
	ParamCommaDelimited = "CommaDelimitedList"
)

// Pseudo parameters resolved from the owning stack.
const (
	PseudoStackName = "AWS::StackName"
	PseudoStackID   = "AWS::StackId"
	PseudoRegion    = "AWS::Region"
)

// ResolveParameters merges given values with declared defaults and converts
// them to their declared types. Values for undeclared parameters are an
// error, as are declared parameters with neither a value nor a default.
func (t *Template) ResolveParameters(given map[string]string) (map[string]any, error) {
	for name := range given {
		if _, ok := t.Parameters[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %s", name)
		}
	}

	out := make(map[string]any, len(t.Parameters))
	for name, p := range t.Parameters {
		raw, ok := given[name]
		if !ok {
			if p.Default == nil {
				return nil, fmt.Errorf("parameter %s requires a value", name)
			}
			raw = fmt.Sprint(p.Default)
		}

		if len(p.AllowedValues) > 0 && !slices.Contains(p.AllowedValues, raw) {
			return nil, fmt.Errorf("parameter %s: %q is not one of %v", name, raw, p.AllowedValues)
		}

		v, err := convertParameter(p.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func convertParameter(typ, raw string) (any, error) {
	switch typ {
	case "", ParamString:
		return raw, nil
	case ParamNumber:
		if i, err := strconv.Atoi(raw); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case ParamCommaDelimited:
		parts := strings.Split(raw, ",")
		list := make([]any, len(parts))
		for i, p := range parts {
			list[i] = strings.TrimSpace(p)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", typ)
	}
}
