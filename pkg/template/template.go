// Package template parses stack templates and evaluates their intrinsic
// functions.
//
// Templates are accepted in JSON or YAML with CloudFormation-style sections:
//
//	Description: two volumes
//	Parameters:
//	  Size: {Type: Number, Default: 1}
//	Resources:
//	  Data:
//	    Type: OS::Cinder::Volume
//	    Properties: {size: {Ref: Size}}
//	Outputs:
//	  DataID: {Value: {Ref: Data}}
//
// Property values may use {"Ref": name}, {"Fn::GetAtt": [resource, attribute]}
// and {"Fn::Join": [delimiter, [values...]]}.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Template is a parsed stack template.
type Template struct {
	Description string                 `yaml:"Description,omitempty"`
	Parameters  map[string]Parameter   `yaml:"Parameters,omitempty"`
	Resources   map[string]*Definition `yaml:"Resources,omitempty"`
	Outputs     map[string]Output      `yaml:"Outputs,omitempty"`
}

// Parameter declares a template input.
type Parameter struct {
	Type          string   `yaml:"Type"`
	Default       any      `yaml:"Default,omitempty"`
	Description   string   `yaml:"Description,omitempty"`
	AllowedValues []string `yaml:"AllowedValues,omitempty"`
}

// Definition is the template snippet of one resource.
type Definition struct {
	Name           string         `yaml:"-"`
	Type           string         `yaml:"Type"`
	Properties     map[string]any `yaml:"Properties,omitempty"`
	DependsOn      StringList     `yaml:"DependsOn,omitempty"`
	DeletionPolicy string         `yaml:"DeletionPolicy,omitempty"`
}

// Output declares a stack output.
type Output struct {
	Value       any    `yaml:"Value"`
	Description string `yaml:"Description,omitempty"`
}

// Deletion policies.
const (
	DeletionPolicyDelete   = "Delete"
	DeletionPolicyRetain   = "Retain"
	DeletionPolicySnapshot = "Snapshot"
)

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = StringList{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// Parse parses a JSON or YAML template. The document must be a mapping; an
// empty document is an empty template.
func Parse(data []byte) (*Template, error) {
	raw, err := parseDocument(data)
	if err != nil {
		return nil, err
	}

	tmpl := &Template{}
	if err := convert(raw, tmpl); err != nil {
		return nil, fmt.Errorf("invalid template structure: %w", err)
	}

	for name, def := range tmpl.Resources {
		if def == nil {
			return nil, fmt.Errorf("resource %s has no definition", name)
		}
		if def.Type == "" {
			return nil, fmt.Errorf("resource %s has no Type", name)
		}
		def.Name = name
	}

	return tmpl, nil
}

func parseDocument(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}

	var doc any
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON template: %w", err)
		}
	} else if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML template: %w", err)
	}

	switch m := doc.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("template must be a mapping, got %T", doc)
	}
}

// ResourceNames returns the resource names in sorted order.
func (t *Template) ResourceNames() []string {
	names := make([]string, 0, len(t.Resources))
	for name := range t.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convert copies a generic value into a typed one through YAML.
func convert(in, out any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
