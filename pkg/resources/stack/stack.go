// Package stack implements AWS::CloudFormation::Stack, a resource whose
// lifecycle is delegated to a child stack built from a remote template.
package stack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/template"
)

// Type is the resource type name.
const Type = "AWS::CloudFormation::Stack"

const outputPrefix = "Outputs."

// Properties are the properties of AWS::CloudFormation::Stack.
type Properties struct {
	// TemplateURL locates the child template.
	TemplateURL string `yaml:"TemplateURL" validate:"required"`

	// TimeoutInMinutes bounds the child stack action. Zero means the
	// stack default.
	TimeoutInMinutes int `yaml:"TimeoutInMinutes" validate:"min=0"`

	// Parameters are passed to the child template.
	Parameters map[string]string `yaml:"Parameters"`
}

// NestedStack is a resource backed by a child stack.
type NestedStack struct {
	engine.Base

	fetcher  engine.TemplateFetcher
	children engine.ChildStacks
	props    Properties
}

var (
	_ engine.Resource      = (*NestedStack)(nil)
	_ engine.AlwaysUpdater = (*NestedStack)(nil)
)

// New is the engine.Factory for AWS::CloudFormation::Stack.
func New(def *template.Definition, scope engine.Scope) (engine.Resource, error) {
	s := &NestedStack{Base: engine.NewBase(def, scope)}
	if err := template.DecodeProperties(def.Properties, &s.props); err != nil {
		return nil, err
	}

	s.fetcher = s.Services().Templates
	s.children = s.Services().Children
	switch {
	case s.fetcher == nil:
		return nil, engine.NewConfigurationError("no template fetcher configured", nil).WithResource(def.Name)
	case s.children == nil:
		return nil, engine.NewConfigurationError("nested stacks are not supported here", nil).WithResource(def.Name)
	}
	return s, nil
}

// HandleCreate fetches the template and starts creating the child stack.
func (s *NestedStack) HandleCreate(ctx context.Context) (engine.Handle, error) {
	tmpl, err := s.fetchTemplate(ctx, "create")
	if err != nil {
		return nil, err
	}
	return s.children.CreateChild(ctx, s.Name(), tmpl, s.props.Parameters, s.timeout())
}

// CheckCreateComplete steps the child stack creation.
func (s *NestedStack) CheckCreateComplete(ctx context.Context, h engine.Handle) (bool, error) {
	return engine.StepRunner(ctx, h)
}

// HandleUpdate re-fetches the template and updates the child stack. The
// template is fetched again even when no property changed because the
// remote document may have.
func (s *NestedStack) HandleUpdate(ctx context.Context, def *template.Definition) (engine.Handle, error) {
	var props Properties
	if err := template.DecodeProperties(def.Properties, &props); err != nil {
		return nil, engine.NewConfigurationError("invalid properties", err).
			WithResource(s.Name()).
			WithOperation("update")
	}
	s.props = props

	tmpl, err := s.fetchTemplate(ctx, "update")
	if err != nil {
		return nil, err
	}
	return s.children.UpdateChild(ctx, s.Name(), tmpl, s.props.Parameters, s.timeout())
}

// CheckUpdateComplete steps the child stack update.
func (s *NestedStack) CheckUpdateComplete(ctx context.Context, h engine.Handle) (bool, error) {
	return engine.StepRunner(ctx, h)
}

// HandleDelete starts deleting the child stack, if there is one.
func (s *NestedStack) HandleDelete(ctx context.Context) (engine.Handle, error) {
	runner, err := s.children.DeleteChild(ctx, s.Name())
	if err != nil || runner == nil {
		return nil, err
	}
	return runner, nil
}

// CheckDeleteComplete steps the child stack deletion.
func (s *NestedStack) CheckDeleteComplete(ctx context.Context, h engine.Handle) (bool, error) {
	return engine.StepRunner(ctx, h)
}

// AlwaysUpdate implements engine.AlwaysUpdater.
func (s *NestedStack) AlwaysUpdate() bool { return true }

// GetAttribute resolves "Outputs.<name>" to the child stack output.
func (s *NestedStack) GetAttribute(ctx context.Context, key string) (any, error) {
	output, ok := strings.CutPrefix(key, outputPrefix)
	if !ok || output == "" {
		return nil, engine.NewInvalidAttributeError(s.Name(), key)
	}
	return s.children.ChildOutput(ctx, s.Name(), output)
}

// RefID is the ARN of the child stack.
func (s *NestedStack) RefID() string {
	if arn := s.children.ChildARN(s.Name()); arn != "" {
		return arn
	}
	return s.Base.RefID()
}

func (s *NestedStack) timeout() time.Duration {
	return time.Duration(s.props.TimeoutInMinutes) * time.Minute
}

func (s *NestedStack) fetchTemplate(ctx context.Context, op string) (*template.Template, error) {
	url := s.props.TemplateURL

	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("Could not fetch remote template '%s'", url), err).
			WithResource(s.Name()).
			WithOperation(op)
	}

	tmpl, err := template.Parse(data)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("Could not parse remote template '%s'", url), err).
			WithResource(s.Name()).
			WithOperation(op)
	}

	s.Logger().WithField("template_url", url).Debugf("fetched %d bytes", len(data))
	return tmpl, nil
}
