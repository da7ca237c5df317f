// Package resources wires the built-in resource types into an engine
// registry.
package resources

import (
	"fmt"

	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/resources/stack"
	"github.com/openfroyo/stacker/pkg/resources/volume"
)

// Factories maps every built-in resource type to its factory.
func Factories() map[string]engine.Factory {
	return map[string]engine.Factory{
		volume.TypeAWSVolume:              volume.NewAWSVolume,
		volume.TypeAWSVolumeAttachment:    volume.NewAWSAttachment,
		volume.TypeCinderVolume:           volume.NewCinderVolume,
		volume.TypeCinderVolumeAttachment: volume.NewCinderAttachment,
		stack.Type:                        stack.New,
	}
}

// Register adds the built-in resource types to reg.
func Register(reg *engine.Registry) error {
	for name, factory := range Factories() {
		if err := reg.Register(name, factory); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in resource types.
func NewRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
