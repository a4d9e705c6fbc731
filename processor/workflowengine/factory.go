package workflowengine

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// engineSchema defines the configuration schema.
var engineSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the workflow engine component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "workflow-engine",
		Factory:     NewComponent,
		Schema:      engineSchema,
		Type:        "processor",
		Protocol:    "workflow",
		Domain:      "orchestration",
		Description: "Runs the colored Petri net workflow engine against commands received over NATS",
		Version:     "0.1.0",
	})
}
