package workflowengine

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// Config holds configuration for the workflow engine component.
type Config struct {
	// CommandStreamName is the JetStream stream commands are consumed from.
	CommandStreamName string `json:"command_stream_name"`

	// EventStreamName is the JetStream stream state-change events are published to.
	EventStreamName string `json:"event_stream_name"`

	// OtelEnabled forwards audit spans to the OpenTelemetry tracer provider.
	OtelEnabled bool `json:"otel_enabled"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		CommandStreamName: "FLOWENGINE_COMMANDS",
		EventStreamName:   "FLOWENGINE_EVENTS",
		OtelEnabled:       true,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "commands",
					Type:        "jetstream",
					Subject:     "flowengine.cmd.>",
					StreamName:  "FLOWENGINE_COMMANDS",
					Description: "Consume workflow commands (initialize, start, complete, fail, cancel)",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "events",
					Type:        "jetstream",
					Subject:     "flowengine.event.>",
					StreamName:  "FLOWENGINE_EVENTS",
					Description: "Publish workflow/task/work-item state-change events",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CommandStreamName == "" {
		return fmt.Errorf("command_stream_name is required")
	}
	if c.EventStreamName == "" {
		return fmt.Errorf("event_stream_name is required")
	}
	return nil
}
