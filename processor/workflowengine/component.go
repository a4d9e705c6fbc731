// Package workflowengine wraps the colored Petri net workflow engine as a
// NATS-facing component: it consumes commands from a JetStream stream,
// drives engine.Engine, and publishes the resulting state-change events.
package workflowengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/flowengine/audit"
	"github.com/c360studio/flowengine/engine"
	"github.com/c360studio/flowengine/scheduler"
	"github.com/c360studio/flowengine/store"
)

// Definitions is satisfied by any package that knows how to build and
// register the engine.Definition values this deployment serves. Kept
// as an interface so the component does not need to depend on any
// particular workflow's definition package.
type Definitions interface {
	Register(e *engine.Engine) error
}

// Component implements the workflow-engine processor.
type Component struct {
	name        string
	config      Config
	natsClient  *natsclient.Client
	logger      *slog.Logger
	platform    component.PlatformMeta
	definitions Definitions

	engine *engine.Engine
	js     jetstream.JetStream
	sched  *scheduler.CronScheduler

	mu              sync.RWMutex
	running         bool
	startTime       time.Time
	cancelFunc      context.CancelFunc
	commandsHandled int64
	lastActivity    time.Time
}

var engineComponentSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// NewComponent creates a new workflow engine component. Definitions
// registered against the engine are supplied later via WithDefinitions,
// since the deployment's own definition package is not known generically
// here; a component with no definitions registered still runs, but every
// InitializeRoot/InitializeWorkflow command will fail with ErrNotFound.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.CommandStreamName == "" {
		config.CommandStreamName = defaults.CommandStreamName
	}
	if config.EventStreamName == "" {
		config.EventStreamName = defaults.EventStreamName
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "workflow-engine",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		platform:   deps.Platform,
	}, nil
}

// WithDefinitions installs the workflow definitions this deployment
// serves. Must be called before Start.
func (c *Component) WithDefinitions(defs Definitions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions = defs
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized workflow engine",
		"command_stream", c.config.CommandStreamName,
		"event_stream", c.config.EventStreamName)
	return nil
}

// Start wires the marking store, scheduler, and audit emitter, then
// begins consuming commands.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream context: %w", err)
	}

	st, err := store.NewNatsStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create marking store: %w", err)
	}

	sched := scheduler.NewCronScheduler()

	var emitter engine.SpanEmitter
	if c.config.OtelEnabled {
		otelEmitter := audit.NewOtelEmitter("flowengine")
		recorder, err := audit.NewNatsRecorder(ctx, js, otelEmitter)
		if err != nil {
			sched.Stop()
			return fmt.Errorf("create audit recorder: %w", err)
		}
		emitter = recorder
	} else {
		recorder, err := audit.NewNatsRecorder(ctx, js, nil)
		if err != nil {
			sched.Stop()
			return fmt.Errorf("create audit recorder: %w", err)
		}
		emitter = recorder
	}

	eng := engine.New(st, sched, emitter)

	c.mu.Lock()
	if c.definitions != nil {
		if err := c.definitions.Register(eng); err != nil {
			c.mu.Unlock()
			sched.Stop()
			return fmt.Errorf("register definitions: %w", err)
		}
	}
	c.engine = eng
	c.js = js
	c.sched = sched

	watchCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	if _, err := ensureStream(ctx, js, c.config.CommandStreamName, "flowengine.cmd.>"); err != nil {
		return fmt.Errorf("ensure command stream: %w", err)
	}
	if _, err := ensureStream(ctx, js, c.config.EventStreamName, "flowengine.event.>"); err != nil {
		return fmt.Errorf("ensure event stream: %w", err)
	}

	c.logger.Info("Workflow engine started",
		"command_stream", c.config.CommandStreamName,
		"event_stream", c.config.EventStreamName)

	go c.handleCommands(watchCtx, js)

	return nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name, subject string) (jetstream.Stream, error) {
	stream, err := js.Stream(ctx, name)
	if err == nil {
		return stream, nil
	}
	return js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{subject},
	})
}

// Stop halts command consumption.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	if c.sched != nil {
		c.sched.Stop()
	}
	c.running = false
	c.logger.Info("Workflow engine stopped", "commands_handled", c.commandsHandled)
	return nil
}

// Discoverable interface implementation

func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "workflow-engine",
		Type:        "processor",
		Description: "Runs the colored Petri net workflow engine against NATS commands",
		Version:     "0.1.0",
	}
}

func (c *Component) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "commands",
			Direction:   component.DirectionInput,
			Description: "Consume workflow commands",
			Config: component.JetStreamPort{
				StreamName: c.config.CommandStreamName,
				Subjects:   []string{"flowengine.cmd.>"},
			},
		},
	}
}

func (c *Component) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "events",
			Direction:   component.DirectionOutput,
			Description: "Publish workflow/task/work-item state-change events",
			Config: component.JetStreamPort{
				StreamName: c.config.EventStreamName,
				Subjects:   []string{"flowengine.event.>"},
			},
		},
	}
}

func (c *Component) ConfigSchema() component.ConfigSchema {
	return engineComponentSchema
}

func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := "stopped"
	if c.running {
		status = "running"
	}
	return component.HealthStatus{
		Healthy:    c.running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(c.startTime),
		Status:     status,
	}
}

func (c *Component) DataFlow() component.FlowMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.lastActivity,
	}
}
