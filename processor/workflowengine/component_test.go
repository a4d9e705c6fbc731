package workflowengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/flowengine/engine"
)

func TestNewComponentUnit(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{name: "defaults applied for empty config", rawConfig: json.RawMessage(`{}`), wantErr: false},
		{name: "invalid JSON", rawConfig: json.RawMessage(`{invalid`), wantErr: true},
		{name: "empty command stream name falls back to default", rawConfig: json.RawMessage(`{"command_stream_name":"","event_stream_name":"X"}`), wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := component.Dependencies{Logger: slog.Default()}
			_, err := NewComponent(tt.rawConfig, deps)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestComponentLifecycleWithoutNATS(t *testing.T) {
	c := &Component{
		name:   "workflow-engine",
		logger: slog.Default(),
		config: DefaultConfig(),
	}

	require.NoError(t, c.Initialize())
	require.NoError(t, c.Stop(time.Second), "stopping an already-stopped component must be a no-op")
}

func TestComponentStartWithoutNATSClientErrors(t *testing.T) {
	c := &Component{
		name:   "workflow-engine",
		logger: slog.Default(),
		config: DefaultConfig(),
	}

	err := c.Start(context.Background())
	require.Error(t, err)

	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	require.False(t, running)
}

func TestComponentMeta(t *testing.T) {
	c := &Component{name: "workflow-engine"}
	meta := c.Meta()
	require.Equal(t, "workflow-engine", meta.Name)
	require.Equal(t, "processor", meta.Type)
	require.NotEmpty(t, meta.Description)
}

func TestComponentHealthReflectsRunningState(t *testing.T) {
	c := &Component{name: "workflow-engine", logger: slog.Default()}

	health := c.Health()
	require.False(t, health.Healthy)
	require.Equal(t, "stopped", health.Status)

	c.mu.Lock()
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	health = c.Health()
	require.True(t, health.Healthy)
	require.Equal(t, "running", health.Status)
	require.NotZero(t, health.Uptime)
}

func TestComponentPorts(t *testing.T) {
	c := &Component{config: DefaultConfig()}

	inputs := c.InputPorts()
	require.Len(t, inputs, 1)
	require.Equal(t, "commands", inputs[0].Name)

	outputs := c.OutputPorts()
	require.Len(t, outputs, 1)
	require.Equal(t, "events", outputs[0].Name)
}

func TestWithDefinitionsInstallsRegistrar(t *testing.T) {
	c := &Component{config: DefaultConfig()}
	called := false
	c.WithDefinitions(definitionsFunc(func(e *engine.Engine) error {
		called = true
		return nil
	}))

	require.NoError(t, c.definitions.Register(nil))
	require.True(t, called)
}

type definitionsFunc func(e *engine.Engine) error

func (f definitionsFunc) Register(e *engine.Engine) error { return f(e) }
