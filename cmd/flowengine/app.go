package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats-server/v2/server"

	"github.com/c360studio/flowengine/config"
	"github.com/c360studio/flowengine/processor/workflowengine"
)

// App wires together the embedded or external NATS connection and the
// workflow engine component.
type App struct {
	cfg *config.Config

	embeddedServer *server.Server
	natsClient     *natsclient.Client

	engineComponent *workflowengine.Component
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config) (*App, error) {
	return &App{cfg: cfg}, nil
}

// Start initializes NATS and starts the workflow engine component.
func (a *App) Start(ctx context.Context) error {
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	rawConfig, err := json.Marshal(workflowengine.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal component config: %w", err)
	}

	discoverable, err := workflowengine.NewComponent(rawConfig, component.Dependencies{
		NATSClient: a.natsClient,
		Platform:   component.PlatformMeta{},
	})
	if err != nil {
		return fmt.Errorf("create workflow engine component: %w", err)
	}
	comp := discoverable.(*workflowengine.Component)

	if err := comp.Initialize(); err != nil {
		return fmt.Errorf("initialize workflow engine component: %w", err)
	}
	if err := comp.Start(ctx); err != nil {
		return fmt.Errorf("start workflow engine component: %w", err)
	}
	a.engineComponent = comp

	fmt.Println("flowengine components initialized")
	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		fmt.Printf("Connecting to NATS at %s...\n", a.cfg.NATS.URL)
		client, err := natsclient.NewClient(a.cfg.NATS.URL,
			natsclient.WithName("flowengine"),
			natsclient.WithMaxReconnects(5),
			natsclient.WithReconnectWait(time.Second),
		)
		if err != nil {
			return fmt.Errorf("create NATS client: %w", err)
		}
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsClient = client
		return nil
	}

	fmt.Println("Starting embedded NATS server...")
	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("embedded NATS server failed to start")
	}
	a.embeddedServer = ns

	client, err := natsclient.NewClient(ns.ClientURL(), natsclient.WithName("flowengine"))
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		ns.Shutdown()
		return fmt.Errorf("connect to embedded NATS: %w", err)
	}
	a.natsClient = client
	return nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	fmt.Println("\nShutting down...")

	if a.engineComponent != nil {
		if err := a.engineComponent.Stop(timeout); err != nil {
			fmt.Fprintf(os.Stderr, "stop workflow engine component: %v\n", err)
		}
	}

	if a.natsClient != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.natsClient.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "close NATS client: %v\n", err)
		}
	}

	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	fmt.Println("Goodbye!")
}
