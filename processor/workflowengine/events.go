package workflowengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/flowengine/engine"
)

// Command subjects. Each is a leaf under the "flowengine.cmd." prefix
// the component's consumer filters on.
const (
	subjectInitializeRoot     = "flowengine.cmd.initialize-root"
	subjectCancelRoot         = "flowengine.cmd.cancel-root"
	subjectInitializeWorkflow = "flowengine.cmd.initialize-workflow"
	subjectCancelWorkflow     = "flowengine.cmd.cancel-workflow"
	subjectInitializeWorkItem = "flowengine.cmd.initialize-workitem"
	subjectStartWorkItem      = "flowengine.cmd.start-workitem"
	subjectCompleteWorkItem   = "flowengine.cmd.complete-workitem"
	subjectFailWorkItem       = "flowengine.cmd.fail-workitem"
	subjectCancelWorkItem     = "flowengine.cmd.cancel-workitem"
)

// Event subjects published after a command's transaction commits.
const (
	eventWorkflowInitialized = "flowengine.event.workflow.initialized"
	eventWorkflowCanceled    = "flowengine.event.workflow.canceled"
	eventWorkItemInitialized = "flowengine.event.workitem.initialized"
	eventWorkItemStarted     = "flowengine.event.workitem.started"
	eventWorkItemCompleted   = "flowengine.event.workitem.completed"
	eventWorkItemFailed      = "flowengine.event.workitem.failed"
	eventWorkItemCanceled    = "flowengine.event.workitem.canceled"
	eventCommandFailed       = "flowengine.event.command.failed"
)

// commandEnvelope is the wire shape of every message on the command
// stream. Fields not relevant to a given command's Type are left zero.
type commandEnvelope struct {
	Type             string          `json:"type"`
	DefinitionName   string          `json:"definition_name,omitempty"`
	Version          string          `json:"version,omitempty"`
	WorkflowID       string          `json:"workflow_id,omitempty"`
	ParentWorkflowID string          `json:"parent_workflow_id,omitempty"`
	ParentTaskName   string          `json:"parent_task_name,omitempty"`
	TaskName         string          `json:"task_name,omitempty"`
	ActionName       string          `json:"action_name,omitempty"`
	WorkItemID       string          `json:"work_item_id,omitempty"`
	Principal        string          `json:"principal,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Offer            *engine.OfferScope `json:"offer,omitempty"`
}

// workflowEngineEvent is the wire shape of every message published to
// the event stream.
type workflowEngineEvent struct {
	Subject    string `json:"-"`
	WorkflowID string `json:"workflow_id,omitempty"`
	WorkItemID string `json:"work_item_id,omitempty"`
	Error      string `json:"error,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// handleCommands consumes the command stream and dispatches each
// envelope to the wrapped engine, publishing a result event for each.
func (c *Component) handleCommands(ctx context.Context, js jetstream.JetStream) {
	stream, err := js.Stream(ctx, c.config.CommandStreamName)
	if err != nil {
		c.logger.Error("Failed to get command stream", "stream", c.config.CommandStreamName, "error", err)
		return
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "workflow-engine-commands",
		FilterSubject: "flowengine.cmd.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		c.logger.Error("Failed to create command consumer", "error", err)
		return
	}

	c.logger.Info("Workflow engine command subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		for msg := range msgs.Messages() {
			c.processCommand(ctx, msg)
		}
	}
}

func (c *Component) processCommand(ctx context.Context, msg jetstream.Msg) {
	defer func() {
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK command", "error", err)
		}
	}()

	var env commandEnvelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		c.logger.Warn("Failed to parse command envelope", "subject", msg.Subject(), "error", err)
		return
	}

	if err := c.dispatch(ctx, msg.Subject(), &env); err != nil {
		c.logger.Error("Command failed", "subject", msg.Subject(), "error", err)
		c.publishEvent(ctx, eventCommandFailed, workflowEngineEvent{
			WorkflowID: env.WorkflowID,
			WorkItemID: env.WorkItemID,
			Error:      err.Error(),
		})
		return
	}

	c.mu.Lock()
	c.commandsHandled++
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Component) dispatch(ctx context.Context, subject string, env *commandEnvelope) error {
	switch subject {
	case subjectInitializeRoot:
		wf, err := c.engine.InitializeRoot(ctx, env.DefinitionName, env.Version)
		if err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkflowInitialized, workflowEngineEvent{WorkflowID: string(wf.ID)})
		return nil

	case subjectCancelRoot:
		if err := c.engine.CancelRoot(ctx, engine.WorkflowID(env.WorkflowID)); err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkflowCanceled, workflowEngineEvent{WorkflowID: env.WorkflowID})
		return nil

	case subjectInitializeWorkflow:
		child, err := c.engine.InitializeWorkflow(ctx, engine.WorkflowID(env.ParentWorkflowID), env.ParentTaskName, env.DefinitionName, env.Version)
		if err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkflowInitialized, workflowEngineEvent{WorkflowID: string(child.ID)})
		return nil

	case subjectCancelWorkflow:
		if err := c.engine.CancelWorkflow(ctx, engine.WorkflowID(env.WorkflowID)); err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkflowCanceled, workflowEngineEvent{WorkflowID: env.WorkflowID})
		return nil

	case subjectInitializeWorkItem:
		wi, err := c.engine.InitializeWorkItem(ctx, engine.WorkflowID(env.WorkflowID), env.TaskName, env.ActionName, env.Payload, env.Offer)
		if err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkItemInitialized, workflowEngineEvent{WorkflowID: env.WorkflowID, WorkItemID: string(wi.ID)})
		return nil

	case subjectStartWorkItem:
		if err := c.engine.StartWorkItem(ctx, engine.WorkflowID(env.WorkflowID), engine.WorkItemID(env.WorkItemID), env.Principal); err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkItemStarted, workflowEngineEvent{WorkflowID: env.WorkflowID, WorkItemID: env.WorkItemID})
		return nil

	case subjectCompleteWorkItem:
		if err := c.engine.CompleteWorkItem(ctx, engine.WorkflowID(env.WorkflowID), engine.WorkItemID(env.WorkItemID), env.Result); err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkItemCompleted, workflowEngineEvent{WorkflowID: env.WorkflowID, WorkItemID: env.WorkItemID})
		return nil

	case subjectFailWorkItem:
		if err := c.engine.FailWorkItem(ctx, engine.WorkflowID(env.WorkflowID), engine.WorkItemID(env.WorkItemID), env.Reason); err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkItemFailed, workflowEngineEvent{WorkflowID: env.WorkflowID, WorkItemID: env.WorkItemID})
		return nil

	case subjectCancelWorkItem:
		if err := c.engine.CancelWorkItem(ctx, engine.WorkflowID(env.WorkflowID), engine.WorkItemID(env.WorkItemID)); err != nil {
			return err
		}
		c.publishEvent(ctx, eventWorkItemCanceled, workflowEngineEvent{WorkflowID: env.WorkflowID, WorkItemID: env.WorkItemID})
		return nil

	default:
		return fmt.Errorf("unrecognized command subject %q", subject)
	}
}

func (c *Component) publishEvent(ctx context.Context, subject string, ev workflowEngineEvent) {
	ev.OccurredAt = time.Now().Format(time.RFC3339Nano)
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		c.logger.Error("Failed to publish event", "subject", subject, "error", err)
	}
}
