package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// WorkflowNotifier starts a downstream workflow execution when a run ends.
type WorkflowNotifier struct {
	client *executions.Client
	parent string
}

func NewWorkflowNotifier(client *executions.Client, projectID, location, workflowID string) *WorkflowNotifier {
	return &WorkflowNotifier{client: client, parent: WorkflowParent(projectID, location, workflowID)}
}

func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// Notify passes the run summary as the execution argument.
func (n *WorkflowNotifier) Notify(ctx context.Context, summary models.RunSummary) error {
	payloadBytes, err := json.Marshal(models.NewRunNotification(summary))
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create workflow execution: %w", err)
	}
	slog.Info("Workflow execution started", "execution", exec.GetName(), "session", summary.SessionID)
	return nil
}
