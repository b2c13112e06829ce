package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/pdftransform/internal/models"
)

// WorkflowNotifier starts a Cloud Workflows execution for every completed job.
type WorkflowNotifier struct {
	client *executions.Client
	parent string
}

// NewWorkflowNotifier creates a notifier for the given workflow.
func NewWorkflowNotifier(ctx context.Context, projectID, location, workflowID string) (*WorkflowNotifier, error) {
	if projectID == "" || location == "" || workflowID == "" {
		return nil, fmt.Errorf("NewWorkflowNotifier: projectID, location and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowNotifier{
		client: client,
		parent: WorkflowParent(projectID, location, workflowID),
	}, nil
}

// WorkflowParent is the resource name executions are created under.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// Notify triggers one execution carrying the job's output path.
func (n *WorkflowNotifier) Notify(ctx context.Context, rec models.JobRecord) error {
	payloadBytes, err := json.Marshal(map[string]interface{}{
		"userId":     rec.UserID,
		"jobType":    rec.JobType,
		"outputPath": rec.OutputPath,
		"pageCount":  rec.PageCount,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := n.client.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}

func (n *WorkflowNotifier) Close() error {
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}
