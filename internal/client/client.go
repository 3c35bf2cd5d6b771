// Package client provides Temporal client utilities for starting and
// controlling Drive workflow runs, trimmed from the teacher's
// workflow-specific Transform wrapper down to the handful of operations
// cmd/jeeves-cli and cmd/jeeves-worker actually need against the single
// generic internal/engine.Drive workflow.
package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/hansjm10/jeeves/internal/engine"
)

// TaskQueue is the default task queue Drive workflows and their activities
// run on.
const TaskQueue = "jeeves-tasks"

// DefaultWorkflowTimeoutBuffer pads a run's workflow execution timeout past
// its iteration budget, to allow the final phase's activity retries room to
// finish before Temporal times out the whole workflow.
const DefaultWorkflowTimeoutBuffer = 30 * time.Minute

var validWorkflowStatuses = map[string]bool{
	"Running":    true,
	"Completed":  true,
	"Failed":     true,
	"Canceled":   true,
	"Terminated": true,
	"TimedOut":   true,
}

// Client wraps the Temporal client used by the CLI's commands.
type Client struct {
	temporal client.Client
}

// NewClient dials the Temporal frontend named by TEMPORAL_ADDRESS, falling
// back to the local dev default.
func NewClient() (*Client, error) {
	addr := os.Getenv("TEMPORAL_ADDRESS")
	if addr == "" {
		addr = "localhost:7233"
	}
	c, err := client.Dial(client.Options{HostPort: addr})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return &Client{temporal: c}, nil
}

// Close closes the underlying Temporal client connection.
func (c *Client) Close() {
	c.temporal.Close()
}

// StartDriveInput names one run to start.
type StartDriveInput struct {
	IssueCoordinate string
	RunID           string
	WorkflowYAML    []byte
	BaseBranch      string
	MaxIterations   int
	StallLimit      int
	WorkflowTimeout time.Duration
}

// StartDrive starts a new Drive workflow run for an issue.
func (c *Client) StartDrive(ctx context.Context, in StartDriveInput) (string, error) {
	workflowID := fmt.Sprintf("drive-%s-%s", sanitizeID(in.IssueCoordinate), in.RunID)

	timeout := in.WorkflowTimeout
	if timeout <= 0 {
		timeout = 24*time.Hour + DefaultWorkflowTimeoutBuffer
	}

	options := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                TaskQueue,
		WorkflowExecutionTimeout: timeout,
	}

	we, err := c.temporal.ExecuteWorkflow(ctx, options, engine.Drive, engine.DriveInput{
		IssueCoordinate: in.IssueCoordinate,
		RunID:           in.RunID,
		WorkflowYAML:    in.WorkflowYAML,
		BaseBranch:      in.BaseBranch,
		MaxIterations:   in.MaxIterations,
		StallLimit:      in.StallLimit,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start workflow: %w", err)
	}
	return we.GetID(), nil
}

// GetPhase queries a run's current phase name.
func (c *Client) GetPhase(ctx context.Context, workflowID string) (string, error) {
	resp, err := c.temporal.QueryWorkflow(ctx, workflowID, "", engine.QueryPhase)
	if err != nil {
		return "", fmt.Errorf("failed to query phase: %w", err)
	}
	var phase string
	if err := resp.Get(&phase); err != nil {
		return "", fmt.Errorf("failed to decode phase: %w", err)
	}
	return phase, nil
}

// GetIteration queries a run's current iteration count.
func (c *Client) GetIteration(ctx context.Context, workflowID string) (int, error) {
	resp, err := c.temporal.QueryWorkflow(ctx, workflowID, "", engine.QueryIteration)
	if err != nil {
		return 0, fmt.Errorf("failed to query iteration: %w", err)
	}
	var iteration int
	if err := resp.Get(&iteration); err != nil {
		return 0, fmt.Errorf("failed to decode iteration: %w", err)
	}
	return iteration, nil
}

// GetResult waits for and returns a run's terminal DriveResult.
func (c *Client) GetResult(ctx context.Context, workflowID string) (*engine.DriveResult, error) {
	run := c.temporal.GetWorkflow(ctx, workflowID, "")
	var result engine.DriveResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get workflow result: %w", err)
	}
	return &result, nil
}

// Approve sends an approval signal to a run awaiting permission_mode
// require_approval.
func (c *Client) Approve(ctx context.Context, workflowID string) error {
	return c.temporal.SignalWorkflow(ctx, workflowID, "", engine.SignalApprove, nil)
}

// Reject sends a rejection signal to a run awaiting approval.
func (c *Client) Reject(ctx context.Context, workflowID string) error {
	return c.temporal.SignalWorkflow(ctx, workflowID, "", engine.SignalReject, nil)
}

// Cancel sends a cancellation signal to a run.
func (c *Client) Cancel(ctx context.Context, workflowID string) error {
	return c.temporal.SignalWorkflow(ctx, workflowID, "", engine.SignalCancel, nil)
}

// Steer sends an operator steering note into the run's next phase prompt.
func (c *Client) Steer(ctx context.Context, workflowID, prompt string) error {
	return c.temporal.SignalWorkflow(ctx, workflowID, "", engine.SignalSteer, engine.SteerPayload{Prompt: prompt})
}

// WorkflowInfo summarizes one workflow execution for list views.
type WorkflowInfo struct {
	WorkflowID string
	RunID      string
	Status     string
	StartTime  string
}

// ListRuns lists Drive workflow executions matching an optional Temporal
// execution status filter, with pagination collapsed behind a limit.
func (c *Client) ListRuns(ctx context.Context, statusFilter string, limit int) ([]WorkflowInfo, error) {
	query := `WorkflowType = "Drive"`
	if statusFilter != "" {
		if !validWorkflowStatuses[statusFilter] {
			return nil, fmt.Errorf("invalid status filter: %q (valid: Running, Completed, Failed, Canceled, Terminated, TimedOut)", statusFilter)
		}
		query += fmt.Sprintf(` AND ExecutionStatus = "%s"`, statusFilter)
	}

	var runs []WorkflowInfo
	var nextPageToken []byte
	for {
		resp, err := c.temporal.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
			Query:         query,
			NextPageToken: nextPageToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list workflows: %w", err)
		}
		for _, wf := range resp.Executions {
			if limit > 0 && len(runs) >= limit {
				break
			}
			runs = append(runs, WorkflowInfo{
				WorkflowID: wf.Execution.WorkflowId,
				RunID:      wf.Execution.RunId,
				Status:     wf.Status.String(),
				StartTime:  wf.StartTime.AsTime().Format(time.RFC3339),
			})
		}
		nextPageToken = resp.NextPageToken
		if len(nextPageToken) == 0 || (limit > 0 && len(runs) >= limit) {
			break
		}
	}
	return runs, nil
}

func sanitizeID(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
