// Package main is the jeeves operator CLI, wrapping internal/client.Client
// with cobra commands for starting and controlling Drive workflow runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hansjm10/jeeves/internal/client"
	"github.com/hansjm10/jeeves/internal/issueprovider/github"
	"github.com/hansjm10/jeeves/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "jeeves",
	Short: "jeeves operator CLI",
	Long:  "CLI for starting and controlling jeeves Drive workflow runs",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a Drive workflow run for an issue",
	RunE:  runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get a run's current phase and iteration",
	RunE:  runStatus,
}

var resultCmd = &cobra.Command{
	Use:   "result",
	Short: "Wait for and print a run's terminal result",
	RunE:  runResult,
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a run awaiting permission",
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a run awaiting permission",
	RunE:  runReject,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a run",
	RunE:  runCancel,
}

var steerCmd = &cobra.Command{
	Use:   "steer",
	Short: "Send an operator note into a run's next phase prompt",
	RunE:  runSteer,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List Drive workflow runs",
	RunE:  runList,
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issue state directories",
}

var issueStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Fetch a GitHub issue and bootstrap its state directory",
	RunE:  runIssueStart,
}

func must(err error) {
	if err != nil {
		panic(fmt.Errorf("initialization error: %w", err))
	}
}

func init() {
	runCmd.Flags().String("issue", "", "Issue coordinate, e.g. 'owner/repo#42' (required)")
	runCmd.Flags().String("run-id", "", "Run ID (defaults to a timestamp-derived value)")
	runCmd.Flags().StringP("workflow-file", "f", "", "Path to the workflow graph YAML file (required)")
	runCmd.Flags().String("base-branch", "main", "Base branch the run operates from")
	runCmd.Flags().Int("max-iterations", 50, "Maximum engine iterations before the run ends with max_iterations")
	runCmd.Flags().Int("stall-limit", 3, "Consecutive no-progress iterations before a stall abort")
	runCmd.Flags().Duration("timeout", 0, "Workflow execution timeout (0 uses the client default)")
	runCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")
	must(runCmd.MarkFlagRequired("issue"))
	must(runCmd.MarkFlagRequired("workflow-file"))

	statusCmd.Flags().String("workflow-id", "", "Workflow ID (required)")
	statusCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")
	must(statusCmd.MarkFlagRequired("workflow-id"))

	resultCmd.Flags().String("workflow-id", "", "Workflow ID (required)")
	resultCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")
	must(resultCmd.MarkFlagRequired("workflow-id"))

	approveCmd.Flags().String("workflow-id", "", "Workflow ID (required)")
	must(approveCmd.MarkFlagRequired("workflow-id"))

	rejectCmd.Flags().String("workflow-id", "", "Workflow ID (required)")
	must(rejectCmd.MarkFlagRequired("workflow-id"))

	cancelCmd.Flags().String("workflow-id", "", "Workflow ID (required)")
	must(cancelCmd.MarkFlagRequired("workflow-id"))

	steerCmd.Flags().String("workflow-id", "", "Workflow ID (required)")
	steerCmd.Flags().StringP("prompt", "p", "", "Steering note to inject (required)")
	must(steerCmd.MarkFlagRequired("workflow-id"))
	must(steerCmd.MarkFlagRequired("prompt"))

	listCmd.Flags().String("status", "", "Filter by status (Running, Completed, Failed, Canceled, Terminated, TimedOut)")
	listCmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for unlimited)")
	listCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")

	issueStartCmd.Flags().String("issue", "", "Issue coordinate, e.g. 'owner/repo#42' (required)")
	issueStartCmd.Flags().String("state-root", "", "Directory under which per-issue state directories live (required)")
	must(issueStartCmd.MarkFlagRequired("issue"))
	must(issueStartCmd.MarkFlagRequired("state-root"))
	issueCmd.AddCommand(issueStartCmd)

	rootCmd.AddCommand(runCmd, statusCmd, resultCmd, approveCmd, rejectCmd, cancelCmd, steerCmd, listCmd, issueCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	issue, _ := cmd.Flags().GetString("issue")
	runID, _ := cmd.Flags().GetString("run-id")
	workflowFile, _ := cmd.Flags().GetString("workflow-file")
	baseBranch, _ := cmd.Flags().GetString("base-branch")
	maxIterations, _ := cmd.Flags().GetInt("max-iterations")
	stallLimit, _ := cmd.Flags().GetInt("stall-limit")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	output, _ := cmd.Flags().GetString("output")

	if runID == "" {
		runID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}

	workflowYAML, err := os.ReadFile(workflowFile)
	if err != nil {
		return fmt.Errorf("failed to read workflow file: %w", err)
	}

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	workflowID, err := c.StartDrive(context.Background(), client.StartDriveInput{
		IssueCoordinate: issue,
		RunID:           runID,
		WorkflowYAML:    workflowYAML,
		BaseBranch:      baseBranch,
		MaxIterations:   maxIterations,
		StallLimit:      stallLimit,
		WorkflowTimeout: timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	if output == "json" {
		data, _ := json.MarshalIndent(map[string]string{
			"issue":       issue,
			"run_id":      runID,
			"workflow_id": workflowID,
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Started run for %s\n", issue)
	fmt.Printf("  Run ID: %s\n", runID)
	fmt.Printf("  Workflow ID: %s\n", workflowID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	workflowID, _ := cmd.Flags().GetString("workflow-id")
	output, _ := cmd.Flags().GetString("output")

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	phase, err := c.GetPhase(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to get phase: %w", err)
	}
	iteration, err := c.GetIteration(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to get iteration: %w", err)
	}

	if output == "json" {
		data, _ := json.MarshalIndent(map[string]any{
			"workflow_id": workflowID,
			"phase":       phase,
			"iteration":   iteration,
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Workflow: %s\n", workflowID)
	fmt.Printf("Phase: %s\n", phase)
	fmt.Printf("Iteration: %d\n", iteration)
	return nil
}

func runResult(cmd *cobra.Command, args []string) error {
	workflowID, _ := cmd.Flags().GetString("workflow-id")
	output, _ := cmd.Flags().GetString("output")

	if output != "json" {
		fmt.Printf("Waiting for run %s to complete...\n", workflowID)
	}

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.GetResult(context.Background(), workflowID)
	if err != nil {
		return fmt.Errorf("failed to get result: %w", err)
	}

	if output == "json" {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("\nRun Result:\n")
	fmt.Printf("  Completion reason: %s\n", result.CompletionReason)
	fmt.Printf("  Iterations: %d\n", result.Iteration)
	if result.LastError != "" {
		fmt.Printf("  Last error: %s\n", result.LastError)
	}
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	workflowID, _ := cmd.Flags().GetString("workflow-id")

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Approve(context.Background(), workflowID); err != nil {
		return fmt.Errorf("failed to approve: %w", err)
	}
	fmt.Printf("Approved: %s\n", workflowID)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	workflowID, _ := cmd.Flags().GetString("workflow-id")

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Reject(context.Background(), workflowID); err != nil {
		return fmt.Errorf("failed to reject: %w", err)
	}
	fmt.Printf("Rejected: %s\n", workflowID)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	workflowID, _ := cmd.Flags().GetString("workflow-id")

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Cancel(context.Background(), workflowID); err != nil {
		return fmt.Errorf("failed to cancel: %w", err)
	}
	fmt.Printf("Cancelled: %s\n", workflowID)
	return nil
}

func runSteer(cmd *cobra.Command, args []string) error {
	workflowID, _ := cmd.Flags().GetString("workflow-id")
	prompt, _ := cmd.Flags().GetString("prompt")

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Steer(context.Background(), workflowID, prompt); err != nil {
		return fmt.Errorf("failed to steer: %w", err)
	}
	fmt.Printf("Steered: %s\n", workflowID)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	statusFilter, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	output, _ := cmd.Flags().GetString("output")

	c, err := client.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	runs, err := c.ListRuns(context.Background(), statusFilter, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if output == "json" {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-50s %-15s %s\n", "WORKFLOW ID", "STATUS", "START TIME")
	fmt.Println(strings.Repeat("-", 90))
	for _, r := range runs {
		fmt.Printf("%-50s %-15s %s\n", r.WorkflowID, r.Status, r.StartTime)
	}
	return nil
}

func runIssueStart(cmd *cobra.Command, args []string) error {
	issueCoordinate, _ := cmd.Flags().GetString("issue")
	stateRoot, _ := cmd.Flags().GetString("state-root")

	provider := github.New(os.Getenv("GITHUB_TOKEN"))
	issue, err := provider.FetchIssue(context.Background(), issueCoordinate)
	if err != nil {
		return fmt.Errorf("failed to fetch issue: %w", err)
	}

	store, err := state.New(filepath.Join(stateRoot, sanitizeCoordinate(issueCoordinate)))
	if err != nil {
		return fmt.Errorf("failed to open state directory: %w", err)
	}
	if err := store.PutIssue(*issue); err != nil {
		return fmt.Errorf("failed to write issue record: %w", err)
	}

	fmt.Printf("Bootstrapped %s: %q\n", issueCoordinate, issue.Title)
	return nil
}

// sanitizeCoordinate must match internal/activity's sanitizeCoordinate so
// this CLI bootstraps the same on-disk directory the worker later opens.
func sanitizeCoordinate(coord string) string {
	return strings.NewReplacer("/", "__", "#", "__").Replace(coord)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
