package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/hansjm10/jeeves/internal/jeeveserr"
	"github.com/hansjm10/jeeves/internal/memory"
	"github.com/hansjm10/jeeves/internal/model"
	"github.com/hansjm10/jeeves/internal/promptasm"
	"github.com/hansjm10/jeeves/internal/provider"
	"github.com/hansjm10/jeeves/internal/sdkevent"
	"github.com/hansjm10/jeeves/internal/state"
)

// RunPhaseInput is the flattened set of phase fields the activity needs.
// It deliberately excludes workflowdef.Phase's Transitions: those carry
// compiled predicates that the workflow (not the activity) evaluates.
type RunPhaseInput struct {
	IssueCoordinate string
	PhaseName       string
	PromptTemplate  string
	MCPProfile      string
	MCPEnforcement  string // "strict" | "allow_degraded"
	PermissionMode  string
	MaxWallClock    string // e.g. "10m"; empty means no activity-side cap
	RunID           string
	Iteration       int
}

// RunPhaseResult is what the engine needs to select the next transition.
type RunPhaseResult struct {
	Status     model.Status
	MCPMissing bool
	TaskPlan   string
}

// RunPhase assembles the phase prompt, runs it through the configured
// AgentProvider, pumps its event stream into sdk-output.json/last-run.log,
// extracts a task plan if the agent wrote one, and returns the issue's
// status mapping as it stands once the provider's event stream closes
// (spec §4.3's phase contract).
func (a *Activities) RunPhase(ctx context.Context, in RunPhaseInput) (RunPhaseResult, error) {
	store, err := a.storeFor(in.IssueCoordinate)
	if err != nil {
		return RunPhaseResult{}, err
	}

	if !a.hasMCPServer(in.MCPProfile) {
		if in.MCPEnforcement == "allow_degraded" {
			activity.GetLogger(ctx).Warn("running phase without required MCP server", "phase", in.PhaseName, "mcp_profile", in.MCPProfile)
			_ = store.AppendRunLog(fmt.Sprintf("[MCP] DEGRADED_MODE phase %q: required MCP server %q is not available", in.PhaseName, in.MCPProfile))
		} else {
			_ = store.AppendRunLog(fmt.Sprintf("[MCP] FAIL_FAST phase %q: Missing required MCP servers: %s", in.PhaseName, in.MCPProfile))
			return RunPhaseResult{MCPMissing: true}, nil
		}
	}

	// The phase runner holds exclusive write access to the state directory
	// for the life of the phase (spec §5's single-writer invariant);
	// Temporal's activity retry policy provides the bounded backoff spec §7
	// asks for if a previous holder's lock is still live.
	lock, err := state.AcquireLock(store.Dir())
	if err != nil {
		return RunPhaseResult{}, jeeveserr.TransientIO("phase %q: %v", in.PhaseName, err)
	}
	defer lock.Release()

	_ = store.AppendProgress(fmt.Sprintf("[%s] Phase: %s iteration %d started", time.Now().UTC().Format(time.RFC3339), in.PhaseName, in.Iteration))
	_ = store.AppendRunLog(fmt.Sprintf("[RUNNER] phase %q iteration %d started", in.PhaseName, in.Iteration))

	entries, err := store.GetMemory(nil, false)
	if err != nil {
		return RunPhaseResult{}, err
	}
	memCtx := memory.BuildContext(entries, in.PhaseName)

	templateBody, err := promptasm.LoadTemplate(a.templatePath(in.PromptTemplate))
	if err != nil {
		return RunPhaseResult{}, jeeveserr.Configuration("phase.template_missing", "phase %q: %v", in.PhaseName, err)
	}
	prompt := promptasm.Assemble(a.RepoRoot, templateBody, memCtx)

	runCtx := ctx
	var cancel context.CancelFunc
	if in.MaxWallClock != "" {
		d, parseErr := time.ParseDuration(in.MaxWallClock)
		if parseErr == nil {
			runCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	events, err := a.Provider.Run(runCtx, prompt, provider.Options{
		WorkingDir:     a.RepoRoot,
		PermissionMode: in.PermissionMode,
		MCPServers:     a.MCPServers,
	})
	if err != nil {
		return RunPhaseResult{}, jeeveserr.Provider("phase.provider_run_failed", "phase %q: %v", in.PhaseName, err)
	}

	doc := sdkevent.NewDocument()
	var taskPlan string
	heartbeatEvery := 20 * time.Second
	lastHeartbeat := time.Now()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				if len(doc.Events) == 0 {
					doc.MarkFailed()
				}
				if err := store.PutSDKOutput(doc); err != nil {
					return RunPhaseResult{}, err
				}
				goto drained
			}
			doc.Append(e)
			if werr := store.PutSDKOutput(doc); werr != nil {
				return RunPhaseResult{}, werr
			}
			if werr := store.AppendRunLog(formatEventLine(e)); werr != nil {
				return RunPhaseResult{}, werr
			}
			if plan, ok := extractTaskPlan(e); ok {
				taskPlan = plan
				if werr := store.PutTaskPlan(taskPlan); werr != nil {
					return RunPhaseResult{}, werr
				}
			}
			if time.Since(lastHeartbeat) > heartbeatEvery {
				activity.RecordHeartbeat(ctx, in.PhaseName)
				lastHeartbeat = time.Now()
			}
		case <-runCtx.Done():
			doc.MarkFailed()
			_ = store.PutSDKOutput(doc)
			return RunPhaseResult{}, jeeveserr.TransientIO("phase %q: timed out waiting for provider: %w", in.PhaseName, runCtx.Err())
		}
	}

drained:
	_ = store.AppendProgress(fmt.Sprintf("[%s] Phase: %s iteration %d Ended: success=%v", time.Now().UTC().Format(time.RFC3339), in.PhaseName, in.Iteration, doc.Success))

	issue, err := store.GetIssue()
	if err != nil {
		return RunPhaseResult{}, err
	}

	return RunPhaseResult{Status: issue.Status, TaskPlan: taskPlan}, nil
}

// extractTaskPlan recognizes a Write tool use targeting a path ending
// task-plan.md inside a tool_use event and returns its content field as
// the plan body (spec §4.3 item 4). If multiple Write-to-task-plan.md
// tool uses occur across the event stream, the caller keeps overwriting
// its stored plan as each one is seen, so the last one wins.
func extractTaskPlan(e sdkevent.Event) (string, bool) {
	if e.Type != sdkevent.EventToolUse {
		return "", false
	}
	for _, tu := range e.ToolUses {
		if tu.Name != "Write" || len(tu.Input) == 0 {
			continue
		}
		var in struct {
			FilePath string `json:"file_path"`
			Content  string `json:"content"`
		}
		if err := json.Unmarshal(tu.Input, &in); err != nil {
			continue
		}
		if !strings.HasSuffix(in.FilePath, "task-plan.md") {
			continue
		}
		return in.Content, true
	}
	return "", false
}

// formatEventLine renders one provider event as a last-run.log line, tagged
// per spec §4.3 item 3(a): [SYSTEM], [ASSISTANT], [TOOL], [RESULT]. Tool use
// and tool result events share the [TOOL] tag since both describe one side
// of the same tool call. Error events get their own tag since neither
// consumer (viewer, scenario fixtures) treats them as a [RESULT] line.
func formatEventLine(e sdkevent.Event) string {
	switch e.Type {
	case sdkevent.EventSystem:
		return fmt.Sprintf("[SYSTEM] %s", e.Text)
	case sdkevent.EventAssistant:
		return fmt.Sprintf("[ASSISTANT] %s", e.Text)
	case sdkevent.EventToolUse:
		names := make([]string, 0, len(e.ToolUses))
		for _, tu := range e.ToolUses {
			names = append(names, tu.Name)
		}
		return fmt.Sprintf("[TOOL] use %v", names)
	case sdkevent.EventToolResult:
		return fmt.Sprintf("[TOOL] result %s", e.Text)
	case sdkevent.EventResult:
		return fmt.Sprintf("[RESULT] %s", e.Text)
	case sdkevent.EventError:
		return fmt.Sprintf("[ERROR] %s", e.Error)
	default:
		return fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Type)), e.Text)
	}
}

// AdvancePhaseInput carries the next phase/iteration the engine selected.
type AdvancePhaseInput struct {
	IssueCoordinate string
	Phase           string
	Iteration       int
}

// AdvancePhase writes the new current phase to issue.json. Per spec §4.2
// step 5, the engine calls this before dispatching the next phase's
// RunPhase, so a worker crash between the two never leaves an
// already-executed phase undispatched on resume.
func (a *Activities) AdvancePhase(ctx context.Context, in AdvancePhaseInput) error {
	store, err := a.storeFor(in.IssueCoordinate)
	if err != nil {
		return err
	}
	issue, err := store.GetIssue()
	if err != nil {
		return err
	}
	issue.Phase = in.Phase
	return store.PutIssue(issue)
}

// ReadyTasksResult lists the task IDs whose dependencies are all satisfied.
type ReadyTasksResult struct {
	TaskIDs []string
}

// GetReadyTasks returns the IDs of pending tasks in S/tasks.json whose
// dependsOn entries have all passed, for a fanout phase to dispatch.
func (a *Activities) GetReadyTasks(ctx context.Context, issueCoordinate string) (ReadyTasksResult, error) {
	store, err := a.storeFor(issueCoordinate)
	if err != nil {
		return ReadyTasksResult{}, err
	}
	ts, err := store.GetTasks()
	if err != nil {
		return ReadyTasksResult{}, err
	}
	return ReadyTasksResult{TaskIDs: ts.ReadyTasks()}, nil
}

// SetTaskStatusInput updates one task's status after its worker finishes.
type SetTaskStatusInput struct {
	IssueCoordinate string
	TaskID          string
	Status          model.TaskStatus
}

// SetTaskStatus updates a single task's status in tasks.json.
func (a *Activities) SetTaskStatus(ctx context.Context, in SetTaskStatusInput) error {
	store, err := a.storeFor(in.IssueCoordinate)
	if err != nil {
		return err
	}
	return store.SetTaskStatus(in.TaskID, in.Status)
}

// UpsertMemoryInput writes one memory entry ahead of a phase run.
type UpsertMemoryInput struct {
	IssueCoordinate string
	Scope           model.MemoryScope
	Key             string
	Value           map[string]any
	SourceIteration int
}

// UpsertMemory writes a single memory entry, used by the engine to carry
// an operator's steering note into the next phase's prompt context.
func (a *Activities) UpsertMemory(ctx context.Context, in UpsertMemoryInput) error {
	store, err := a.storeFor(in.IssueCoordinate)
	if err != nil {
		return err
	}
	return store.UpsertMemory(in.Scope, in.Key, in.Value, in.SourceIteration)
}

// RecordRunInput snapshots the Drive workflow's progress for the viewer.
type RecordRunInput struct {
	IssueCoordinate string
	Record          model.RunRecord
}

// RecordRun persists a RunRecord snapshot to S/.runs/<runId>/run.json.
func (a *Activities) RecordRun(ctx context.Context, in RecordRunInput) error {
	store, err := a.storeFor(in.IssueCoordinate)
	if err != nil {
		return err
	}
	return store.PutRunRecord(in.Record)
}

// NotifyRunCompleteInput describes a run's terminal outcome for the Slack
// notification hook.
type NotifyRunCompleteInput struct {
	IssueCoordinate  string
	CompletionReason model.CompletionReason
	LastError        string
}

// NotifyRunComplete posts a best-effort Slack message. a.Notifier being nil
// or disabled (no SLACK_BOT_TOKEN/SLACK_NOTIFY_CHANNEL configured) makes
// this a no-op; the engine logs but never fails a run over a notify error.
func (a *Activities) NotifyRunComplete(ctx context.Context, in NotifyRunCompleteInput) error {
	if a.Notifier == nil {
		return nil
	}
	return a.Notifier.NotifyRunComplete(ctx, in.IssueCoordinate, in.CompletionReason, in.LastError)
}
