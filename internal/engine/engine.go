// Package engine implements the generic Workflow Interpreter (C2): one
// Temporal workflow function, Drive, that reads a workflowdef.Workflow and
// walks its phase graph, rather than the teacher's one hardcoded Go
// function per business process (BugFix, TransformV2). Retries, timeouts,
// signals and queries all come from Temporal the same way they did for the
// teacher's workflows; only the graph being walked is now data.
package engine

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/hansjm10/jeeves/internal/activity"
	"github.com/hansjm10/jeeves/internal/jeeveserr"
	"github.com/hansjm10/jeeves/internal/model"
	"github.com/hansjm10/jeeves/internal/workflowdef"
)

// Signal and query names, named the same way the teacher's workflow
// package names its BugFix/TransformV2 signals.
const (
	SignalApprove = "approve"
	SignalReject  = "reject"
	SignalCancel  = "cancel"
	SignalSteer   = "steer"

	QueryPhase     = "get_phase"
	QueryIteration = "get_iteration"
)

// DefaultMaxIterations bounds a run when the caller does not set one,
// guarding against a workflow graph that never reaches a terminal phase.
const DefaultMaxIterations = 200

// DefaultStallLimit is how many consecutive no-transition-matched
// evaluations of the same phase are tolerated before Drive reports
// CompletionReasonStalled.
const DefaultStallLimit = 3

// SteerPayload is the signal payload for SignalSteer.
type SteerPayload struct {
	Prompt string
}

// DriveInput starts one run of a workflow graph against one issue.
type DriveInput struct {
	IssueCoordinate string
	RunID           string
	WorkflowYAML    []byte
	BaseBranch      string
	MaxIterations   int
	StallLimit      int
}

// DriveResult is Drive's terminal outcome.
type DriveResult struct {
	CompletionReason model.CompletionReason
	Iteration        int
	LastError        string
}

// Drive is the one workflow function the worker registers for every issue,
// regardless of which workflow graph it is running. It loads the workflow
// document (a pure, deterministic parse - safe to run as ordinary workflow
// code, not an activity) and then repeatedly: runs the current phase,
// evaluates its declared transitions against the phase's resulting status,
// and writes the next phase before looping (spec §4.2's five-step
// algorithm).
func Drive(ctx workflow.Context, input DriveInput) (*DriveResult, error) {
	wf, err := workflowdef.Load(input.WorkflowYAML)
	if err != nil {
		return &DriveResult{CompletionReason: model.CompletionReasonWorkflowInvalid, LastError: jeeveserr.Sanitize(err.Error())}, nil
	}

	logger := workflow.GetLogger(ctx)
	startedAt := workflow.Now(ctx)

	var (
		currentPhase    = wf.Start
		iteration       int
		cancelRequested bool
		approved        *bool
		steerRequested  bool
		steerPrompt     string
	)

	_ = workflow.SetQueryHandler(ctx, QueryPhase, func() (string, error) { return currentPhase, nil })
	_ = workflow.SetQueryHandler(ctx, QueryIteration, func() (int, error) { return iteration, nil })

	approveCh := workflow.GetSignalChannel(ctx, SignalApprove)
	rejectCh := workflow.GetSignalChannel(ctx, SignalReject)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)
	steerCh := workflow.GetSignalChannel(ctx, SignalSteer)

	doneCh := workflow.NewChannel(ctx)
	handlerDone := false
	workflow.Go(ctx, func(ctx workflow.Context) {
		for !handlerDone {
			sel := workflow.NewSelector(ctx)
			sel.AddReceive(doneCh, func(c workflow.ReceiveChannel, more bool) {
				c.Receive(ctx, nil)
				handlerDone = true
			})
			sel.AddReceive(approveCh, func(c workflow.ReceiveChannel, more bool) {
				c.Receive(ctx, nil)
				v := true
				approved = &v
			})
			sel.AddReceive(rejectCh, func(c workflow.ReceiveChannel, more bool) {
				c.Receive(ctx, nil)
				v := false
				approved = &v
			})
			sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
				c.Receive(ctx, nil)
				cancelRequested = true
			})
			sel.AddReceive(steerCh, func(c workflow.ReceiveChannel, more bool) {
				var p SteerPayload
				c.Receive(ctx, &p)
				steerRequested = true
				steerPrompt = p.Prompt
			})
			sel.Select(ctx)
		}
	})
	signalDone := func() { doneCh.Send(ctx, struct{}{}) }
	defer signalDone()

	maxIterations := input.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	stallLimit := input.StallLimit
	if stallLimit <= 0 {
		stallLimit = DefaultStallLimit
	}

	retryPolicy := &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		MaximumInterval:    time.Minute,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    5,
	}
	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         retryPolicy,
	})

	// finish persists the run's terminal RunRecord (spec §4.5's viewer feed)
	// before returning, so every exit path from Drive leaves run.json
	// consistent with the workflow's actual outcome.
	finish := func(reason model.CompletionReason, iter int, lastErr string) *DriveResult {
		lastErr = jeeveserr.Sanitize(lastErr)
		endedAt := workflow.Now(ctx)
		rec := model.RunRecord{
			RunID:            input.RunID,
			IssueCoordinate:  input.IssueCoordinate,
			Running:          false,
			StartedAt:        startedAt,
			EndedAt:          &endedAt,
			Iteration:        iter,
			MaxIterations:    maxIterations,
			CompletionReason: reason,
			LastError:        lastErr,
		}
		recordErr := workflow.ExecuteActivity(actCtx, activity.ActivityRecordRun, activity.RecordRunInput{
			IssueCoordinate: input.IssueCoordinate,
			Record:          rec,
		}).Get(actCtx, nil)
		if recordErr != nil {
			logger.Warn("failed to record run outcome", "err", recordErr)
		}

		notifyErr := workflow.ExecuteActivity(actCtx, activity.ActivityNotifyRunComplete, activity.NotifyRunCompleteInput{
			IssueCoordinate:  input.IssueCoordinate,
			CompletionReason: reason,
			LastError:        lastErr,
		}).Get(actCtx, nil)
		if notifyErr != nil {
			logger.Warn("failed to notify run completion", "err", notifyErr)
		}

		return &DriveResult{CompletionReason: reason, Iteration: iter, LastError: lastErr}
	}

	if err := workflow.ExecuteActivity(actCtx, activity.ActivityRecordRun, activity.RecordRunInput{
		IssueCoordinate: input.IssueCoordinate,
		Record: model.RunRecord{
			RunID:           input.RunID,
			IssueCoordinate: input.IssueCoordinate,
			Running:         true,
			StartedAt:       startedAt,
			MaxIterations:   maxIterations,
		},
	}).Get(actCtx, nil); err != nil {
		logger.Warn("failed to record run start", "err", err)
	}

	stallCount := 0
	for ; iteration < maxIterations; iteration++ {
		phaseDef, ok := wf.Phase(currentPhase)
		if !ok {
			return finish(model.CompletionReasonWorkflowInvalid, iteration, fmt.Sprintf("phase %q not defined", currentPhase)), nil
		}
		if phaseDef.Type == workflowdef.PhaseTypeTerminal {
			return finish(model.CompletionReasonWorkflowComplete, iteration, ""), nil
		}
		if cancelRequested {
			return finish(model.CompletionReasonCancelled, iteration, ""), nil
		}

		runInput := activity.RunPhaseInput{
			IssueCoordinate: input.IssueCoordinate,
			PhaseName:       currentPhase,
			PromptTemplate:  phaseDef.Prompt,
			MCPProfile:      phaseDef.MCPProfile,
			MCPEnforcement:  string(phaseDef.MCPEnforcement),
			PermissionMode:  phaseDef.PermissionMode,
			MaxWallClock:    phaseDef.MaxWallClock,
			RunID:           input.RunID,
			Iteration:       iteration,
		}

		if steerRequested {
			noteInput := activity.UpsertMemoryInput{
				IssueCoordinate: input.IssueCoordinate,
				Scope:           model.MemoryScopeWorkingSet,
				Key:             "steering-note",
				Value:           map[string]any{"prompt": steerPrompt},
				SourceIteration: iteration,
			}
			if err := workflow.ExecuteActivity(actCtx, activity.ActivityUpsertMemory, noteInput).Get(actCtx, nil); err != nil {
				logger.Warn("failed to record steering note", "err", err)
			}
			steerRequested = false
			steerPrompt = ""
		}

		var result activity.RunPhaseResult
		if phaseDef.Fanout {
			result, err = runFanoutPhase(actCtx, input, runInput)
		} else {
			err = workflow.ExecuteActivity(actCtx, activity.ActivityRunPhase, runInput).Get(actCtx, &result)
		}
		if err != nil {
			return finish(model.CompletionReasonError, iteration, err.Error()), nil
		}
		if result.MCPMissing {
			return finish(model.CompletionReasonMCPMissing, iteration, fmt.Sprintf("phase %q requires MCP profile %q, not available", currentPhase, phaseDef.MCPProfile)), nil
		}

		if phaseDef.PermissionMode == "require_approval" {
			ok, awaitErr := workflow.AwaitWithTimeout(ctx, 24*time.Hour, func() bool {
				return approved != nil || cancelRequested
			})
			if awaitErr != nil || !ok {
				return finish(model.CompletionReasonError, iteration, "approval timeout"), nil
			}
			if cancelRequested {
				return finish(model.CompletionReasonCancelled, iteration, ""), nil
			}
			if approved != nil && !*approved {
				return finish(model.CompletionReasonCancelled, iteration, "rejected by operator"), nil
			}
			approved = nil
		}

		nextPhase := ""
		for _, t := range phaseDef.Transitions {
			if t.Auto {
				nextPhase = t.To
				break
			}
			matched, evalErr := t.When.Eval(result.Status)
			if evalErr != nil {
				return finish(model.CompletionReasonWorkflowInvalid, iteration, fmt.Sprintf("phase %q: transition to %q: %v", currentPhase, t.To, evalErr)), nil
			}
			if matched {
				nextPhase = t.To
				break
			}
		}

		if nextPhase == "" {
			stallCount++
			if stallCount >= stallLimit {
				return finish(model.CompletionReasonStalled, iteration, fmt.Sprintf("no transition matched from phase %q after %d attempts", currentPhase, stallCount)), nil
			}
			nextPhase = currentPhase
		} else {
			stallCount = 0
		}

		advanceInput := activity.AdvancePhaseInput{
			IssueCoordinate: input.IssueCoordinate,
			Phase:           nextPhase,
			Iteration:       iteration + 1,
		}
		if err := workflow.ExecuteActivity(actCtx, activity.ActivityAdvancePhase, advanceInput).Get(actCtx, nil); err != nil {
			return finish(model.CompletionReasonError, iteration, err.Error()), nil
		}
		currentPhase = nextPhase
	}

	return finish(model.CompletionReasonMaxIterations, iteration, ""), nil
}

// runFanoutPhase dispatches one RunWorkerTask activity per ready task
// (spec §4.4's worker fan-out), provisioning and cleaning up each task's
// sandbox around its run, and waits for all of them before returning. A
// single worker's activity error never aborts the phase: per §4.4's
// Aggregation contract, it surfaces as taskFailed=true in the returned
// status so the workflow graph can route back (e.g. implement_task ->
// review -> implement_task) instead of the whole run ending in
// CompletionReasonError. Individual task outcomes also land in tasks.json
// via SetTaskStatus.
func runFanoutPhase(ctx workflow.Context, input DriveInput, base activity.RunPhaseInput) (activity.RunPhaseResult, error) {
	var ready activity.ReadyTasksResult
	if err := workflow.ExecuteActivity(ctx, activity.ActivityGetReadyTasks, input.IssueCoordinate).Get(ctx, &ready); err != nil {
		return activity.RunPhaseResult{}, err
	}

	type taskFuture struct {
		taskID string
		future workflow.Future
	}
	futures := make([]taskFuture, 0, len(ready.TaskIDs))

	for _, taskID := range ready.TaskIDs {
		var sandboxPaths activity.SandboxPathsResult
		provisionInput := activity.DeriveSandboxInput{
			IssueCoordinate: input.IssueCoordinate,
			TaskID:          taskID,
			RunID:           input.RunID,
			BaseBranch:      input.BaseBranch,
		}
		if err := workflow.ExecuteActivity(ctx, activity.ActivityProvisionWorkerSandbox, provisionInput).Get(ctx, &sandboxPaths); err != nil {
			return activity.RunPhaseResult{}, err
		}

		taskInput := activity.RunWorkerTaskInput{
			RunPhaseInput: base,
			TaskID:        taskID,
			WorkingDir:    sandboxPaths.WorktreeDir,
			StateDir:      sandboxPaths.StateDir,
		}
		futures = append(futures, taskFuture{
			taskID: taskID,
			future: workflow.ExecuteActivity(ctx, activity.ActivityRunWorkerTask, taskInput),
		})
	}

	aggregate := activity.RunPhaseResult{}
	anyFailed := false
	anySucceeded := false

	for _, tf := range futures {
		var result activity.RunPhaseResult
		taskErr := tf.future.Get(ctx, &result)

		succeeded := taskErr == nil && !result.MCPMissing
		status := model.TaskStatusPassed
		if !succeeded {
			status = model.TaskStatusFailed
		}
		setStatusInput := activity.SetTaskStatusInput{
			IssueCoordinate: input.IssueCoordinate,
			TaskID:          tf.taskID,
			Status:          status,
		}
		_ = workflow.ExecuteActivity(ctx, activity.ActivitySetTaskStatus, setStatusInput).Get(ctx, nil)

		// Cleanup only runs on success (spec §4.4): a failed or timed-out
		// task's worktree and state dir are retained for debugging, and a
		// successful task's sandbox is torn down immediately rather than
		// held open for a later fanout phase on the same task, since every
		// workflow graph this engine drives treats a task's fanout phase as
		// its single unit of sandboxed work.
		if succeeded {
			cleanupInput := activity.CleanupWorkerSandboxInput{
				IssueCoordinate: input.IssueCoordinate,
				TaskID:          tf.taskID,
				RunID:           input.RunID,
			}
			_ = workflow.ExecuteActivity(ctx, activity.ActivityCleanupWorkerSandbox, cleanupInput).Get(ctx, nil)
		}

		if succeeded {
			anySucceeded = true
			aggregate.Status = result.Status
			if result.TaskPlan != "" {
				aggregate.TaskPlan = result.TaskPlan
			}
		} else {
			anyFailed = true
		}
	}

	if !anySucceeded && !anyFailed {
		// No ready tasks at all; nothing to aggregate.
		return aggregate, nil
	}

	aggregate.Status = aggregate.Status.Merge(map[string]any{
		"taskFailed": anyFailed,
		"taskPassed": anySucceeded && !anyFailed,
	})

	return aggregate, nil
}
