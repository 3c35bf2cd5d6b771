package activity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hansjm10/jeeves/internal/model"
	"github.com/hansjm10/jeeves/internal/provider/fake"
	"github.com/hansjm10/jeeves/internal/sdkevent"
)

func newTestActivities(t *testing.T, p *fake.Provider) *Activities {
	t.Helper()
	stateRoot := t.TempDir()
	repoRoot := t.TempDir()
	templateRoot := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(templateRoot, "plan.md"), []byte("Plan the work.\n"), 0o644))

	return &Activities{
		StateRoot:    stateRoot,
		RepoRoot:     repoRoot,
		TemplateRoot: templateRoot,
		Provider:     p,
	}
}

func TestRunPhase_HappyPath(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	store, err := a.storeFor("acme/widgets#1")
	require.NoError(t, err)
	require.NoError(t, store.PutIssue(model.Issue{
		Repo:        "acme/widgets",
		IssueNumber: 1,
		Phase:       "plan",
		Status:      model.Status{"ready": true},
	}))

	result, err := a.RunPhase(context.Background(), RunPhaseInput{
		IssueCoordinate: "acme/widgets#1",
		PhaseName:       "plan",
		PromptTemplate:  "plan.md",
		RunID:           "run-1",
		Iteration:       0,
	})
	require.NoError(t, err)
	require.False(t, result.MCPMissing)
	require.Equal(t, true, result.Status["ready"])
	require.Contains(t, p.CapturedPrompt, "Plan the work.")
}

func TestRunPhase_MCPMissing_Strict(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	result, err := a.RunPhase(context.Background(), RunPhaseInput{
		IssueCoordinate: "acme/widgets#2",
		PhaseName:       "plan",
		PromptTemplate:  "plan.md",
		MCPProfile:      "github",
		MCPEnforcement:  "strict",
		RunID:           "run-2",
	})
	require.NoError(t, err)
	require.True(t, result.MCPMissing)
	require.Empty(t, p.CapturedPrompt) // provider must never be invoked
}

func TestRunPhase_MCPMissing_AllowDegraded_Proceeds(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	store, err := a.storeFor("acme/widgets#3")
	require.NoError(t, err)
	require.NoError(t, store.PutIssue(model.Issue{
		Repo:        "acme/widgets",
		IssueNumber: 3,
		Phase:       "plan",
		Status:      model.Status{},
	}))

	result, err := a.RunPhase(context.Background(), RunPhaseInput{
		IssueCoordinate: "acme/widgets#3",
		PhaseName:       "plan",
		PromptTemplate:  "plan.md",
		MCPProfile:      "github",
		MCPEnforcement:  "allow_degraded",
		RunID:           "run-3",
	})
	require.NoError(t, err)
	require.False(t, result.MCPMissing)
	require.NotEmpty(t, p.CapturedPrompt)
}

func TestRunPhase_WritesSDKOutputAndLog(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	store, err := a.storeFor("acme/widgets#4")
	require.NoError(t, err)
	require.NoError(t, store.PutIssue(model.Issue{
		Repo:        "acme/widgets",
		IssueNumber: 4,
		Phase:       "plan",
		Status:      model.Status{},
	}))

	_, err = a.RunPhase(context.Background(), RunPhaseInput{
		IssueCoordinate: "acme/widgets#4",
		PhaseName:       "plan",
		PromptTemplate:  "plan.md",
		RunID:           "run-4",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(store.SDKOutputPath())
	require.NoError(t, err)
	var doc sdkevent.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.True(t, doc.Success)
	require.NotEmpty(t, doc.Events)

	_, err = os.ReadFile(store.RunLogPath())
	require.NoError(t, err)
}

func TestRunPhase_ExtractsTaskPlanFromWriteToolUse(t *testing.T) {
	ok := true
	p := &fake.Provider{Events: []sdkevent.Event{
		{Type: sdkevent.EventAssistant, Text: "plain text message, not a plan write"},
		{
			Type: sdkevent.EventToolUse,
			ToolUses: []sdkevent.ToolUse{
				{
					Name:  "Write",
					Input: json.RawMessage(`{"file_path":".jeeves/task-plan.md","content":"# Canonical Plan\n\n- Step A\n- Step B"}`),
				},
			},
		},
		{Type: sdkevent.EventResult, Success: &ok},
	}}
	a := newTestActivities(t, p)

	store, err := a.storeFor("acme/widgets#10")
	require.NoError(t, err)
	require.NoError(t, store.PutIssue(model.Issue{
		Repo:        "acme/widgets",
		IssueNumber: 10,
		Phase:       "plan",
		Status:      model.Status{},
	}))

	result, err := a.RunPhase(context.Background(), RunPhaseInput{
		IssueCoordinate: "acme/widgets#10",
		PhaseName:       "plan",
		PromptTemplate:  "plan.md",
		RunID:           "run-10",
	})
	require.NoError(t, err)
	require.Equal(t, "# Canonical Plan\n\n- Step A\n- Step B", result.TaskPlan)

	data, err := os.ReadFile(store.TaskPlanPath())
	require.NoError(t, err)
	require.Equal(t, "# Canonical Plan\n\n- Step A\n- Step B", string(data))
}

// TestRunPhase_TrivialFixtureWorkflow reproduces spec §8 scenario 1
// verbatim: a workflow with one phase, "hello", driven by a fake provider
// that yields a result event.
func TestRunPhase_TrivialFixtureWorkflow(t *testing.T) {
	stateRoot := t.TempDir()
	repoRoot := t.TempDir()
	templateRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(templateRoot, "hello.md"), []byte("Say hello.\n"), 0o644))

	a := &Activities{StateRoot: stateRoot, RepoRoot: repoRoot, TemplateRoot: templateRoot, Provider: fake.NewResultOnly()}

	store, err := a.storeFor("acme/widgets#11")
	require.NoError(t, err)
	require.NoError(t, store.PutIssue(model.Issue{
		Repo:        "acme/widgets",
		IssueNumber: 11,
		Phase:       "hello",
		Status:      model.Status{},
	}))

	result, err := a.RunPhase(context.Background(), RunPhaseInput{
		IssueCoordinate: "acme/widgets#11",
		PhaseName:       "hello",
		PromptTemplate:  "hello.md",
		RunID:           "run-11",
	})
	require.NoError(t, err)
	require.False(t, result.MCPMissing)

	data, err := os.ReadFile(store.SDKOutputPath())
	require.NoError(t, err)
	var doc sdkevent.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "jeeves.sdk.v1", doc.Schema)
	require.True(t, doc.Success)

	runLog, err := os.ReadFile(store.RunLogPath())
	require.NoError(t, err)
	require.Contains(t, string(runLog), "[RUNNER]")
	require.Contains(t, string(runLog), "[ASSISTANT]")

	progress, err := os.ReadFile(filepath.Join(store.Dir(), "progress.txt"))
	require.NoError(t, err)
	require.Contains(t, string(progress), "Phase: hello")
	require.Contains(t, string(progress), "Ended:")
}

func TestAdvancePhase_UpdatesIssuePhase(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	store, err := a.storeFor("acme/widgets#5")
	require.NoError(t, err)
	require.NoError(t, store.PutIssue(model.Issue{
		Repo:        "acme/widgets",
		IssueNumber: 5,
		Phase:       "plan",
	}))

	require.NoError(t, a.AdvancePhase(context.Background(), AdvancePhaseInput{
		IssueCoordinate: "acme/widgets#5",
		Phase:           "implement",
		Iteration:       1,
	}))

	issue, err := store.GetIssue()
	require.NoError(t, err)
	require.Equal(t, "implement", issue.Phase)
}

func TestSetTaskStatus_And_GetReadyTasks(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	store, err := a.storeFor("acme/widgets#6")
	require.NoError(t, err)
	require.NoError(t, store.PutTasks(model.TaskSet{
		SchemaVersion: 1,
		Tasks: []model.Task{
			{ID: "t1", Status: model.TaskStatusPending},
			{ID: "t2", Status: model.TaskStatusPending, DependsOn: []string{"t1"}},
		},
	}))

	ready, err := a.GetReadyTasks(context.Background(), "acme/widgets#6")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, ready.TaskIDs)

	require.NoError(t, a.SetTaskStatus(context.Background(), SetTaskStatusInput{
		IssueCoordinate: "acme/widgets#6",
		TaskID:          "t1",
		Status:          model.TaskStatusPassed,
	}))

	ready2, err := a.GetReadyTasks(context.Background(), "acme/widgets#6")
	require.NoError(t, err)
	require.Equal(t, []string{"t2"}, ready2.TaskIDs)
}

func TestUpsertMemory_WritesEntry(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	require.NoError(t, a.UpsertMemory(context.Background(), UpsertMemoryInput{
		IssueCoordinate: "acme/widgets#7",
		Scope:           model.MemoryScopeWorkingSet,
		Key:             "steering-note",
		Value:           map[string]any{"prompt": "also fix tests"},
		SourceIteration: 3,
	}))

	store, err := a.storeFor("acme/widgets#7")
	require.NoError(t, err)
	entries, err := store.GetMemory(nil, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "steering-note", entries[0].Key)
}

func TestRecordRun_RoundTrip(t *testing.T) {
	p := fake.NewResultOnly()
	a := newTestActivities(t, p)

	rec := model.RunRecord{
		RunID:            "run-9",
		IssueCoordinate:  "acme/widgets#8",
		CompletionReason: model.CompletionReasonWorkflowComplete,
	}
	require.NoError(t, a.RecordRun(context.Background(), RecordRunInput{
		IssueCoordinate: "acme/widgets#8",
		Record:          rec,
	}))

	store, err := a.storeFor("acme/widgets#8")
	require.NoError(t, err)
	got, err := store.GetRunRecord("run-9")
	require.NoError(t, err)
	require.Equal(t, model.CompletionReasonWorkflowComplete, got.CompletionReason)
}
