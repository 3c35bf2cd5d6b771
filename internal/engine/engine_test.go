package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	jeevesactivity "github.com/hansjm10/jeeves/internal/activity"
	"github.com/hansjm10/jeeves/internal/model"
)

// mockActivities gives each activity name its own testify expectation,
// the same shape as the teacher's AgentMockActivities.
type mockActivities struct {
	mock.Mock
}

func (m *mockActivities) RunPhase(ctx context.Context, in jeevesactivity.RunPhaseInput) (jeevesactivity.RunPhaseResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(jeevesactivity.RunPhaseResult), args.Error(1)
}

func (m *mockActivities) AdvancePhase(ctx context.Context, in jeevesactivity.AdvancePhaseInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockActivities) UpsertMemory(ctx context.Context, in jeevesactivity.UpsertMemoryInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockActivities) GetReadyTasks(ctx context.Context, issueCoordinate string) (jeevesactivity.ReadyTasksResult, error) {
	args := m.Called(ctx, issueCoordinate)
	return args.Get(0).(jeevesactivity.ReadyTasksResult), args.Error(1)
}

func (m *mockActivities) SetTaskStatus(ctx context.Context, in jeevesactivity.SetTaskStatusInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockActivities) ProvisionWorkerSandbox(ctx context.Context, in jeevesactivity.DeriveSandboxInput) (jeevesactivity.SandboxPathsResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(jeevesactivity.SandboxPathsResult), args.Error(1)
}

func (m *mockActivities) CleanupWorkerSandbox(ctx context.Context, in jeevesactivity.CleanupWorkerSandboxInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockActivities) RunWorkerTask(ctx context.Context, in jeevesactivity.RunWorkerTaskInput) (jeevesactivity.RunPhaseResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(jeevesactivity.RunPhaseResult), args.Error(1)
}

func (m *mockActivities) RecordRun(ctx context.Context, in jeevesactivity.RecordRunInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockActivities) NotifyRunComplete(ctx context.Context, in jeevesactivity.NotifyRunCompleteInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

// registerCoreActivities registers the activities every Drive test needs and
// stubs RecordRun unconditionally, since every run now persists a start and
// a terminal run record regardless of which path a given test exercises.
func registerCoreActivities(env *testsuite.TestWorkflowEnvironment, m *mockActivities) {
	env.RegisterActivityWithOptions(m.RunPhase, activity.RegisterOptions{Name: jeevesactivity.ActivityRunPhase})
	env.RegisterActivityWithOptions(m.AdvancePhase, activity.RegisterOptions{Name: jeevesactivity.ActivityAdvancePhase})
	env.RegisterActivityWithOptions(m.UpsertMemory, activity.RegisterOptions{Name: jeevesactivity.ActivityUpsertMemory})
	env.RegisterActivityWithOptions(m.RecordRun, activity.RegisterOptions{Name: jeevesactivity.ActivityRecordRun})
	env.RegisterActivityWithOptions(m.NotifyRunComplete, activity.RegisterOptions{Name: jeevesactivity.ActivityNotifyRunComplete})
	m.On("RecordRun", mock.Anything, mock.Anything).Return(nil)
	m.On("NotifyRunComplete", mock.Anything, mock.Anything).Return(nil)
}

const simpleTwoPhaseYAML = `
workflow:
  name: simple
  version: 1
  start: plan
phases:
  plan:
    type: execute
    prompt: plan.md
    transitions:
      - to: done
        when: "status.ready == true"
  done:
    type: terminal
`

func TestDrive_WorkflowComplete(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	m := &mockActivities{}
	registerCoreActivities(env, m)

	m.On("RunPhase", mock.Anything, mock.Anything).Return(
		jeevesactivity.RunPhaseResult{Status: model.Status{"ready": true}}, nil,
	)
	m.On("AdvancePhase", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-1",
		WorkflowYAML:    []byte(simpleTwoPhaseYAML),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonWorkflowComplete, result.CompletionReason)
}

func TestDrive_Stalls_WhenNoTransitionMatches(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	m := &mockActivities{}
	registerCoreActivities(env, m)

	m.On("RunPhase", mock.Anything, mock.Anything).Return(
		jeevesactivity.RunPhaseResult{Status: model.Status{"ready": false}}, nil,
	)
	m.On("AdvancePhase", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-2",
		WorkflowYAML:    []byte(simpleTwoPhaseYAML),
		StallLimit:      2,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonStalled, result.CompletionReason)
}

func TestDrive_InvalidWorkflowYAML(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-3",
		WorkflowYAML:    []byte("not: [valid"),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonWorkflowInvalid, result.CompletionReason)
}

func TestDrive_MCPMissing_StrictEnforcement(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	m := &mockActivities{}
	registerCoreActivities(env, m)

	m.On("RunPhase", mock.Anything, mock.Anything).Return(
		jeevesactivity.RunPhaseResult{MCPMissing: true}, nil,
	)

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-4",
		WorkflowYAML:    []byte(simpleTwoPhaseYAML),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonMCPMissing, result.CompletionReason)
}

func TestDrive_CancelSignal(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	m := &mockActivities{}
	registerCoreActivities(env, m)

	m.On("RunPhase", mock.Anything, mock.Anything).Return(
		jeevesactivity.RunPhaseResult{Status: model.Status{"ready": false}}, nil,
	)
	m.On("AdvancePhase", mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, nil)
	}, 0)

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-5",
		WorkflowYAML:    []byte(simpleTwoPhaseYAML),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonCancelled, result.CompletionReason)
}

const approvalYAML = `
workflow:
  name: needs-approval
  version: 1
  start: review
phases:
  review:
    type: execute
    prompt: review.md
    permission_mode: require_approval
    transitions:
      - to: done
        auto: true
  done:
    type: terminal
`

func TestDrive_RequireApproval_Approved(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	m := &mockActivities{}
	registerCoreActivities(env, m)

	m.On("RunPhase", mock.Anything, mock.Anything).Return(
		jeevesactivity.RunPhaseResult{Status: model.Status{}}, nil,
	)
	m.On("AdvancePhase", mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalApprove, nil)
	}, 0)

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-6",
		WorkflowYAML:    []byte(approvalYAML),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonWorkflowComplete, result.CompletionReason)
}

const fanoutYAML = `
workflow:
  name: fanout-sample
  version: 1
  start: implement_task
phases:
  implement_task:
    type: execute
    prompt: implement_task.md
    fanout: true
    transitions:
      - to: done
        when: "status.taskFailed == true"
  done:
    type: terminal
`

// TestRunFanoutPhase_PartialFailure_SurfacesTaskFailedWithoutAborting
// exercises spec §4.4's Aggregation contract: one worker fails, one
// succeeds, and the run must still reach a terminal phase (routed via the
// taskFailed status the fanout phase surfaces) instead of ending in
// CompletionReasonError.
func TestRunFanoutPhase_PartialFailure_SurfacesTaskFailedWithoutAborting(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	m := &mockActivities{}
	registerCoreActivities(env, m)
	env.RegisterActivityWithOptions(m.GetReadyTasks, activity.RegisterOptions{Name: jeevesactivity.ActivityGetReadyTasks})
	env.RegisterActivityWithOptions(m.ProvisionWorkerSandbox, activity.RegisterOptions{Name: jeevesactivity.ActivityProvisionWorkerSandbox})
	env.RegisterActivityWithOptions(m.RunWorkerTask, activity.RegisterOptions{Name: jeevesactivity.ActivityRunWorkerTask})
	env.RegisterActivityWithOptions(m.SetTaskStatus, activity.RegisterOptions{Name: jeevesactivity.ActivitySetTaskStatus})
	env.RegisterActivityWithOptions(m.CleanupWorkerSandbox, activity.RegisterOptions{Name: jeevesactivity.ActivityCleanupWorkerSandbox})

	m.On("GetReadyTasks", mock.Anything, mock.Anything).Return(
		jeevesactivity.ReadyTasksResult{TaskIDs: []string{"t1", "t2"}}, nil,
	)
	m.On("ProvisionWorkerSandbox", mock.Anything, mock.Anything).Return(
		jeevesactivity.SandboxPathsResult{}, nil,
	)
	m.On("RunWorkerTask", mock.Anything, mock.MatchedBy(func(in jeevesactivity.RunWorkerTaskInput) bool {
		return in.TaskID == "t1"
	})).Return(jeevesactivity.RunPhaseResult{Status: model.Status{}}, nil)
	m.On("RunWorkerTask", mock.Anything, mock.MatchedBy(func(in jeevesactivity.RunWorkerTaskInput) bool {
		return in.TaskID == "t2"
	})).Return(jeevesactivity.RunPhaseResult{}, errors.New("worker t2 crashed"))
	m.On("SetTaskStatus", mock.Anything, mock.Anything).Return(nil)
	m.On("CleanupWorkerSandbox", mock.Anything, mock.Anything).Return(nil)
	m.On("AdvancePhase", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-fanout-1",
		WorkflowYAML:    []byte(fanoutYAML),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonWorkflowComplete, result.CompletionReason)

	m.AssertCalled(t, "SetTaskStatus", mock.Anything, jeevesactivity.SetTaskStatusInput{
		IssueCoordinate: "acme/widgets#1",
		TaskID:          "t1",
		Status:          model.TaskStatusPassed,
	})
	m.AssertCalled(t, "SetTaskStatus", mock.Anything, jeevesactivity.SetTaskStatusInput{
		IssueCoordinate: "acme/widgets#1",
		TaskID:          "t2",
		Status:          model.TaskStatusFailed,
	})
	m.AssertNotCalled(t, "CleanupWorkerSandbox", mock.Anything, jeevesactivity.CleanupWorkerSandboxInput{
		IssueCoordinate: "acme/widgets#1",
		TaskID:          "t2",
		RunID:           "run-fanout-1",
	})
}

func TestDrive_RequireApproval_Rejected(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	m := &mockActivities{}
	registerCoreActivities(env, m)

	m.On("RunPhase", mock.Anything, mock.Anything).Return(
		jeevesactivity.RunPhaseResult{Status: model.Status{}}, nil,
	)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalReject, nil)
	}, 0)

	env.ExecuteWorkflow(Drive, DriveInput{
		IssueCoordinate: "acme/widgets#1",
		RunID:           "run-7",
		WorkflowYAML:    []byte(approvalYAML),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DriveResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, model.CompletionReasonCancelled, result.CompletionReason)
}
