package activity

import "context"

// DeriveSandboxInput names one worker task needing a sandbox.
type DeriveSandboxInput struct {
	IssueCoordinate string
	TaskID          string
	RunID           string
	BaseBranch      string
}

// SandboxPathsResult mirrors sandbox.Paths for Temporal's JSON converter.
type SandboxPathsResult struct {
	TaskID      string
	StateDir    string
	WorktreeDir string
	Branch      string
	ShortRunID  string
	Reused      bool
}

// ProvisionWorkerSandbox derives paths for a worker task, reuses an
// existing worktree left over from an earlier phase of the same run and
// task if one is valid, and otherwise creates a fresh one (spec §4.4's Create/Reuse
// split).
func (a *Activities) ProvisionWorkerSandbox(ctx context.Context, in DeriveSandboxInput) (SandboxPathsResult, error) {
	paths, err := a.Sandbox.DerivePaths(in.IssueCoordinate, in.TaskID, in.RunID)
	if err != nil {
		return SandboxPathsResult{}, err
	}

	reused, err := a.Sandbox.Reuse(ctx, paths)
	if err != nil {
		return SandboxPathsResult{}, err
	}
	if !reused {
		if err := a.Sandbox.Create(ctx, paths, in.BaseBranch); err != nil {
			return SandboxPathsResult{}, err
		}
	}

	return SandboxPathsResult{
		TaskID:      paths.TaskID,
		StateDir:    paths.StateDir,
		WorktreeDir: paths.WorktreeDir,
		Branch:      paths.Branch,
		ShortRunID:  paths.ShortRunID,
		Reused:      reused,
	}, nil
}

// CleanupWorkerSandboxInput identifies one worker sandbox to tear down.
type CleanupWorkerSandboxInput struct {
	IssueCoordinate string
	TaskID          string
	RunID           string
}

// CleanupWorkerSandbox removes the task's worktree and prunes its branch.
func (a *Activities) CleanupWorkerSandbox(ctx context.Context, in CleanupWorkerSandboxInput) error {
	paths, err := a.Sandbox.DerivePaths(in.IssueCoordinate, in.TaskID, in.RunID)
	if err != nil {
		return err
	}
	return a.Sandbox.Cleanup(ctx, paths)
}

// RunWorkerTaskInput is a fanout phase's per-task unit of work: the same
// phase contract as RunPhaseInput, scoped to one task's sandbox instead of
// the issue's primary checkout.
type RunWorkerTaskInput struct {
	RunPhaseInput
	TaskID     string
	WorkingDir string
	StateDir   string
}

// RunWorkerTask runs a fanout phase's prompt inside a task's sandbox
// worktree rather than the primary repo checkout, and scopes its
// last-run.log/sdk-output.json writes to the task's own worker state dir
// (paths.StateDir) so concurrent tasks never share a log/output file.
func (a *Activities) RunWorkerTask(ctx context.Context, in RunWorkerTaskInput) (RunPhaseResult, error) {
	scoped := *a
	scoped.RepoRoot = in.WorkingDir
	scoped.stateDirOverride = in.StateDir
	return scoped.RunPhase(ctx, in.RunPhaseInput)
}
