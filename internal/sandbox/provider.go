// Package sandbox defines the worker sandbox manager abstraction (C4): the
// component responsible for deriving sandbox paths, validating task/issue
// identifiers, and creating, reusing, cleaning up and aggregating the git
// worktrees that worker tasks execute in.
package sandbox

import (
	"context"
	"time"
)

// Manager is implemented by every worker-sandbox backend. The only shipped
// implementation is internal/sandbox/worktree, but the interface keeps the
// engine decoupled from git-worktree mechanics the same way the teacher's
// container Provider decoupled workflow code from Docker/Kubernetes.
type Manager interface {
	// DerivePaths is a pure function: given an issue/task coordinate it
	// returns the canonical, deterministic paths and branch name for that
	// task's sandbox. It performs no I/O.
	DerivePaths(issueID, taskID, runID string) (Paths, error)

	// Validate checks issueID/taskID against the path-safety rules before
	// any path derivation or I/O is attempted.
	Validate(issueID, taskID string) error

	// Create provisions a fresh worktree for the task, branching from the
	// issue's base branch.
	Create(ctx context.Context, paths Paths, baseBranch string) error

	// Reuse attaches to an already-provisioned worktree left over from an
	// earlier phase of the same run and task (the paths include the run
	// ID), verifying it is still a valid worktree.
	Reuse(ctx context.Context, paths Paths) (bool, error)

	// Cleanup removes the worktree and prunes the branch.
	Cleanup(ctx context.Context, paths Paths) error

	// MarkDone writes the zero-byte completion marker that is
	// authoritative for resume logic.
	MarkDone(paths Paths, marker string) error

	// IsDone reports whether the named completion marker exists.
	IsDone(paths Paths, marker string) bool

	// Name identifies the backend, e.g. "worktree" or "fake".
	Name() string
}

// Paths is the full set of filesystem locations derived for one worker
// task's sandbox.
type Paths struct {
	TaskID      string
	StateDir    string // <canonicalStateDir>/.runs/<runId>/workers/<taskId>
	WorktreeDir string // <dataDir>/worktrees/<owner>/<repo>/issue-<N>-workers/<runId>/<taskId>
	Branch      string // issue/<N>-<taskId>-<shortRunId>
	ShortRunID  string
}

// Limits bounds how long sandbox creation/cleanup may take.
type Limits struct {
	Timeout time.Duration
}
