// Package worktree is the production sandbox.Manager backend: each worker
// task runs inside its own git worktree rather than a container, grounded
// on spec §4.4's exact path-derivation and validation rules.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hansjm10/jeeves/internal/jeeveserr"
	"github.com/hansjm10/jeeves/internal/sandbox"
	"github.com/hansjm10/jeeves/internal/state"
)

func init() {
	sandbox.RegisterManager("worktree", func(cfg sandbox.ManagerConfig) (sandbox.Manager, error) {
		return New(cfg)
	})
}

// taskIDRE matches a valid task ID: non-empty, at most 128 chars, made of
// letters/digits/underscore/hyphen, and not starting with a hyphen (spec
// §4.4 validation rules).
var taskIDRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]{0,127}$`)

// pathSafeRE matches any other path-safe identifier (the owner, repo and
// number parts of an issue coordinate, run IDs): non-empty, at most 256 chars, letters/digits/underscore/
// hyphen/dot.
var pathSafeRE = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,256}$`)

// Manager implements sandbox.Manager using `git worktree`.
type Manager struct {
	repoRoot          string
	canonicalStateDir string
	dataDir           string
	gitBin            string
}

// New constructs a worktree Manager from the given config.
func New(cfg sandbox.ManagerConfig) (*Manager, error) {
	if cfg.RepoRoot == "" {
		return nil, jeeveserr.Configuration("sandbox.repo_root_empty", "worktree manager: RepoRoot is required")
	}
	if cfg.CanonicalStateDir == "" {
		return nil, jeeveserr.Configuration("sandbox.state_dir_empty", "worktree manager: CanonicalStateDir is required")
	}
	if cfg.DataDir == "" {
		return nil, jeeveserr.Configuration("sandbox.data_dir_empty", "worktree manager: DataDir is required")
	}
	gitBin := cfg.GitBin
	if gitBin == "" {
		gitBin = "git"
	}
	return &Manager{
		repoRoot:          cfg.RepoRoot,
		canonicalStateDir: cfg.CanonicalStateDir,
		dataDir:           cfg.DataDir,
		gitBin:            gitBin,
	}, nil
}

func (m *Manager) Name() string { return "worktree" }

// Validate applies spec §4.4's path-safety rules to an issue coordinate
// and a task ID before any path is derived from them.
func (m *Manager) Validate(issueID, taskID string) error {
	owner, repo, number, err := issueCoordinate(issueID)
	if err != nil {
		return err
	}
	for _, part := range []string{owner, repo, number} {
		if err := validatePathSafe("issueID", part); err != nil {
			return err
		}
	}
	if !taskIDRE.MatchString(taskID) {
		if strings.Contains(taskID, "/") || strings.Contains(taskID, "..") {
			return jeeveserr.Validation("sandbox.path_separator", "task ID %q contains a path separator", taskID)
		}
		return jeeveserr.Validation("sandbox.invalid_task_id", "task ID %q is not a valid identifier", taskID)
	}
	return nil
}

func validatePathSafe(label, value string) error {
	if value == "" {
		return jeeveserr.Validation("sandbox.empty_id", "%s must not be empty", label)
	}
	if strings.Contains(value, "..") || strings.ContainsAny(value, "/\\") {
		return jeeveserr.Validation("sandbox.path_separator", "%s %q contains a path separator", label, value)
	}
	if !pathSafeRE.MatchString(value) {
		return jeeveserr.Validation("sandbox.invalid_id", "%s %q is not a path-safe identifier", label, value)
	}
	return nil
}

// shortRunID returns the suffix after the last '.' in runID, or the first
// 8 characters of runID if it contains no '.' (spec §4.4).
func shortRunID(runID string) string {
	if idx := strings.LastIndex(runID, "."); idx >= 0 && idx+1 < len(runID) {
		return runID[idx+1:]
	}
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

// issueCoordinate splits "owner/repo#N" into its parts. This mirrors
// model.Issue.Coordinate()'s output format.
func issueCoordinate(issueID string) (owner, repo string, number string, err error) {
	hashIdx := strings.LastIndex(issueID, "#")
	if hashIdx < 0 {
		return "", "", "", jeeveserr.Validation("sandbox.bad_issue_id", "issue ID %q is not in owner/repo#N form", issueID)
	}
	repoPart, number := issueID[:hashIdx], issueID[hashIdx+1:]
	slashIdx := strings.Index(repoPart, "/")
	if slashIdx < 0 {
		return "", "", "", jeeveserr.Validation("sandbox.bad_issue_id", "issue ID %q is not in owner/repo#N form", issueID)
	}
	return repoPart[:slashIdx], repoPart[slashIdx+1:], number, nil
}

// DerivePaths computes the canonical state dir, worktree dir, and branch
// name for one worker task. It performs no I/O.
func (m *Manager) DerivePaths(issueID, taskID, runID string) (sandbox.Paths, error) {
	if err := m.Validate(issueID, taskID); err != nil {
		return sandbox.Paths{}, err
	}
	if err := validatePathSafe("runID", runID); err != nil {
		return sandbox.Paths{}, err
	}

	owner, repo, number, err := issueCoordinate(issueID)
	if err != nil {
		return sandbox.Paths{}, err
	}

	short := shortRunID(runID)

	stateDir := filepath.Join(m.canonicalStateDir, ".runs", runID, "workers", taskID)
	worktreeDir := filepath.Join(m.dataDir, "worktrees", owner, repo, fmt.Sprintf("issue-%s-workers", number), runID, taskID)
	branch := fmt.Sprintf("issue/%s-%s-%s", number, taskID, short)

	return sandbox.Paths{
		TaskID:      taskID,
		StateDir:    stateDir,
		WorktreeDir: worktreeDir,
		Branch:      branch,
		ShortRunID:  short,
	}, nil
}

// Create adds a new worktree at paths.WorktreeDir on a fresh branch
// derived from baseBranch, links the task's state directory into it as
// .jeeves so the worker's agent process can reach it by a stable relative
// path, and seeds that state directory with the worker's copy of
// issue.json/tasks.json (spec §4.4's Create paragraph). Any worktree
// already registered at paths.WorktreeDir from a prior, abandoned attempt
// is removed first.
func (m *Manager) Create(ctx context.Context, paths sandbox.Paths, baseBranch string) error {
	if _, err := m.run(ctx, m.repoRoot, "worktree", "remove", "--force", paths.WorktreeDir); err != nil {
		if !strings.Contains(err.Error(), "is not a working tree") && !strings.Contains(err.Error(), "No such file") {
			return err
		}
	}
	if err := os.RemoveAll(paths.WorktreeDir); err != nil {
		return jeeveserr.TransientIO("worktree: removing stale worktree dir %s: %v", paths.WorktreeDir, err)
	}

	if err := os.MkdirAll(filepath.Dir(paths.WorktreeDir), 0o755); err != nil {
		return jeeveserr.TransientIO("worktree: creating parent dir for %s: %v", paths.WorktreeDir, err)
	}
	if err := os.MkdirAll(paths.StateDir, 0o755); err != nil {
		return jeeveserr.TransientIO("worktree: creating state dir %s: %v", paths.StateDir, err)
	}

	if _, err := m.run(ctx, m.repoRoot, "worktree", "add", "-B", paths.Branch, paths.WorktreeDir, baseBranch); err != nil {
		return err
	}

	if err := m.excludeFromGit(paths.WorktreeDir, ".jeeves"); err != nil {
		return err
	}

	linkPath := filepath.Join(paths.WorktreeDir, ".jeeves")
	_ = os.Remove(linkPath)
	if err := os.Symlink(paths.StateDir, linkPath); err != nil {
		return jeeveserr.TransientIO("worktree: linking %s to state dir: %v", linkPath, err)
	}

	return m.seedWorkerState(paths)
}

// seedWorkerState writes a modified copy of the canonical issue record
// into paths.StateDir, with status.currentTaskId set to this task and
// every task-loop status flag cleared, plus a verbatim copy of the
// canonical task list. Without this, RunPhase's final store.GetIssue()
// call inside the worker's sandbox has no issue.json to read.
func (m *Manager) seedWorkerState(paths sandbox.Paths) error {
	canonical, err := state.New(m.canonicalStateDir)
	if err != nil {
		return err
	}
	issue, err := canonical.GetIssue()
	if err != nil {
		return err
	}
	tasks, err := canonical.GetTasks()
	if err != nil {
		return err
	}

	issue.Status = issue.Status.Merge(map[string]any{
		"currentTaskId":    paths.TaskID,
		"taskPassed":       nil,
		"taskFailed":       nil,
		"commitFailed":     nil,
		"pushFailed":       nil,
		"hasMoreTasks":     nil,
		"allTasksComplete": nil,
	})

	worker, err := state.New(paths.StateDir)
	if err != nil {
		return err
	}
	if err := worker.PutIssue(issue); err != nil {
		return err
	}
	return worker.PutTasks(tasks)
}

// Reuse reports whether paths.WorktreeDir is still a valid git worktree
// registered against the repo, leaving its branch tip untouched.
func (m *Manager) Reuse(ctx context.Context, paths sandbox.Paths) (bool, error) {
	info, err := os.Stat(paths.WorktreeDir)
	if err != nil || !info.IsDir() {
		return false, nil
	}
	out, err := m.run(ctx, m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return false, err
	}
	abs, absErr := filepath.Abs(paths.WorktreeDir)
	if absErr != nil {
		abs = paths.WorktreeDir
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") && strings.TrimPrefix(line, "worktree ") == abs {
			return true, nil
		}
	}
	return false, nil
}

// Cleanup removes the worktree and prunes its branch. It is tolerant of
// the worktree already being gone.
func (m *Manager) Cleanup(ctx context.Context, paths sandbox.Paths) error {
	if _, err := m.run(ctx, m.repoRoot, "worktree", "remove", "--force", paths.WorktreeDir); err != nil {
		if !strings.Contains(err.Error(), "is not a working tree") && !strings.Contains(err.Error(), "No such file") {
			return err
		}
	}
	_, _ = m.run(ctx, m.repoRoot, "branch", "-D", paths.Branch)
	return nil
}

// MarkDone writes a zero-byte marker file under the task's state dir. The
// marker's presence, not its content, is authoritative for resume logic.
func (m *Manager) MarkDone(paths sandbox.Paths, marker string) error {
	path := filepath.Join(paths.StateDir, marker)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return jeeveserr.TransientIO("worktree: writing marker %s: %v", path, err)
	}
	return f.Close()
}

// IsDone reports whether the named marker exists under the task's state
// dir.
func (m *Manager) IsDone(paths sandbox.Paths, marker string) bool {
	_, err := os.Stat(filepath.Join(paths.StateDir, marker))
	return err == nil
}

// excludeFromGit appends a pattern to the worktree's local git exclude
// file so the state symlink never shows up as an untracked file.
func (m *Manager) excludeFromGit(worktreeDir, pattern string) error {
	out, err := m.run(context.Background(), worktreeDir, "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return err
	}
	excludePath := strings.TrimSpace(out)
	if !filepath.IsAbs(excludePath) {
		excludePath = filepath.Join(worktreeDir, excludePath)
	}
	if err := os.MkdirAll(filepath.Dir(excludePath), 0o755); err != nil {
		return jeeveserr.TransientIO("worktree: preparing exclude file: %v", err)
	}
	f, err := os.OpenFile(excludePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return jeeveserr.TransientIO("worktree: opening exclude file: %v", err)
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, pattern)
	return err
}

func (m *Manager) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.gitBin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", jeeveserr.TransientIO("worktree: git %s failed: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
