// Package model contains the data types shared by every component of the
// execution engine: issue records, task lists, memory entries, run records
// and worker status, exactly as defined by the on-disk state directory
// layout (issue.json, tasks.json, sdk-output.json).
package model

import "time"

// SchemaVersion is the current supported on-disk schema version for
// issue.json/tasks.json.
const SchemaVersion = 1

// Provider identifies the issue-tracking system an issue was ingested from.
type Provider string

const (
	ProviderGitHub      Provider = "github"
	ProviderAzureDevOps Provider = "azure_devops"
)

// Status is the open-ended mapping of boolean/string/null flags the agent
// uses, via state_update_issue_status, as the sole medium to signal phase
// transitions. Workflow predicates compare only against this mapping.
type Status map[string]any

// Bool reads a boolean flag, defaulting to false if absent or not a bool.
func (s Status) Bool(field string) bool {
	v, ok := s[field].(bool)
	return ok && v
}

// String reads a string flag, defaulting to "" if absent or not a string.
func (s Status) String(field string) string {
	v, _ := s[field].(string)
	return v
}

// Merge applies fields on top of s: a null value deletes the key, anything
// else overwrites/sets it. Keys not present in fields are untouched. Returns
// a new Status; s is not mutated.
func (s Status) Merge(fields map[string]any) Status {
	out := make(Status, len(s)+len(fields))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range fields {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Issue is the canonical record for the unit of work the engine drives to
// completion. It is stored at S/issue.json.
type Issue struct {
	Version      int      `json:"version"`
	Repo         string   `json:"repo"` // "owner/repo"
	IssueNumber  int      `json:"issue"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Provider     Provider `json:"provider"`
	Branch       string   `json:"branch"`
	WorkflowName string   `json:"workflow"`
	Phase        string   `json:"phase"`
	Status       Status   `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Coordinate returns the "owner/repo#N" handle used throughout logs and
// derived paths.
func (i Issue) Coordinate() string {
	if i.IssueNumber == 0 {
		return i.Repo
	}
	return i.Repo + "#" + itoa(i.IssueNumber)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// TaskStatus is the lifecycle status of a single task in the task list.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusPassed  TaskStatus = "passed"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is one unit of the decomposed plan, executed by a worker sandbox.
type Task struct {
	ID                 string     `json:"id"` // prefix letter + digits, e.g. "T7"
	Title              string     `json:"title"`
	Summary            string     `json:"summary,omitempty"`
	Status             TaskStatus `json:"status"`
	DependsOn          []string   `json:"dependsOn,omitempty"`
	FilesAllowed       []string   `json:"filesAllowed,omitempty"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria,omitempty"`
}

// Ready reports whether every dependency of t has passed, given a status
// lookup for all known tasks.
func (t Task) Ready(statusOf map[string]TaskStatus) bool {
	for _, dep := range t.DependsOn {
		if statusOf[dep] != TaskStatusPassed {
			return false
		}
	}
	return true
}

// TaskSet is the full decomposed plan, stored at S/tasks.json.
type TaskSet struct {
	SchemaVersion int    `json:"schemaVersion"`
	Tasks         []Task `json:"tasks"`
}

// ByID returns the task with the given ID and whether it was found.
func (ts TaskSet) ByID(id string) (Task, bool) {
	for _, t := range ts.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// WithTaskStatus returns a copy of the set with task id's status replaced.
func (ts TaskSet) WithTaskStatus(id string, status TaskStatus) TaskSet {
	out := TaskSet{SchemaVersion: ts.SchemaVersion, Tasks: make([]Task, len(ts.Tasks))}
	copy(out.Tasks, ts.Tasks)
	for i := range out.Tasks {
		if out.Tasks[i].ID == id {
			out.Tasks[i].Status = status
		}
	}
	return out
}

// ReadyTasks returns the IDs of all pending tasks whose dependencies have
// all passed, in task-list order.
func (ts TaskSet) ReadyTasks() []string {
	statusOf := make(map[string]TaskStatus, len(ts.Tasks))
	for _, t := range ts.Tasks {
		statusOf[t.ID] = t.Status
	}
	var ready []string
	for _, t := range ts.Tasks {
		if t.Status == TaskStatusPending && t.Ready(statusOf) {
			ready = append(ready, t.ID)
		}
	}
	return ready
}

// MemoryScope is the tagged-union discriminator for a memory entry's
// lifetime and visibility.
type MemoryScope string

const (
	MemoryScopeWorkingSet MemoryScope = "working_set"
	MemoryScopeDecisions  MemoryScope = "decisions"
	MemoryScopeSession    MemoryScope = "session"
	MemoryScopeCrossRun   MemoryScope = "cross_run"
)

// MemoryEntry is one row of the memory store, keyed by (Scope, Key).
type MemoryEntry struct {
	Scope           MemoryScope    `json:"scope"`
	Key             string         `json:"key"`
	Value           map[string]any `json:"value"`
	SourceIteration int            `json:"source_iteration"`
	Stale           bool           `json:"stale"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RelevantPhases reads the value's relevantPhases array, used by cross_run
// filtering.
func (m MemoryEntry) RelevantPhases() []string {
	raw, ok := m.Value["relevantPhases"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CompletionReason classifies why a run ended, mirrored into RunRecord.
type CompletionReason string

const (
	CompletionReasonWorkflowComplete CompletionReason = "workflow_complete"
	CompletionReasonMaxIterations    CompletionReason = "max_iterations"
	CompletionReasonStalled          CompletionReason = "stalled"
	CompletionReasonWorkflowInvalid  CompletionReason = "workflow_invalid"
	CompletionReasonMCPMissing       CompletionReason = "mcp_missing"
	CompletionReasonCancelled        CompletionReason = "cancelled"
	CompletionReasonError            CompletionReason = "error"
)

// RunRecord describes one process-level execution of the workflow
// interpreter against an issue.
type RunRecord struct {
	RunID            string           `json:"run_id"`
	IssueCoordinate  string           `json:"issue_coordinate"`
	Running          bool             `json:"running"`
	PID              int              `json:"pid,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
	Iteration        int              `json:"iteration"`
	MaxIterations    int              `json:"max_iterations"`
	CompletionReason CompletionReason `json:"completion_reason,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
	Workers          []WorkerStatus   `json:"workers,omitempty"`
}

// WorkerPhase names the two worker-eligible phases §3 allows.
type WorkerPhase string

const (
	WorkerPhaseImplementTask  WorkerPhase = "implement_task"
	WorkerPhaseTaskSpecCheck  WorkerPhase = "task_spec_check"
)

// WorkerRunStatus is the lifecycle status of one in-flight worker.
type WorkerRunStatus string

const (
	WorkerRunStatusRunning  WorkerRunStatus = "running"
	WorkerRunStatusPassed   WorkerRunStatus = "passed"
	WorkerRunStatusFailed   WorkerRunStatus = "failed"
	WorkerRunStatusTimedOut WorkerRunStatus = "timed_out"
)

// WorkerStatus is the status of one in-flight or completed worker sandbox.
type WorkerStatus struct {
	TaskID string          `json:"task_id"`
	Phase  WorkerPhase     `json:"phase"`
	Status WorkerRunStatus `json:"status"`
}

func StringPtr(s string) *string     { return &s }
func TimePtr(t time.Time) *time.Time { return &t }
