// Package state implements the State Store (C1): the per-issue state
// directory containing issue.json, tasks.json, progress.txt, last-run.log,
// sdk-output.json and task-plan.md, plus the optional embedded relational
// mirror that makes lookups O(1) without reparsing JSON.
//
// Every JSON write is atomic-replace (write to a sibling temp file, fsync,
// rename over the target) exactly as the teacher's agent.Pipeline does for
// status.json/result.json.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hansjm10/jeeves/internal/jeeveserr"
	"github.com/hansjm10/jeeves/internal/model"
	"github.com/hansjm10/jeeves/internal/sdkevent"
)

// Mirror is the relational-cache interface. A Store with no Mirror set
// works from JSON alone, per spec §4.1's "missing mirror is never fatal"
// rule.
type Mirror interface {
	UpsertIssue(issue model.Issue) error
	UpsertTasks(tasks model.TaskSet) error
	UpsertMemory(entry model.MemoryEntry) error
	MarkMemoryStale(scope model.MemoryScope, key string) error
	DeleteMemory(scope model.MemoryScope, key string) error
	Close() error
}

// Store manages one canonical (or worker) state directory.
type Store struct {
	dir    string
	mirror Mirror
}

// New creates a Store rooted at dir. dir is created if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root state directory.
func (s *Store) Dir() string { return s.dir }

// SetMirror attaches (or detaches, with nil) the relational mirror. A
// mirror attach failure reported by the caller should simply not call
// SetMirror; the store degrades transparently.
func (s *Store) SetMirror(m Mirror) { s.mirror = m }

// MirrorEnabled reports whether a mirror is currently attached.
func (s *Store) MirrorEnabled() bool { return s.mirror != nil }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// writeAtomic writes data to path via a sibling temp file + fsync + rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return jeeveserr.TransientIO("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return jeeveserr.TransientIO("writing temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return jeeveserr.TransientIO("fsyncing temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return jeeveserr.TransientIO("closing temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return jeeveserr.TransientIO("renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return jeeveserr.StateCorruption("corrupt JSON at %s: %w", path, err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return writeAtomic(path, data)
}

// --- Issue record ---

// GetIssue reads S/issue.json.
func (s *Store) GetIssue() (model.Issue, error) {
	var issue model.Issue
	if err := readJSON(s.path("issue.json"), &issue); err != nil {
		return model.Issue{}, err
	}
	return issue, nil
}

// PutIssue writes S/issue.json and upserts the mirror row.
func (s *Store) PutIssue(issue model.Issue) error {
	issue.UpdatedAt = time.Now().UTC()
	if err := writeJSONAtomic(s.path("issue.json"), issue); err != nil {
		return err
	}
	if s.mirror != nil {
		_ = s.mirror.UpsertIssue(issue) // mirror failure is never fatal
	}
	return nil
}

// UpdateIssueStatus applies merge semantics to the issue's status mapping:
// only the specified keys are touched; a null value deletes the key. An
// empty fields map is a no-op.
func (s *Store) UpdateIssueStatus(fields map[string]any) (model.Issue, error) {
	issue, err := s.GetIssue()
	if err != nil {
		return model.Issue{}, err
	}
	if len(fields) == 0 {
		return issue, nil
	}
	issue.Status = issue.Status.Merge(fields)
	if err := s.PutIssue(issue); err != nil {
		return model.Issue{}, err
	}
	return issue, nil
}

// --- Task list ---

// GetTasks reads S/tasks.json.
func (s *Store) GetTasks() (model.TaskSet, error) {
	var ts model.TaskSet
	if err := readJSON(s.path("tasks.json"), &ts); err != nil {
		return model.TaskSet{}, err
	}
	return ts, nil
}

// PutTasks writes S/tasks.json and upserts the mirror.
func (s *Store) PutTasks(ts model.TaskSet) error {
	if ts.SchemaVersion == 0 {
		ts.SchemaVersion = model.SchemaVersion
	}
	if err := writeJSONAtomic(s.path("tasks.json"), ts); err != nil {
		return err
	}
	if s.mirror != nil {
		_ = s.mirror.UpsertTasks(ts)
	}
	return nil
}

// SetTaskStatus updates a single task's status in place.
func (s *Store) SetTaskStatus(id string, status model.TaskStatus) error {
	ts, err := s.GetTasks()
	if err != nil {
		return err
	}
	return s.PutTasks(ts.WithTaskStatus(id, status))
}

// --- Progress log ---

// AppendProgress appends entry to S/progress.txt, prefixed with a newline
// if the file is already non-empty. Never rewrites existing content.
func (s *Store) AppendProgress(entry string) error {
	path := s.path("progress.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return jeeveserr.TransientIO("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return jeeveserr.TransientIO("stat %s: %w", path, err)
	}
	var buf bytes.Buffer
	if info.Size() > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(entry)
	if _, err := f.Write(buf.Bytes()); err != nil {
		return jeeveserr.TransientIO("appending to %s: %w", path, err)
	}
	return nil
}

// --- SDK output + last-run log + task plan ---

// PutSDKOutput validates doc against the jeeves.sdk.v1 schema and
// atomically flushes it to S/sdk-output.json. Called on every event
// mutation per spec §4.3 item 3.
func (s *Store) PutSDKOutput(doc *sdkevent.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling sdk-output.json: %w", err)
	}
	if err := sdkevent.Validate(data); err != nil {
		return err
	}
	return writeAtomic(s.path("sdk-output.json"), data)
}

// AppendRunLog appends a human-readable, newline-terminated line to
// S/last-run.log.
func (s *Store) AppendRunLog(line string) error {
	path := s.path("last-run.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return jeeveserr.TransientIO("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return jeeveserr.TransientIO("appending to %s: %w", path, err)
	}
	return nil
}

// RunLogPath returns the path to last-run.log, for tailers.
func (s *Store) RunLogPath() string { return s.path("last-run.log") }

// SDKOutputPath returns the path to sdk-output.json, for tailers.
func (s *Store) SDKOutputPath() string { return s.path("sdk-output.json") }

// PutTaskPlan atomically replaces S/task-plan.md. If multiple extractions
// occur within a phase, the last call wins (spec §4.3 item 4).
func (s *Store) PutTaskPlan(content string) error {
	return writeAtomic(s.path("task-plan.md"), []byte(content))
}

// TaskPlanPath returns the path to task-plan.md, for tailers and tests.
func (s *Store) TaskPlanPath() string { return s.path("task-plan.md") }

// MarkDone creates a zero-byte completion marker atomically inside the
// state directory (spec §4.4 "Completion markers").
func (s *Store) MarkDone(marker string) error {
	return writeAtomic(s.path(marker), []byte{})
}

// IsDone reports whether the named marker file exists.
func (s *Store) IsDone(marker string) bool {
	_, err := os.Stat(s.path(marker))
	return err == nil
}

// --- Run record ---

func (s *Store) runRecordPath(runID string) string {
	return filepath.Join(s.dir, ".runs", runID, "run.json")
}

// PutRunRecord writes S/.runs/<runId>/run.json, creating the run's
// directory tree if needed.
func (s *Store) PutRunRecord(rec model.RunRecord) error {
	path := s.runRecordPath(rec.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return jeeveserr.TransientIO("creating run dir for %s: %w", rec.RunID, err)
	}
	return writeJSONAtomic(path, rec)
}

// ListRunRecords reads every S/.runs/<runId>/run.json, newest StartedAt
// first. A run directory with a missing or unreadable run.json is skipped
// rather than failing the whole listing.
func (s *Store) ListRunRecords() ([]model.RunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, ".runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []model.RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.GetRunRecord(entry.Name())
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt.After(records[j].StartedAt) })
	return records, nil
}

// GetRunRecord reads S/.runs/<runId>/run.json.
func (s *Store) GetRunRecord(runID string) (model.RunRecord, error) {
	var rec model.RunRecord
	if err := readJSON(s.runRecordPath(runID), &rec); err != nil {
		return model.RunRecord{}, err
	}
	return rec, nil
}

// --- Memory ---

const memoryFile = "memory.json"

type memoryDoc struct {
	Entries []model.MemoryEntry `json:"entries"`
}

func (s *Store) loadMemory() (memoryDoc, error) {
	var doc memoryDoc
	err := readJSON(s.path(memoryFile), &doc)
	if os.IsNotExist(err) {
		return memoryDoc{}, nil
	}
	if err != nil {
		return memoryDoc{}, err
	}
	return doc, nil
}

func (s *Store) saveMemory(doc memoryDoc) error {
	return writeJSONAtomic(s.path(memoryFile), doc)
}

// UpsertMemory creates or replaces the entry at (scope, key).
func (s *Store) UpsertMemory(scope model.MemoryScope, key string, value map[string]any, sourceIteration int) error {
	doc, err := s.loadMemory()
	if err != nil {
		return err
	}
	entry := model.MemoryEntry{
		Scope:           scope,
		Key:             key,
		Value:           value,
		SourceIteration: sourceIteration,
		UpdatedAt:       time.Now().UTC(),
	}
	replaced := false
	for i, e := range doc.Entries {
		if e.Scope == scope && e.Key == key {
			doc.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Entries = append(doc.Entries, entry)
	}
	if err := s.saveMemory(doc); err != nil {
		return err
	}
	if s.mirror != nil {
		_ = s.mirror.UpsertMemory(entry)
	}
	return nil
}

// MarkMemoryStale monotonically sets stale=true; re-calling does not
// change source_iteration (idempotent).
func (s *Store) MarkMemoryStale(scope model.MemoryScope, key string) error {
	doc, err := s.loadMemory()
	if err != nil {
		return err
	}
	found := false
	for i, e := range doc.Entries {
		if e.Scope == scope && e.Key == key {
			doc.Entries[i].Stale = true
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	if err := s.saveMemory(doc); err != nil {
		return err
	}
	if s.mirror != nil {
		_ = s.mirror.MarkMemoryStale(scope, key)
	}
	return nil
}

// DeleteMemory removes the entry at (scope, key), if present.
func (s *Store) DeleteMemory(scope model.MemoryScope, key string) error {
	doc, err := s.loadMemory()
	if err != nil {
		return err
	}
	out := doc.Entries[:0]
	for _, e := range doc.Entries {
		if e.Scope == scope && e.Key == key {
			continue
		}
		out = append(out, e)
	}
	doc.Entries = out
	if err := s.saveMemory(doc); err != nil {
		return err
	}
	if s.mirror != nil {
		_ = s.mirror.DeleteMemory(scope, key)
	}
	return nil
}

// GetMemory returns entries, optionally filtered by scope, optionally
// excluding stale entries, ordered by source_iteration ascending then key
// lexicographically (spec §4.3's fixed ordering rule).
func (s *Store) GetMemory(scope *model.MemoryScope, includeStale bool) ([]model.MemoryEntry, error) {
	doc, err := s.loadMemory()
	if err != nil {
		return nil, err
	}
	var out []model.MemoryEntry
	for _, e := range doc.Entries {
		if scope != nil && e.Scope != *scope {
			continue
		}
		if e.Stale && !includeStale {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceIteration != out[j].SourceIteration {
			return out[i].SourceIteration < out[j].SourceIteration
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}
