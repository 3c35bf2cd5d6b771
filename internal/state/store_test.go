package state

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hansjm10/jeeves/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func newTestIssue() model.Issue {
	return model.Issue{
		Version:     model.SchemaVersion,
		Repo:        "org/repo",
		IssueNumber: 42,
		Title:       "fix the thing",
		Provider:    model.ProviderGitHub,
		Branch:      "issue/42",
		Status:      model.Status{},
	}
}

func TestPutGetIssue_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	issue := newTestIssue()
	require.NoError(t, s.PutIssue(issue))

	got, err := s.GetIssue()
	require.NoError(t, err)
	assert.Equal(t, issue.Repo, got.Repo)
	assert.Equal(t, issue.IssueNumber, got.IssueNumber)

	// put_issue(get_issue()) == get_issue()
	require.NoError(t, s.PutIssue(got))
	got2, err := s.GetIssue()
	require.NoError(t, err)
	assert.Equal(t, got.Repo, got2.Repo)
	assert.Equal(t, got.Status, got2.Status)
}

func TestUpdateIssueStatus_MergeSemanticsAndNoOp(t *testing.T) {
	s := newTestStore(t)
	issue := newTestIssue()
	issue.Status = model.Status{"designApproved": true, "stale": "keep"}
	require.NoError(t, s.PutIssue(issue))

	updated, err := s.UpdateIssueStatus(map[string]any{"designApproved": false, "stale": nil})
	require.NoError(t, err)
	assert.Equal(t, false, updated.Status["designApproved"])
	_, present := updated.Status["stale"]
	assert.False(t, present)

	noop, err := s.UpdateIssueStatus(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, updated.Status, noop.Status)
}

func TestAppendProgress_NeverRewrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendProgress("Phase: hello"))
	require.NoError(t, s.AppendProgress("Ended: now"))

	data, err := os.ReadFile(s.path("progress.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Phase: hello\nEnded: now", string(data))
}

func TestMemory_FilteringOrderingAndStaleMarking(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMemory(model.MemoryScopeDecisions, "db-choice", map[string]any{"choice": "sqlite"}, 3))
	require.NoError(t, s.UpsertMemory(model.MemoryScopeDecisions, "obsolete", map[string]any{"choice": "xml"}, 1))
	require.NoError(t, s.MarkMemoryStale(model.MemoryScopeDecisions, "obsolete"))

	scope := model.MemoryScopeDecisions
	active, err := s.GetMemory(&scope, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "db-choice", active[0].Key)

	all, err := s.GetMemory(&scope, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "obsolete", all[0].Key) // source_iteration 1 sorts first

	// mark_memory_stale is idempotent
	require.NoError(t, s.MarkMemoryStale(model.MemoryScopeDecisions, "obsolete"))
	all2, err := s.GetMemory(&scope, true)
	require.NoError(t, err)
	assert.Equal(t, all[0].SourceIteration, all2[0].SourceIteration)
}

func TestMirror_NotFatalWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.MirrorEnabled())
	require.NoError(t, s.PutIssue(newTestIssue()))
}

func TestListRunRecords_EmptyWhenNoRunsYet(t *testing.T) {
	s := newTestStore(t)
	records, err := s.ListRunRecords()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListRunRecords_NewestFirst(t *testing.T) {
	s := newTestStore(t)

	older := model.RunRecord{RunID: "run-1", StartedAt: fixedTime(t, "2026-07-01T00:00:00Z")}
	newer := model.RunRecord{RunID: "run-2", StartedAt: fixedTime(t, "2026-07-02T00:00:00Z")}
	require.NoError(t, s.PutRunRecord(older))
	require.NoError(t, s.PutRunRecord(newer))

	records, err := s.ListRunRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-2", records[0].RunID)
	assert.Equal(t, "run-1", records[1].RunID)
}

func fixedTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}
