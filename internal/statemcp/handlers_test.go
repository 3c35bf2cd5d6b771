package statemcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hansjm10/jeeves/internal/model"
	"github.com/hansjm10/jeeves/internal/state"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := state.New(t.TempDir())
	require.NoError(t, err)
	return NewServer(store)
}

func newCallToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	content, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return content.Text
}

func TestHandlePutIssueThenGetIssue_RoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handlePutIssue(ctx, newCallToolRequest(map[string]interface{}{
		"repo":  "acme/widgets",
		"issue": float64(42),
		"title": "fix the thing",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "fix the thing")

	result, err = s.handleGetIssue(ctx, newCallToolRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "acme/widgets")
}

func TestHandlePutIssue_MissingRepoIsAnErrorResult(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handlePutIssue(context.Background(), newCallToolRequest(map[string]interface{}{
		"title": "no repo here",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleUpdateIssueStatus_MergesFields(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handlePutIssue(ctx, newCallToolRequest(map[string]interface{}{
		"repo":  "acme/widgets",
		"issue": float64(1),
		"title": "t",
	}))
	require.NoError(t, err)

	result, err := s.handleUpdateIssueStatus(ctx, newCallToolRequest(map[string]interface{}{
		"fields": map[string]interface{}{"designApproved": true},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "designApproved")
}

func TestHandlePutTasksThenSetTaskStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handlePutTasks(ctx, newCallToolRequest(map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"id": "T1", "title": "first", "status": "pending"},
			map[string]interface{}{"id": "T2", "title": "second", "status": "pending", "dependsOn": []interface{}{"T1"}},
		},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleSetTaskStatus(ctx, newCallToolRequest(map[string]interface{}{
		"id":     "T1",
		"status": "passed",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleGetTasks(ctx, newCallToolRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), `"passed"`)
}

func TestHandleAppendProgress_Twice(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleAppendProgress(ctx, newCallToolRequest(map[string]interface{}{"entry": "Phase: plan"}))
	require.NoError(t, err)
	_, err = s.handleAppendProgress(ctx, newCallToolRequest(map[string]interface{}{"entry": "Phase: implement"}))
	require.NoError(t, err)
}

func TestHandleAppendProgress_MissingEntryIsAnErrorResult(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleAppendProgress(context.Background(), newCallToolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMemoryHandlers_UpsertGetMarkStaleDelete(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleUpsertMemory(ctx, newCallToolRequest(map[string]interface{}{
		"scope": string(model.MemoryScopeDecisions),
		"key":   "db-choice",
		"value": map[string]interface{}{"choice": "sqlite"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleGetMemory(ctx, newCallToolRequest(map[string]interface{}{
		"scope": string(model.MemoryScopeDecisions),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "db-choice")

	result, err = s.handleMarkMemoryStale(ctx, newCallToolRequest(map[string]interface{}{
		"scope": string(model.MemoryScopeDecisions),
		"key":   "db-choice",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleGetMemory(ctx, newCallToolRequest(map[string]interface{}{
		"scope": string(model.MemoryScopeDecisions),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "[]", textOf(t, result)[:2])

	result, err = s.handleDeleteMemory(ctx, newCallToolRequest(map[string]interface{}{
		"scope": string(model.MemoryScopeDecisions),
		"key":   "db-choice",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	all := true
	entries, err := s.store.GetMemory(nil, all)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryHandlers_MissingScopeIsAnErrorResult(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleUpsertMemory(context.Background(), newCallToolRequest(map[string]interface{}{
		"key":   "x",
		"value": map[string]interface{}{},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
