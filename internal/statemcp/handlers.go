package statemcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hansjm10/jeeves/internal/model"
)

// rawArgs returns the call's arguments as a plain map, or nil if the client
// sent none. mcp-go decodes tool arguments into map[string]interface{}
// regardless of the declared schema.
func rawArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return nil
	}
	m, _ := request.Params.Arguments.(map[string]interface{})
	return m
}

// decodeInto round-trips the raw argument at key through JSON into out,
// which must be a pointer. Used for the object/array parameters (status,
// fields, value, tasks) that don't fit mcp-go's scalar getters.
func decodeInto(request mcp.CallToolRequest, key string, out any) error {
	args := rawArgs(request)
	if args == nil {
		return fmt.Errorf("missing '%s' parameter", key)
	}
	raw, ok := args[key]
	if !ok {
		return fmt.Errorf("missing '%s' parameter", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid '%s' parameter: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid '%s' parameter: %w", key, err)
	}
	return nil
}

func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issue, err := s.store.GetIssue()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get_issue: %v", err)), nil
	}
	return resultJSON(issue)
}

func (s *Server) handlePutIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'repo' parameter: %v", err)), nil
	}
	issueNumber := request.GetInt("issue", 0)
	if issueNumber == 0 {
		return mcp.NewToolResultError("missing 'issue' parameter"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'title' parameter: %v", err)), nil
	}

	issue := model.Issue{
		Version:      model.SchemaVersion,
		Repo:         repo,
		IssueNumber:  issueNumber,
		Title:        title,
		Description:  request.GetString("description", ""),
		Provider:     model.Provider(request.GetString("provider", string(model.ProviderGitHub))),
		Branch:       request.GetString("branch", ""),
		WorkflowName: request.GetString("workflow", ""),
		Phase:        request.GetString("phase", ""),
	}
	if status, ok := getObject(request, "status"); ok {
		issue.Status = model.Status(status)
	}

	if err := s.store.PutIssue(issue); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("put_issue: %v", err)), nil
	}
	return resultJSON(issue)
}

func (s *Server) handleUpdateIssueStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var fields map[string]any
	if err := decodeInto(request, "fields", &fields); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	issue, err := s.store.UpdateIssueStatus(fields)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update_issue_status: %v", err)), nil
	}
	return resultJSON(issue)
}

func (s *Server) handleGetTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.store.GetTasks()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get_tasks: %v", err)), nil
	}
	return resultJSON(tasks)
}

func (s *Server) handlePutTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tasks []model.Task
	if err := decodeInto(request, "tasks", &tasks); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ts := model.TaskSet{SchemaVersion: model.SchemaVersion, Tasks: tasks}
	if err := s.store.PutTasks(ts); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("put_tasks: %v", err)), nil
	}
	return resultJSON(ts)
}

func (s *Server) handleSetTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'id' parameter: %v", err)), nil
	}
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'status' parameter: %v", err)), nil
	}

	if err := s.store.SetTaskStatus(id, model.TaskStatus(status)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("set_task_status: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("task %s set to %s", id, status)), nil
}

func (s *Server) handleAppendProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entry, err := request.RequireString("entry")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'entry' parameter: %v", err)), nil
	}

	if err := s.store.AppendProgress(entry); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("append_progress: %v", err)), nil
	}
	return mcp.NewToolResultText("appended"), nil
}

func (s *Server) handleGetMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var scope *model.MemoryScope
	if raw := request.GetString("scope", ""); raw != "" {
		s := model.MemoryScope(raw)
		scope = &s
	}
	includeStale := request.GetBool("include_stale", false)

	entries, err := s.store.GetMemory(scope, includeStale)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get_memory: %v", err)), nil
	}
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	return resultJSON(entries)
}

func (s *Server) handleUpsertMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := request.RequireString("scope")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'scope' parameter: %v", err)), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'key' parameter: %v", err)), nil
	}
	var value map[string]any
	if err := decodeInto(request, "value", &value); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sourceIteration := request.GetInt("source_iteration", 0)

	if err := s.store.UpsertMemory(model.MemoryScope(scope), key, value, sourceIteration); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("upsert_memory: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("upserted %s/%s", scope, key)), nil
}

func (s *Server) handleMarkMemoryStale(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := request.RequireString("scope")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'scope' parameter: %v", err)), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'key' parameter: %v", err)), nil
	}

	if err := s.store.MarkMemoryStale(model.MemoryScope(scope), key); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("mark_memory_stale: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("marked stale %s/%s", scope, key)), nil
}

func (s *Server) handleDeleteMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := request.RequireString("scope")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'scope' parameter: %v", err)), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing 'key' parameter: %v", err)), nil
	}

	if err := s.store.DeleteMemory(model.MemoryScope(scope), key); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete_memory: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %s/%s", scope, key)), nil
}

// getObject pulls a nested JSON-object argument out without requiring the
// caller to pre-allocate a concrete destination type.
func getObject(request mcp.CallToolRequest, key string) (map[string]any, bool) {
	args := rawArgs(request)
	if args == nil {
		return nil, false
	}
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}
