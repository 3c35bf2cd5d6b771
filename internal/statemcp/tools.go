package statemcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// setupTools registers the eleven state_* tools, each a thin adapter over
// the Store method of the same name.
func (s *Server) setupTools() {
	s.mcpServer.AddTool(mcp.NewTool("state_get_issue",
		mcp.WithDescription("Return the current issue record (issue.json)"),
	), s.handleGetIssue)

	s.mcpServer.AddTool(mcp.NewTool("state_put_issue",
		mcp.WithDescription("Replace the issue record wholesale"),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository coordinate, e.g. 'owner/repo'")),
		mcp.WithNumber("issue", mcp.Required(), mcp.Description("Issue number")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("description", mcp.Description("Issue body/description")),
		mcp.WithString("provider", mcp.Description("Issue tracker: github or azure_devops")),
		mcp.WithString("branch", mcp.Description("Working branch name")),
		mcp.WithString("workflow", mcp.Description("Workflow graph name driving this issue")),
		mcp.WithString("phase", mcp.Description("Current workflow phase name")),
		mcp.WithObject("status", mcp.Description("Status flag map")),
	), s.handlePutIssue)

	s.mcpServer.AddTool(mcp.NewTool("state_update_issue_status",
		mcp.WithDescription("Merge fields into the issue's status map; a null value deletes the key"),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Fields to merge into status")),
	), s.handleUpdateIssueStatus)

	s.mcpServer.AddTool(mcp.NewTool("state_get_tasks",
		mcp.WithDescription("Return the full task list (tasks.json)"),
	), s.handleGetTasks)

	s.mcpServer.AddTool(mcp.NewTool("state_put_tasks",
		mcp.WithDescription("Replace the task list wholesale"),
		mcp.WithArray("tasks", mcp.Required(), mcp.Description("Full list of task objects")),
	), s.handlePutTasks)

	s.mcpServer.AddTool(mcp.NewTool("state_set_task_status",
		mcp.WithDescription("Set a single task's status by ID"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task ID, e.g. 'T7'")),
		mcp.WithString("status", mcp.Required(), mcp.Description("One of pending, running, passed, failed")),
	), s.handleSetTaskStatus)

	s.mcpServer.AddTool(mcp.NewTool("state_append_progress",
		mcp.WithDescription("Append one line to the append-only progress log"),
		mcp.WithString("entry", mcp.Required(), mcp.Description("Line of progress to append")),
	), s.handleAppendProgress)

	s.mcpServer.AddTool(mcp.NewTool("state_get_memory",
		mcp.WithDescription("List memory entries, optionally filtered by scope"),
		mcp.WithString("scope", mcp.Description("Restrict to one of working_set, decisions, session, cross_run")),
		mcp.WithBoolean("include_stale", mcp.Description("Include entries marked stale (default: false)")),
	), s.handleGetMemory)

	s.mcpServer.AddTool(mcp.NewTool("state_upsert_memory",
		mcp.WithDescription("Create or replace the memory entry at (scope, key)"),
		mcp.WithString("scope", mcp.Required(), mcp.Description("One of working_set, decisions, session, cross_run")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Entry key, unique within scope")),
		mcp.WithObject("value", mcp.Required(), mcp.Description("Entry payload")),
		mcp.WithNumber("source_iteration", mcp.Description("Engine iteration this entry was written from")),
	), s.handleUpsertMemory)

	s.mcpServer.AddTool(mcp.NewTool("state_mark_memory_stale",
		mcp.WithDescription("Mark the memory entry at (scope, key) stale; idempotent"),
		mcp.WithString("scope", mcp.Required(), mcp.Description("One of working_set, decisions, session, cross_run")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Entry key")),
	), s.handleMarkMemoryStale)

	s.mcpServer.AddTool(mcp.NewTool("state_delete_memory",
		mcp.WithDescription("Delete the memory entry at (scope, key), if present"),
		mcp.WithString("scope", mcp.Required(), mcp.Description("One of working_set, decisions, session, cross_run")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Entry key")),
	), s.handleDeleteMemory)
}
