package mcp

import "github.com/mark3labs/mcp-go/mcp"

var taskStatusValues = []string{"INBOX", "NEXT", "IN_PROGRESS", "WAITING", "SOMEDAY", "DONE", "ARCHIVED"}

var submitToolDef = mcp.NewTool("triage_submit",
	mcp.WithDescription("Triage a free-text brain dump into structured task suggestions. Runs the two-pass pipeline and returns the session with its suggestions for review."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id. Every entity is scoped to this user.")),
	mcp.WithString("text", mcp.Required(), mcp.Description("The brain dump text.")),
)

var sessionToolDef = mcp.NewTool("triage_session",
	mcp.WithDescription("Fetch a triage session and its suggestions."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id.")),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by triage_submit.")),
)

var applyToolDef = mcp.NewTool("triage_apply",
	mcp.WithDescription("Apply accept/reject decisions to a session's suggestions. The batch is atomic: either every decision lands or none does. Returns created task ids in decision order."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id.")),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session the suggestions belong to.")),
	mcp.WithArray("decisions", mcp.Required(),
		mcp.Description("One decision per suggestion. edited_data fields override the suggestion payload; edited_data.confirmed_duplicates lists existing task ids to link as duplicates."),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"suggestion_id": map[string]any{"type": "string"},
				"action":        map[string]any{"type": "string", "enum": []string{"accept", "reject"}},
				"edited_data":   map[string]any{"type": "object"},
			},
			"required": []string{"suggestion_id", "action"},
		}),
	),
)

var taskListToolDef = mcp.NewTool("task_list",
	mcp.WithDescription("List the user's tasks, optionally filtered by status."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id.")),
	mcp.WithString("status", mcp.Description("Status filter."), mcp.Enum(taskStatusValues...)),
	mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return.")),
)

var taskStatusToolDef = mcp.NewTool("task_status",
	mcp.WithDescription("Move a task to a new status."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id.")),
	mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id.")),
	mcp.WithString("status", mcp.Required(), mcp.Description("New status."), mcp.Enum(taskStatusValues...)),
)
