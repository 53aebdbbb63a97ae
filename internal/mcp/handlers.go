package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/pipeline"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *pipeline.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *pipeline.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// SubmitRequest represents the arguments for triage_submit.
type SubmitRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// SessionRequest represents the arguments for triage_session.
type SessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// ApplyRequest represents the arguments for triage_apply.
type ApplyRequest struct {
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Decisions []triage.Decision `json:"decisions"`
}

// TaskListRequest represents the arguments for task_list.
type TaskListRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// TaskStatusRequest represents the arguments for task_status.
type TaskStatusRequest struct {
	UserID string `json:"user_id"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Handler implementations

// HandleSubmit handles the triage_submit tool call. On success it returns
// the finished session with its suggestions so the caller can review them
// without a second round trip.
func (h *Handlers) HandleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SubmitRequest](req)
	if err != nil {
		return errorResult(cozyerrors.NewInvalidInput(err.Error())), nil
	}
	if input.UserID == "" {
		return errorResult(cozyerrors.NewInvalidInput("user_id is required")), nil
	}

	sessionID, err := h.svc.SubmitBrainDump(ctx, input.UserID, input.Text)
	if err != nil {
		return errorResult(err), nil
	}

	view, err := h.svc.GetSession(ctx, input.UserID, sessionID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(view)
}

// HandleSession handles the triage_session tool call.
func (h *Handlers) HandleSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(cozyerrors.NewInvalidInput(err.Error())), nil
	}
	if input.UserID == "" {
		return errorResult(cozyerrors.NewInvalidInput("user_id is required")), nil
	}

	view, err := h.svc.GetSession(ctx, input.UserID, input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(view)
}

// HandleApply handles the triage_apply tool call.
func (h *Handlers) HandleApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ApplyRequest](req)
	if err != nil {
		return errorResult(cozyerrors.NewInvalidInput(err.Error())), nil
	}
	if input.UserID == "" {
		return errorResult(cozyerrors.NewInvalidInput("user_id is required")), nil
	}

	taskIDs, err := h.svc.ApplyDecisions(ctx, input.UserID, input.SessionID, input.Decisions)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"task_ids": taskIDs})
}

// HandleTaskList handles the task_list tool call.
func (h *Handlers) HandleTaskList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TaskListRequest](req)
	if err != nil {
		return errorResult(cozyerrors.NewInvalidInput(err.Error())), nil
	}
	if input.UserID == "" {
		return errorResult(cozyerrors.NewInvalidInput("user_id is required")), nil
	}

	tasks, err := h.svc.ListTasks(ctx, input.UserID, pipeline.TaskListInput{
		Status: input.Status,
		Limit:  input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": tasks})
}

// HandleTaskStatus handles the task_status tool call.
func (h *Handlers) HandleTaskStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TaskStatusRequest](req)
	if err != nil {
		return errorResult(cozyerrors.NewInvalidInput(err.Error())), nil
	}
	if input.UserID == "" {
		return errorResult(cozyerrors.NewInvalidInput("user_id is required")), nil
	}

	task, err := h.svc.UpdateTaskStatus(ctx, input.UserID, input.TaskID, input.Status)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(task)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	tErr := cozyerrors.AsTriage(err)

	errorObj := map[string]any{
		"code":    tErr.Code,
		"message": tErr.Message,
		"status":  tErr.Status,
	}
	// Only include details for non-internal errors to avoid leaking
	// sensitive info like file paths or SQL errors
	if tErr.Code != cozyerrors.ErrInternal && tErr.Details != nil {
		errorObj["details"] = tErr.Details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
