package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/observability"
	"github.com/hpungsan/cozytriage/internal/pipeline"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// Handlers contains HTTP route handlers for the triage API.
type Handlers struct {
	svc     *pipeline.Service
	version string
}

// NewHandlers wires the pipeline service into the route handlers.
func NewHandlers(svc *pipeline.Service, version string) *Handlers {
	return &Handlers{svc: svc, version: version}
}

type submitRequest struct {
	Text string `json:"text"`
}

type decisionsRequest struct {
	Decisions []triage.Decision `json:"decisions"`
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Providers *pipeline.HealthStatus `json:"providers"`
}

// HandleSubmit handles POST /api/triage — run a brain dump through the pipeline.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, cozyerrors.NewInvalidInput("invalid JSON body"))
		return
	}

	sessionID, err := h.svc.SubmitBrainDump(r.Context(), userID, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.svc.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// HandleSession handles GET /api/triage/{session_id} — fetch a session with its suggestions.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	view, err := h.svc.GetSession(r.Context(), userID, r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// HandleDecisions handles POST /api/triage/{session_id}/decisions — apply a decision batch.
func (h *Handlers) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req decisionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, cozyerrors.NewInvalidInput("invalid JSON body"))
		return
	}

	taskIDs, err := h.svc.ApplyDecisions(r.Context(), userID, r.PathValue("session_id"), req.Decisions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"task_ids": taskIDs})
}

// HandleTaskList handles GET /api/tasks — list tasks, optionally filtered by status.
func (h *Handlers) HandleTaskList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	input := pipeline.TaskListInput{
		Status: r.URL.Query().Get("status"),
		Limit:  parseIntParam(r, "limit", 0),
	}

	tasks, err := h.svc.ListTasks(r.Context(), userID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": tasks})
}

// HandleTaskStatus handles PATCH /api/tasks/{task_id}/status — move a task through its lifecycle.
func (h *Handlers) HandleTaskStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req taskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, cozyerrors.NewInvalidInput("invalid JSON body"))
		return
	}

	task, err := h.svc.UpdateTaskStatus(r.Context(), userID, r.PathValue("task_id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// HandleProjectList handles GET /api/projects.
func (h *Handlers) HandleProjectList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	projects, err := h.svc.ListProjects(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": projects})
}

// HandleProjectDetail handles GET /api/projects/{project_id} — project plus its tasks.
func (h *Handlers) HandleProjectDetail(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	view, err := h.svc.GetProject(r.Context(), userID, r.PathValue("project_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// HandleDashboard handles GET /api/dashboard — status counts and next actions.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	overview, err := h.svc.Overview(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

// HandleHealth handles GET /api/health. It reports configured providers and
// requires no user header.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Ping(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   h.version,
		Providers: status,
	})
}

// userID extracts the acting user from the X-User-ID header. Every data route
// is scoped to a user; a missing header is a client error, not a default.
func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, r, cozyerrors.NewInvalidInput("X-User-ID header is required"))
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a pipeline error onto its HTTP status. Internal errors keep
// their details out of the response body; everything else carries them so the
// caller can see what was wrong.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	tErr := cozyerrors.AsTriage(err)
	if tErr.Status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error("request failed",
			"code", string(tErr.Code),
			"error", err,
		)
	}

	body := map[string]any{
		"code":    tErr.Code,
		"message": tErr.Message,
	}
	if tErr.Code != cozyerrors.ErrInternal && tErr.Details != nil {
		body["details"] = tErr.Details
	}

	writeJSON(w, tErr.Status, map[string]any{"error": body})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
