package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/cozytriage/internal/config"
	"github.com/hpungsan/cozytriage/internal/embedding"
	"github.com/hpungsan/cozytriage/internal/graph"
	"github.com/hpungsan/cozytriage/internal/llm"
	"github.com/hpungsan/cozytriage/internal/pipeline"
)

// newTestEnv builds an appEnv over a temporary store with scripted providers,
// the way main would after open.
func newTestEnv(t *testing.T) (*appEnv, *llm.Mock) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.LLMProvider = llm.ProviderMock
	cfg.EmbeddingProvider = embedding.ProviderMock

	store, err := graph.OpenSQLite(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mock := llm.NewMock()
	svc, err := pipeline.NewService(store, mock, embedding.NewMockClient(16), cfg)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	return &appEnv{cfg: cfg, svc: svc}, mock
}

// runApp runs the CLI with the given arguments and captures stdout.
func runApp(t *testing.T, env *appEnv, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	app := newCLIApp(env)
	runErr := app.Run(append([]string{"cozytriage"}, args...))

	w.Close()
	os.Stdout = oldStdout
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data), runErr
}

func envelope(t *testing.T, titles ...string) string {
	t.Helper()
	items := make([]map[string]any, len(titles))
	for i, title := range titles {
		items[i] = map[string]any{
			"raw_text":     title,
			"action_title": title,
			"description":  "notes about " + strings.ToLower(title),
			"status":       "INBOX",
			"priority":     3,
			"urgency":      3,
			"effort":       "S",
			"para_bucket":  "PROJECT",
		}
	}
	data, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// scriptSubmit runs a dump through the service directly and returns the
// session id and suggestion ids, for commands that act on existing sessions.
func scriptSubmit(t *testing.T, env *appEnv, mock *llm.Mock, user, dump string, titles ...string) (string, []string) {
	t.Helper()
	mock.Queue(envelope(t, titles...))
	mock.Queue(envelope(t, titles...))

	ctx := context.Background()
	sid, err := env.svc.SubmitBrainDump(ctx, user, dump)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	view, err := env.svc.GetSession(ctx, user, sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	ids := make([]string, len(view.Suggestions))
	for i, sg := range view.Suggestions {
		ids[i] = sg.ID
	}
	return sid, ids
}

func TestFirstCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{
			name:     "no args",
			args:     []string{"cozytriage"},
			expected: "",
		},
		{
			name:     "bare command",
			args:     []string{"cozytriage", "triage", "call bank"},
			expected: "triage",
		},
		{
			name:     "command after value flag",
			args:     []string{"cozytriage", "--user", "ana", "tasks"},
			expected: "tasks",
		},
		{
			name:     "command after bool flag",
			args:     []string{"cozytriage", "--json", "ping"},
			expected: "ping",
		},
		{
			name:     "command after equals form",
			args:     []string{"cozytriage", "--user=ana", "session", "s1"},
			expected: "session",
		},
		{
			name:     "flags only",
			args:     []string{"cozytriage", "--json"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstCommand(tt.args); got != tt.expected {
				t.Errorf("firstCommand(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single item",
			input:    "a",
			expected: []string{"a"},
		},
		{
			name:     "spaces and empties filtered",
			input:    " a , , b ,",
			expected: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitList(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("splitList(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("item[%d] = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestTriageCommand_JSON(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.Queue(envelope(t, "Call bank", "Water plants"))
	mock.Queue(envelope(t, "Call bank", "Water plants"))

	out, err := runApp(t, env, "--user", "ana", "--json", "triage", "call bank, water plants")
	if err != nil {
		t.Fatalf("triage command failed: %v", err)
	}

	var view struct {
		Session struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"session"`
		Suggestions []json.RawMessage `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if view.Session.State != "PERSISTED" {
		t.Errorf("state = %q, want PERSISTED", view.Session.State)
	}
	if len(view.Suggestions) != 2 {
		t.Errorf("got %d suggestions, want 2", len(view.Suggestions))
	}
}

func TestTriageCommand_Text(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.Queue(envelope(t, "Call bank"))
	mock.Queue(envelope(t, "Call bank"))

	out, err := runApp(t, env, "--user", "ana", "triage", "call the bank")
	if err != nil {
		t.Fatalf("triage command failed: %v", err)
	}
	if !strings.Contains(out, "state: PERSISTED") {
		t.Errorf("output missing state line:\n%s", out)
	}
	if !strings.Contains(out, "Call bank") {
		t.Errorf("output missing suggestion title:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("output missing decision label:\n%s", out)
	}
}

func TestTriageCommand_StdinDump(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.Queue(envelope(t, "Call bank"))
	mock.Queue(envelope(t, "Call bank"))

	oldStdin := os.Stdin
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdin = r
	defer func() { os.Stdin = oldStdin }()

	go func() {
		_, _ = w.WriteString("call the bank about the mortgage")
		w.Close()
	}()

	out, runErr := runApp(t, env, "--user", "ana", "triage")
	if runErr != nil {
		t.Fatalf("triage command failed: %v", runErr)
	}
	if !strings.Contains(out, "Call bank") {
		t.Errorf("output missing suggestion title:\n%s", out)
	}
}

func TestTriageCommand_MissingText(t *testing.T) {
	env, mock := newTestEnv(t)

	oldStdin := os.Stdin
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	os.Stdin = r
	defer func() { os.Stdin = oldStdin }()

	_, runErr := runApp(t, env, "--user", "ana", "triage")
	if runErr == nil {
		t.Fatal("expected error for missing text")
	}
	if !strings.Contains(runErr.Error(), "INVALID_INPUT") {
		t.Errorf("error = %v, want INVALID_INPUT", runErr)
	}
	if len(mock.Calls()) != 0 {
		t.Errorf("model was called %d times for a rejected command", len(mock.Calls()))
	}
}

func TestSessionCommand(t *testing.T) {
	env, mock := newTestEnv(t)
	sid, _ := scriptSubmit(t, env, mock, "ana", "call bank", "Call bank")

	out, err := runApp(t, env, "--user", "ana", "--json", "session", sid)
	if err != nil {
		t.Fatalf("session command failed: %v", err)
	}
	if !strings.Contains(out, sid) {
		t.Errorf("output missing session id:\n%s", out)
	}

	_, runErr := runApp(t, env, "--user", "ana", "session", "01NOSUCHSESSION00000000000")
	if runErr == nil || !strings.Contains(runErr.Error(), "NOT_FOUND") {
		t.Errorf("error = %v, want NOT_FOUND", runErr)
	}

	_, runErr = runApp(t, env, "--user", "ana", "session")
	if runErr == nil || !strings.Contains(runErr.Error(), "INVALID_INPUT") {
		t.Errorf("error = %v, want INVALID_INPUT for missing argument", runErr)
	}
}

func TestApplyCommand_Flags(t *testing.T) {
	env, mock := newTestEnv(t)
	sid, ids := scriptSubmit(t, env, mock, "ana", "call bank, water plants", "Call bank", "Water plants")

	out, err := runApp(t, env, "--user", "ana", "--json", "apply", "--accept", ids[0], "--reject", ids[1], sid)
	if err != nil {
		t.Fatalf("apply command failed: %v", err)
	}

	var result struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(result.TaskIDs) != 1 {
		t.Fatalf("got %d task ids, want 1", len(result.TaskIDs))
	}

	tasks, err := env.svc.ListTasks(context.Background(), "ana", pipeline.TaskListInput{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Call bank" {
		t.Errorf("tasks = %v, want one Call bank", tasks)
	}
}

func TestApplyCommand_File(t *testing.T) {
	env, mock := newTestEnv(t)
	sid, ids := scriptSubmit(t, env, mock, "ana", "call bank", "Call bank")

	decisions := `[{"suggestion_id": "` + ids[0] + `", "action": "accept", "edited_data": {"status": "NEXT"}}]`
	path := filepath.Join(t.TempDir(), "decisions.json")
	if err := os.WriteFile(path, []byte(decisions), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := runApp(t, env, "--user", "ana", "apply", "--file", path, sid)
	if err != nil {
		t.Fatalf("apply command failed: %v", err)
	}
	if !strings.Contains(out, "applied 1 decisions, created 1 tasks") {
		t.Errorf("unexpected output:\n%s", out)
	}

	// The edited status override must survive the file decode path.
	tasks, err := env.svc.ListTasks(context.Background(), "ana", pipeline.TaskListInput{Status: "NEXT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d NEXT tasks, want 1", len(tasks))
	}
}

func TestApplyCommand_NoDecisions(t *testing.T) {
	env, mock := newTestEnv(t)
	sid, _ := scriptSubmit(t, env, mock, "ana", "call bank", "Call bank")

	_, runErr := runApp(t, env, "--user", "ana", "apply", sid)
	if runErr == nil || !strings.Contains(runErr.Error(), "INVALID_INPUT") {
		t.Errorf("error = %v, want INVALID_INPUT", runErr)
	}
}

func TestApplyCommand_BadFile(t *testing.T) {
	env, mock := newTestEnv(t)
	sid, _ := scriptSubmit(t, env, mock, "ana", "call bank", "Call bank")

	path := filepath.Join(t.TempDir(), "decisions.json")
	if err := os.WriteFile(path, []byte(`{"not": "an array"}`), 0600); err != nil {
		t.Fatal(err)
	}

	_, runErr := runApp(t, env, "--user", "ana", "apply", "--file", path, sid)
	if runErr == nil || !strings.Contains(runErr.Error(), "INVALID_INPUT") {
		t.Errorf("error = %v, want INVALID_INPUT for non-array file", runErr)
	}
}

func TestTasksCommand(t *testing.T) {
	env, mock := newTestEnv(t)
	sid, ids := scriptSubmit(t, env, mock, "ana", "call bank", "Call bank")
	if _, err := runApp(t, env, "--user", "ana", "apply", "--accept", ids[0], sid); err != nil {
		t.Fatalf("apply: %v", err)
	}

	out, err := runApp(t, env, "--user", "ana", "tasks", "--status", "INBOX")
	if err != nil {
		t.Fatalf("tasks command failed: %v", err)
	}
	if !strings.Contains(out, "Call bank") {
		t.Errorf("output missing task title:\n%s", out)
	}

	out, err = runApp(t, env, "--user", "ana", "--json", "tasks")
	if err != nil {
		t.Fatalf("tasks --json failed: %v", err)
	}
	var result struct {
		Items []graph.Task `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(result.Items) != 1 {
		t.Errorf("got %d tasks, want 1", len(result.Items))
	}

	_, runErr := runApp(t, env, "--user", "ana", "tasks", "--status", "SOON")
	if runErr == nil || !strings.Contains(runErr.Error(), "INVALID_INPUT") {
		t.Errorf("error = %v, want INVALID_INPUT for bad status", runErr)
	}

	out, err = runApp(t, env, "--user", "eve", "tasks")
	if err != nil {
		t.Fatalf("tasks for other user failed: %v", err)
	}
	if !strings.Contains(out, "no tasks") {
		t.Errorf("expected empty state for other user:\n%s", out)
	}
}

func TestTaskStatusCommand(t *testing.T) {
	env, mock := newTestEnv(t)
	sid, ids := scriptSubmit(t, env, mock, "ana", "call bank", "Call bank")

	out, err := runApp(t, env, "--user", "ana", "--json", "apply", "--accept", ids[0], sid)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	var applied struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := json.Unmarshal([]byte(out), &applied); err != nil {
		t.Fatal(err)
	}
	taskID := applied.TaskIDs[0]

	out, err = runApp(t, env, "--user", "ana", "--json", "task-status", taskID, "IN_PROGRESS")
	if err != nil {
		t.Fatalf("task-status command failed: %v", err)
	}
	var task graph.Task
	if err := json.Unmarshal([]byte(out), &task); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if task.Status != "IN_PROGRESS" {
		t.Errorf("status = %q, want IN_PROGRESS", task.Status)
	}

	_, runErr := runApp(t, env, "--user", "ana", "task-status", taskID)
	if runErr == nil || !strings.Contains(runErr.Error(), "INVALID_INPUT") {
		t.Errorf("error = %v, want INVALID_INPUT for missing status", runErr)
	}

	_, runErr = runApp(t, env, "--user", "ana", "task-status", "01NOSUCHTASK00000000000000", "DONE")
	if runErr == nil || !strings.Contains(runErr.Error(), "NOT_FOUND") {
		t.Errorf("error = %v, want NOT_FOUND", runErr)
	}
}

func TestPingCommand(t *testing.T) {
	env, _ := newTestEnv(t)

	out, err := runApp(t, env, "ping")
	if err != nil {
		t.Fatalf("ping command failed: %v", err)
	}
	if !strings.Contains(out, "store: sqlite") {
		t.Errorf("output missing store line:\n%s", out)
	}
	if !strings.Contains(out, "llm: mock/mock-model") {
		t.Errorf("output missing llm line:\n%s", out)
	}
}

func TestSetupSchemaCommand(t *testing.T) {
	env, _ := newTestEnv(t)

	out, err := runApp(t, env, "setup-schema")
	if err != nil {
		t.Fatalf("setup-schema command failed: %v", err)
	}
	if !strings.Contains(out, "schema ready") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
