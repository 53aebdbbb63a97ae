package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/triage"
)

func TestApplyDecisions_AcceptUsesEditedFields(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "passport", tItem{title: "Renew passport"})
	sugs, err := h.store.SuggestionsBySession(ctx, "ana", sid)
	if err != nil {
		t.Fatal(err)
	}

	edit := &triage.EditOverlay{
		ActionTitle: strPtr("Renew the passport at the consulate"),
		Status:      strPtr(triage.StatusNext),
	}
	ids, err := h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept, EditedData: edit},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 created task, got %d", len(ids))
	}

	task, err := h.store.GetTask(ctx, "ana", ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if task.Title != "Renew the passport at the consulate" {
		t.Errorf("title = %q, want the edited one", task.Title)
	}
	if task.Status != triage.StatusNext {
		t.Errorf("status = %s, want the edited NEXT", task.Status)
	}
	// Fields the edit left alone fall back to the suggestion payload.
	if task.Description != sugs[0].Payload.Description {
		t.Errorf("description = %q, want payload value %q", task.Description, sugs[0].Payload.Description)
	}
	if len(h.embed.Documents()) != 1 {
		t.Errorf("expected 1 document embedding, got %d", len(h.embed.Documents()))
	}
	if !strings.Contains(h.embed.Documents()[0], "Renew the passport at the consulate") {
		t.Error("task embedding must be computed from the merged candidate, not the raw payload")
	}
}

func TestApplyDecisions_RejectMutatesNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "maybe learn the banjo", tItem{title: "Learn the banjo", projects: []string{"Music"}})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)

	ids, err := h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionReject},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("reject must create no tasks, got %v", ids)
	}

	tasks, err := h.svc.ListTasks(ctx, "ana", TaskListInput{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(tasks))
	}
	projects, err := h.svc.ListProjects(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 0 {
		t.Errorf("reject must not create projects, got %d", len(projects))
	}

	sugs, _ = h.store.SuggestionsBySession(ctx, "ana", sid)
	if sugs[0].Accepted == nil || *sugs[0].Accepted {
		t.Error("rejected suggestion must have accepted=false")
	}
}

func TestApplyDecisions_SecondApplyAlreadyDecided(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "call bank", tItem{title: "Call the bank"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)
	decisions := []triage.Decision{{SuggestionID: sugs[0].ID, Action: triage.ActionAccept}}

	if _, err := h.svc.ApplyDecisions(ctx, "ana", sid, decisions); err != nil {
		t.Fatal(err)
	}
	_, err := h.svc.ApplyDecisions(ctx, "ana", sid, decisions)
	if !cozyerrors.Is(err, cozyerrors.ErrAlreadyDecided) {
		t.Fatalf("expected ALREADY_DECIDED, got %v", err)
	}

	// State after the failed second call equals state after the first.
	tasks, err := h.svc.ListTasks(ctx, "ana", TaskListInput{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Errorf("second apply must not create more tasks, got %d", len(tasks))
	}
}

func TestApplyDecisions_UnknownSuggestion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "call bank", tItem{title: "Call the bank"})
	_, err := h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: "01NOSUCHSUGGESTION00000000", Action: triage.ActionAccept},
	})
	if !cozyerrors.Is(err, cozyerrors.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if !strings.Contains(err.Error(), "01NOSUCHSUGGESTION00000000") {
		t.Errorf("error should name the offending id, got %v", err)
	}

	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)
	if sugs[0].Decided() {
		t.Error("failed apply must not decide anything")
	}
}

func TestApplyDecisions_InputValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "call bank", tItem{title: "Call the bank"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)

	_, err := h.svc.ApplyDecisions(ctx, "ana", sid, nil)
	if !cozyerrors.Is(err, cozyerrors.ErrInvalidInput) {
		t.Errorf("empty batch: expected INVALID_INPUT, got %v", err)
	}

	_, err = h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: "merge"},
	})
	if !cozyerrors.Is(err, cozyerrors.ErrInvalidInput) {
		t.Errorf("bad action: expected INVALID_INPUT, got %v", err)
	}

	_, err = h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept},
		{SuggestionID: sugs[0].ID, Action: triage.ActionReject},
	})
	if !cozyerrors.Is(err, cozyerrors.ErrInvalidInput) {
		t.Errorf("duplicate id: expected INVALID_INPUT, got %v", err)
	}

	_, err = h.svc.ApplyDecisions(ctx, "ana", "01NOSUCHSESSION00000000000", []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept},
	})
	if !cozyerrors.Is(err, cozyerrors.ErrNotFound) {
		t.Errorf("unknown session: expected NOT_FOUND, got %v", err)
	}

	if sugs, _ = h.store.SuggestionsBySession(ctx, "ana", sid); sugs[0].Decided() {
		t.Error("no failed call may decide the suggestion")
	}
}

func TestApplyDecisions_MalformedEditRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "call bank", tItem{title: "Call the bank"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)

	_, err := h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept,
			EditedData: &triage.EditOverlay{Status: strPtr("LATER")}},
	})
	if !cozyerrors.Is(err, cozyerrors.ErrSchemaViolation) {
		t.Fatalf("expected SCHEMA_VIOLATION, got %v", err)
	}

	tasks, _ := h.svc.ListTasks(ctx, "ana", TaskListInput{})
	if len(tasks) != 0 {
		t.Errorf("malformed edit must not create tasks, got %d", len(tasks))
	}
	sugs, _ = h.store.SuggestionsBySession(ctx, "ana", sid)
	if sugs[0].Decided() {
		t.Error("malformed edit must not decide the suggestion")
	}
}

func TestApplyDecisions_EmbeddingFailureLeavesGraphUntouched(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "call bank", tItem{title: "Call the bank"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)
	decisions := []triage.Decision{{SuggestionID: sugs[0].ID, Action: triage.ActionAccept}}

	h.embed.SetErr(errors.New("provider down"))
	_, err := h.svc.ApplyDecisions(ctx, "ana", sid, decisions)
	if !cozyerrors.Is(err, cozyerrors.ErrEmbeddingFailure) {
		t.Fatalf("expected EMBEDDING_FAILURE, got %v", err)
	}
	tasks, _ := h.svc.ListTasks(ctx, "ana", TaskListInput{})
	if len(tasks) != 0 {
		t.Errorf("failed apply must not create tasks, got %d", len(tasks))
	}

	// The batch goes through unchanged once the provider recovers.
	h.embed.SetErr(nil)
	ids, err := h.svc.ApplyDecisions(ctx, "ana", sid, decisions)
	if err != nil {
		t.Fatalf("apply after recovery: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected 1 task, got %d", len(ids))
	}
}

func TestApplyDecisions_ProjectReuseIsCaseInsensitive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := h.submit(t, "ana", "taxes w2", tItem{title: "Collect W-2 forms", projects: []string{"Taxes"}})
	h.acceptAll(t, "ana", first)

	second := h.submit(t, "ana", "taxes receipts", tItem{title: "Scan donation receipts", projects: []string{"taxes"}})
	h.acceptAll(t, "ana", second)

	projects, err := h.svc.ListProjects(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected one shared project, got %d", len(projects))
	}
	if projects[0].Name != "Taxes" {
		t.Errorf("project keeps the first raw name, got %q", projects[0].Name)
	}

	view, err := h.svc.GetProject(ctx, "ana", projects[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Tasks) != 2 {
		t.Errorf("both tasks should link to the shared project, got %d", len(view.Tasks))
	}
}

func TestApplyDecisions_ConfirmedDuplicateLinksTasks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := h.submit(t, "ana", "fix cabinet",
		tItem{title: "Fix cabinet doors", projects: []string{"Home Renovation"}})
	originalIDs := h.acceptAll(t, "ana", first)

	second := h.submit(t, "ana", "cabinet doors again", tItem{title: "Repair the cabinet doors"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", second)

	ids, err := h.svc.ApplyDecisions(ctx, "ana", second, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept,
			EditedData: &triage.EditOverlay{ConfirmedDuplicates: []string{originalIDs[0]}}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// The duplicate edge makes the original's project reachable at hop 2.
	memberships, err := h.store.TaskNeighborhood(ctx, "ana", []string{ids[0]})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range memberships {
		if m.Hops == 2 && m.Kind == "project" && m.Name == "Home Renovation" && m.TaskID == originalIDs[0] {
			found = true
		}
	}
	if !found {
		t.Errorf("expected hop-2 membership through the DUPLICATE_OF edge, got %+v", memberships)
	}
}

func TestApplyDecisions_BatchRollsBackAsOneUnit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "two errands", tItem{title: "Buy milk"}, tItem{title: "Call dentist"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)

	// The second accept names a duplicate target that does not exist, which
	// aborts the store transaction after the first task was staged.
	_, err := h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept},
		{SuggestionID: sugs[1].ID, Action: triage.ActionAccept,
			EditedData: &triage.EditOverlay{ConfirmedDuplicates: []string{"01GONE0000000000000000000"}}},
	})
	if !cozyerrors.Is(err, cozyerrors.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	tasks, _ := h.svc.ListTasks(ctx, "ana", TaskListInput{})
	if len(tasks) != 0 {
		t.Errorf("rollback must leave zero tasks, got %d", len(tasks))
	}
	sugs, _ = h.store.SuggestionsBySession(ctx, "ana", sid)
	for _, sug := range sugs {
		if sug.Decided() {
			t.Errorf("rollback must leave suggestion %s undecided", sug.ID)
		}
	}
}

func TestApplyDecisions_MixedBatchReturnsIDsInDecisionOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "three errands",
		tItem{title: "Buy milk"}, tItem{title: "Call dentist"}, tItem{title: "Water plants"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)

	ids, err := h.svc.ApplyDecisions(ctx, "ana", sid, []triage.Decision{
		{SuggestionID: sugs[2].ID, Action: triage.ActionAccept},
		{SuggestionID: sugs[1].ID, Action: triage.ActionReject},
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 created tasks, got %d", len(ids))
	}

	firstTask, err := h.store.GetTask(ctx, "ana", ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if firstTask.Title != "Water plants" {
		t.Errorf("ids must follow decision order, first = %q", firstTask.Title)
	}
	secondTask, err := h.store.GetTask(ctx, "ana", ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if secondTask.Title != "Buy milk" {
		t.Errorf("ids must follow decision order, second = %q", secondTask.Title)
	}
}

func TestApplyDecisions_ForeignSessionNotFound(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sid := h.submit(t, "ana", "call bank", tItem{title: "Call the bank"})
	sugs, _ := h.store.SuggestionsBySession(ctx, "ana", sid)

	if err := h.svc.EnsureUser(ctx, "eve"); err != nil {
		t.Fatal(err)
	}
	_, err := h.svc.ApplyDecisions(ctx, "eve", sid, []triage.Decision{
		{SuggestionID: sugs[0].ID, Action: triage.ActionAccept},
	})
	if !cozyerrors.Is(err, cozyerrors.ErrNotFound) {
		t.Fatalf("foreign user must get NOT_FOUND, got %v", err)
	}
}
