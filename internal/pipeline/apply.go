package pipeline

import (
	"context"
	"strings"
	"time"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/graph"
	"github.com/hpungsan/cozytriage/internal/observability"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// ApplyDecisions applies a reviewed batch of decisions to one session. The
// batch is all-or-nothing: validation problems (unknown or already-decided
// suggestions, malformed edits, embedding failures) surface before any
// mutation, and the store commit itself is a single transaction. Returns
// created task ids in decision order.
func (s *Service) ApplyDecisions(ctx context.Context, userID, sessionID string, decisions []triage.Decision) ([]string, error) {
	if len(decisions) == 0 {
		return nil, cozyerrors.NewInvalidInput("at least one decision is required")
	}

	if _, err := s.store.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	suggestions, err := s.store.SuggestionsBySession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*graph.Suggestion, len(suggestions))
	for _, sug := range suggestions {
		byID[sug.ID] = sug
	}

	var missing, decided []string
	seen := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		if d.Action != triage.ActionAccept && d.Action != triage.ActionReject {
			return nil, cozyerrors.NewInvalidInput("action must be accept or reject, got " + d.Action)
		}
		if seen[d.SuggestionID] {
			return nil, cozyerrors.NewInvalidInput("duplicate decision for suggestion " + d.SuggestionID)
		}
		seen[d.SuggestionID] = true

		sug, ok := byID[d.SuggestionID]
		if !ok {
			missing = append(missing, d.SuggestionID)
			continue
		}
		if sug.Decided() {
			decided = append(decided, d.SuggestionID)
		}
	}
	if len(missing) > 0 {
		return nil, cozyerrors.NewNotFound("suggestion", strings.Join(missing, ", "))
	}
	if len(decided) > 0 {
		return nil, cozyerrors.NewAlreadyDecided(decided)
	}

	// Merge edits and embed before the transaction, so a bad edit or a
	// provider failure leaves the graph untouched.
	var batch graph.ApplyBatch
	var embedTexts []string
	for _, d := range decisions {
		if d.Action == triage.ActionReject {
			batch.Rejects = append(batch.Rejects, d.SuggestionID)
			continue
		}
		merged, err := triage.ApplyEdit(byID[d.SuggestionID].Payload, d.EditedData)
		if err != nil {
			return nil, err
		}
		op := graph.AcceptOp{
			SuggestionID: d.SuggestionID,
			Task: graph.Task{
				Title:        merged.ActionTitle,
				Description:  merged.Description,
				Status:       merged.Status,
				Priority:     merged.Priority,
				Urgency:      merged.Urgency,
				Effort:       merged.Effort,
				ParaBucket:   merged.ParaBucket,
				NextAction:   merged.NextAction,
				DueDate:      merged.DueDate,
				EnergySignal: merged.EnergySignal,
			},
			Projects: merged.ProjectSuggestions,
			Areas:    merged.AreaSuggestions,
		}
		if d.EditedData != nil {
			op.DuplicateOf = d.EditedData.ConfirmedDuplicates
		}
		batch.Accepts = append(batch.Accepts, op)
		embedTexts = append(embedTexts, embedText(merged))
	}

	if len(embedTexts) > 0 {
		vectors, err := s.embed.EmbedDocuments(ctx, embedTexts)
		if err != nil {
			return nil, err
		}
		for i := range batch.Accepts {
			batch.Accepts[i].Embedding = vectors[i]
		}
	}

	start := time.Now()
	taskIDs, err := s.store.ApplyDecisions(ctx, userID, sessionID, batch)
	if err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Info("decisions applied",
		"session_id", sessionID, "user_id", userID,
		"accepted", len(batch.Accepts), "rejected", len(batch.Rejects),
		"elapsed_ms", time.Since(start).Milliseconds())
	return taskIDs, nil
}
