package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/graph"
	"github.com/hpungsan/cozytriage/internal/llm"
	"github.com/hpungsan/cozytriage/internal/observability"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// runPipeline drives one session CREATED → PARSING → ENRICHING → FINALIZING
// → PERSISTED. Any step error moves the session to FAILED with the error
// text recorded; a FAILED session never has suggestions.
func (s *Service) runPipeline(ctx context.Context, ownerID, sessionID, dump string) error {
	log := observability.LoggerFromContext(ctx).With("session_id", sessionID, "user_id", ownerID)
	start := time.Now()

	if err := s.store.SetSessionState(ctx, ownerID, sessionID, triage.SessionParsing, ""); err != nil {
		return s.failSession(ctx, log, ownerID, sessionID, err)
	}
	candidates, err := s.parseDump(ctx, ownerID, dump)
	if err != nil {
		return s.failSession(ctx, log, ownerID, sessionID, err)
	}
	log.Info("pass 1 complete", "candidates", len(candidates))

	if err := s.store.SetSessionState(ctx, ownerID, sessionID, triage.SessionEnriching, ""); err != nil {
		return s.failSession(ctx, log, ownerID, sessionID, err)
	}
	enrichedCands, err := s.enrichCandidates(ctx, ownerID, candidates)
	if err != nil {
		return s.failSession(ctx, log, ownerID, sessionID, err)
	}

	if err := s.store.SetSessionState(ctx, ownerID, sessionID, triage.SessionFinalizing, ""); err != nil {
		return s.failSession(ctx, log, ownerID, sessionID, err)
	}
	finalized, err := s.finalize(ctx, enrichedCands)
	if err != nil {
		return s.failSession(ctx, log, ownerID, sessionID, err)
	}

	suggestions := make([]*graph.Suggestion, len(finalized))
	for i := range finalized {
		suggestions[i] = &graph.Suggestion{Payload: finalized[i]}
	}
	if err := s.store.PersistSuggestions(ctx, ownerID, sessionID, suggestions); err != nil {
		return s.failSession(ctx, log, ownerID, sessionID, err)
	}

	log.Info("session persisted",
		"suggestions", len(suggestions), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// failSession records the FAILED transition and wraps the cause. The record
// itself survives for diagnostics even when the transition write fails.
func (s *Service) failSession(ctx context.Context, log *slog.Logger, ownerID, sessionID string, cause error) error {
	log.Error("triage pipeline failed", "error", cause)
	if err := s.store.SetSessionState(ctx, ownerID, sessionID, triage.SessionFailed, cause.Error()); err != nil {
		log.Warn("could not record session failure", "error", err)
	}
	return cozyerrors.NewPipelineFailed(sessionID, cause)
}

// parseDump runs pass 1: dump text in, validated candidates out.
func (s *Service) parseDump(ctx context.Context, ownerID, dump string) ([]triage.Candidate, error) {
	fragments := triage.SegmentDump(dump)
	bullets, paragraphs, headings := triage.CountFragments(fragments)

	data := triage.Pass1Data{
		Dump:       dump,
		Bullets:    bullets,
		Paragraphs: paragraphs,
		Headings:   headings,
	}
	// Existing names are a steering hint only; a store hiccup here must not
	// fail the run.
	log := observability.LoggerFromContext(ctx)
	if projects, err := s.store.ListProjects(ctx, ownerID); err == nil {
		for _, p := range projects {
			data.Projects = append(data.Projects, p.Name)
		}
	} else {
		log.Warn("skipping project context for pass 1", "error", err)
	}
	if areas, err := s.store.ListAreas(ctx, ownerID); err == nil {
		for _, a := range areas {
			data.Areas = append(data.Areas, a.Name)
		}
	} else {
		log.Warn("skipping area context for pass 1", "error", err)
	}

	prompt, err := s.prompts.Pass1User(data)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return s.completeValidated(ctx, s.prompts.Pass1System(), prompt, 0)
}

// finalize runs pass 2: all candidates plus their bundles go out in one
// call, so the model can reconcile duplicates across candidates. The reply
// may merge candidates but must keep between 1 and the input count.
func (s *Service) finalize(ctx context.Context, enrichedCands []enriched) ([]triage.Candidate, error) {
	candidates := make([]triage.Candidate, len(enrichedCands))
	bundles := make([]ContextBundle, len(enrichedCands))
	for i := range enrichedCands {
		candidates[i] = enrichedCands[i].candidate
		bundles[i] = enrichedCands[i].bundle
	}

	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	contextsJSON, err := json.Marshal(bundles)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	prompt, err := s.prompts.Pass2User(triage.Pass2Data{
		CandidatesJSON: string(candidatesJSON),
		ContextsJSON:   string(contextsJSON),
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	finalized, err := s.completeValidated(ctx, s.prompts.Pass2System(), prompt, len(candidates))
	if err != nil {
		return nil, err
	}
	reattachFlags(enrichedCands, finalized)
	return finalized, nil
}

// completeValidated sends one prompt and validates the reply. A contract
// violation is retried exactly once with the correction prompt; provider
// failures are fatal immediately and never retried. maxItems > 0 bounds the
// reply length (the pass-2 merge allowance); 0 means unbounded.
func (s *Service) completeValidated(ctx context.Context, system, prompt string, maxItems int) ([]triage.Candidate, error) {
	log := observability.LoggerFromContext(ctx)

	raw, err := s.llm.Complete(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: s.cfg.LLMMaxTokens})
	if err != nil {
		return nil, err
	}
	candidates, verr := validateReply(raw, maxItems)
	if verr == nil {
		return candidates, nil
	}
	if !cozyerrors.Is(verr, cozyerrors.ErrSchemaViolation) {
		return nil, verr
	}
	log.Warn("model reply violated the contract, retrying once", "error", verr)

	retryPrompt, err := s.prompts.Retry(triage.RetryData{Prompt: prompt, Response: raw, Error: verr.Error()})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	raw, err = s.llm.Complete(ctx, llm.Request{System: system, Prompt: retryPrompt, MaxTokens: s.cfg.LLMMaxTokens})
	if err != nil {
		return nil, err
	}
	return validateReply(raw, maxItems)
}

func validateReply(raw string, maxItems int) ([]triage.Candidate, error) {
	candidates, err := triage.ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	if maxItems > 0 && len(candidates) > maxItems {
		return nil, cozyerrors.NewSchemaViolation(
			fmt.Sprintf("expected at most %d items, got %d", maxItems, len(candidates)))
	}
	return candidates, nil
}

// reattachFlags copies resolver duplicate flags onto the finalized
// candidates; the validator strips whatever the model echoed back, so the
// resolver stays the only source. Finalized candidates are matched to their
// enriched originals by normalized title, falling back to position when the
// model kept the count.
func reattachFlags(enrichedCands []enriched, finalized []triage.Candidate) {
	byTitle := make(map[string][]triage.DuplicateFlag, len(enrichedCands))
	for _, e := range enrichedCands {
		title := triage.Normalize(e.candidate.ActionTitle)
		if _, ok := byTitle[title]; !ok {
			byTitle[title] = e.candidate.DuplicateCandidates
		}
	}
	for i := range finalized {
		if flags, ok := byTitle[triage.Normalize(finalized[i].ActionTitle)]; ok {
			finalized[i].DuplicateCandidates = flags
			continue
		}
		if len(finalized) == len(enrichedCands) {
			finalized[i].DuplicateCandidates = enrichedCands[i].candidate.DuplicateCandidates
		}
	}
}
