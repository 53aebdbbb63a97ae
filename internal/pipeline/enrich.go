package pipeline

import (
	"context"
	"sync"

	"github.com/hpungsan/cozytriage/internal/observability"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// enriched is one candidate after the retrieval stage: duplicate flags
// attached, context bundle built.
type enriched struct {
	candidate triage.Candidate
	bundle    ContextBundle
	err       error
}

// enrichCandidates runs the resolver and assembler for every candidate on a
// bounded worker pool. Workers write into index-addressed slots, so the
// returned slice preserves candidate order no matter how the pool schedules.
//
// The failure policy is the partial_enrichment switch: off, the first
// candidate error fails the whole run; on, failed candidates are dropped
// with a warning and only an all-candidate failure fails the run.
func (s *Service) enrichCandidates(ctx context.Context, ownerID string, cands []triage.Candidate) ([]enriched, error) {
	results := make([]enriched, len(cands))

	workers := s.cfg.EnrichWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(cands) {
		workers = len(cands)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.enrichOne(ctx, ownerID, i, cands[i])
			}
		}()
	}
	for i := range cands {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	log := observability.LoggerFromContext(ctx)
	if !s.cfg.PartialEnrichment {
		for i := range results {
			if results[i].err != nil {
				return nil, results[i].err
			}
		}
		return results, nil
	}

	kept := make([]enriched, 0, len(results))
	var firstErr error
	for i := range results {
		if results[i].err != nil {
			if firstErr == nil {
				firstErr = results[i].err
			}
			log.Warn("dropping candidate after enrichment failure",
				"index", i, "title", cands[i].ActionTitle, "error", results[i].err)
			continue
		}
		// Reindex so bundles still line up with the compacted candidate list.
		results[i].bundle.Index = len(kept)
		kept = append(kept, results[i])
	}
	if len(kept) == 0 {
		return nil, firstErr
	}
	return kept, nil
}

func (s *Service) enrichOne(ctx context.Context, ownerID string, index int, cand triage.Candidate) enriched {
	flags, matches, err := s.resolver.Resolve(ctx, ownerID, cand)
	if err != nil {
		return enriched{err: err}
	}
	bundle, err := s.assembler.Assemble(ctx, ownerID, index, matches)
	if err != nil {
		return enriched{err: err}
	}
	cand.DuplicateCandidates = flags
	bundle.DuplicateCandidates = flags
	return enriched{candidate: cand, bundle: bundle}
}
