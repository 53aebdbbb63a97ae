package pipeline

import (
	"context"
	"fmt"

	"github.com/hpungsan/cozytriage/internal/embedding"
	"github.com/hpungsan/cozytriage/internal/graph"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// DuplicateResolver flags existing tasks a candidate likely duplicates. It
// only annotates; merging is always the reviewer's decision.
type DuplicateResolver struct {
	store     graph.Store
	embed     embedding.Client
	topK      int
	threshold float64
}

// NewDuplicateResolver wires the resolver to its collaborators.
func NewDuplicateResolver(store graph.Store, embed embedding.Client, topK int, threshold float64) *DuplicateResolver {
	if topK <= 0 {
		topK = 5
	}
	return &DuplicateResolver{store: store, embed: embed, topK: topK, threshold: threshold}
}

// Resolve returns duplicate flags for the candidate and the ranked vector
// matches its search produced. The matches feed the context assembler so the
// similarity search runs once per candidate.
func (r *DuplicateResolver) Resolve(ctx context.Context, ownerID string, cand triage.Candidate) ([]triage.DuplicateFlag, []graph.TaskMatch, error) {
	var flags []triage.DuplicateFlag
	flagged := map[string]bool{}

	exact, err := r.store.FindTaskByNormTitle(ctx, ownerID, triage.Normalize(cand.ActionTitle))
	if err != nil {
		return nil, nil, err
	}
	if exact != nil {
		flags = append(flags, triage.DuplicateFlag{TaskID: exact.ID, Reason: "exact title match"})
		flagged[exact.ID] = true
	}

	vec, err := r.embed.EmbedQuery(ctx, embedText(cand))
	if err != nil {
		return nil, nil, err
	}
	matches, err := r.store.VectorSearchTasks(ctx, ownerID, vec, r.topK)
	if err != nil {
		return nil, nil, err
	}

	for _, m := range matches {
		if m.Score < r.threshold || flagged[m.Task.ID] {
			continue
		}
		flags = append(flags, triage.DuplicateFlag{
			TaskID: m.Task.ID,
			Reason: fmt.Sprintf("vector similarity: %.2f", m.Score),
			Score:  m.Score,
		})
		flagged[m.Task.ID] = true
	}
	return flags, matches, nil
}

// embedText is the text embedded for a candidate, used both as the search
// query here and as the stored document when the task is created.
func embedText(cand triage.Candidate) string {
	return cand.ActionTitle + "\n" + cand.Description
}
