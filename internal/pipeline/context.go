package pipeline

import (
	"context"

	"github.com/hpungsan/cozytriage/internal/graph"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// ContextBundle is the retrieval context attached to one candidate for the
// enrichment pass. Bounded by configuration; overflow is dropped silently
// because the bundle is best-effort enrichment, not a completeness guarantee.
type ContextBundle struct {
	Index               int                    `json:"index"`
	SimilarTasks        []SimilarTask          `json:"similar_tasks,omitempty"`
	Memberships         []MembershipNote       `json:"memberships,omitempty"`
	RecentDecisions     []DecisionNote         `json:"recent_decisions,omitempty"`
	DuplicateCandidates []triage.DuplicateFlag `json:"duplicate_candidates,omitempty"`
}

// SimilarTask is one vector-search hit, trimmed to what the model needs.
type SimilarTask struct {
	TaskID string  `json:"task_id"`
	Title  string  `json:"title"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

// MembershipNote says where a nearby task lives in the graph.
type MembershipNote struct {
	TaskTitle string `json:"task_title"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
}

// DecisionNote is one prior verdict, so the model can align with how the
// user has been triaging.
type DecisionNote struct {
	Title  string `json:"title"`
	Action string `json:"action"`
}

// ContextAssembler builds bounded context bundles from the graph.
type ContextAssembler struct {
	store    graph.Store
	maxItems int
	recentN  int
}

// NewContextAssembler wires the assembler to the store and its caps.
func NewContextAssembler(store graph.Store, maxItems, recentN int) *ContextAssembler {
	if maxItems <= 0 {
		maxItems = 10
	}
	return &ContextAssembler{store: store, maxItems: maxItems, recentN: recentN}
}

// Assemble builds the bundle for one candidate from its ranked vector
// matches. Matches arrive ranked by similarity and memberships hop-1 before
// hop-2, so truncation keeps the strongest items.
func (a *ContextAssembler) Assemble(ctx context.Context, ownerID string, index int, matches []graph.TaskMatch) (ContextBundle, error) {
	bundle := ContextBundle{Index: index}

	if len(matches) > a.maxItems {
		matches = matches[:a.maxItems]
	}
	taskIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		bundle.SimilarTasks = append(bundle.SimilarTasks, SimilarTask{
			TaskID: m.Task.ID,
			Title:  m.Task.Title,
			Status: m.Task.Status,
			Score:  m.Score,
		})
		taskIDs = append(taskIDs, m.Task.ID)
	}

	memberships, err := a.store.TaskNeighborhood(ctx, ownerID, taskIDs)
	if err != nil {
		return ContextBundle{}, err
	}
	if len(memberships) > a.maxItems {
		memberships = memberships[:a.maxItems]
	}
	for _, m := range memberships {
		bundle.Memberships = append(bundle.Memberships, MembershipNote{
			TaskTitle: m.TaskTitle,
			Kind:      m.Kind,
			Name:      m.Name,
		})
	}

	decisions, err := a.store.RecentDecisions(ctx, ownerID, a.recentN)
	if err != nil {
		return ContextBundle{}, err
	}
	for _, d := range decisions {
		bundle.RecentDecisions = append(bundle.RecentDecisions, DecisionNote{
			Title:  d.Title,
			Action: d.Action,
		})
	}
	return bundle, nil
}
