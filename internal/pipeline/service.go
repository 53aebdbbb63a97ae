// Package pipeline orchestrates brain-dump triage: the two-pass LLM state
// machine, retrieval enrichment, and decision application, behind a single
// Service facade the CLI, MCP, and web surfaces share.
package pipeline

import (
	"context"
	"strings"

	"github.com/hpungsan/cozytriage/internal/config"
	"github.com/hpungsan/cozytriage/internal/embedding"
	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/graph"
	"github.com/hpungsan/cozytriage/internal/llm"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// Service bundles the triage collaborators.
type Service struct {
	store     graph.Store
	llm       llm.Client
	embed     embedding.Client
	cfg       *config.Config
	prompts   *triage.PromptSet
	resolver  *DuplicateResolver
	assembler *ContextAssembler
}

// NewService wires a Service from its collaborators and loads the configured
// prompt version from the registry.
func NewService(store graph.Store, llmClient llm.Client, embedClient embedding.Client, cfg *config.Config) (*Service, error) {
	prompts, err := triage.LoadPrompts(cfg.PromptVersion)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:     store,
		llm:       llmClient,
		embed:     embedClient,
		cfg:       cfg,
		prompts:   prompts,
		resolver:  NewDuplicateResolver(store, embedClient, cfg.SimilarTopK, cfg.SimilarityThreshold),
		assembler: NewContextAssembler(store, cfg.ContextMaxItems, cfg.RecentDecisions),
	}, nil
}

// SubmitBrainDump validates the dump, creates a session, and runs the
// pipeline to completion. The session id is returned even when the run
// fails, so callers can inspect the FAILED record.
func (s *Service) SubmitBrainDump(ctx context.Context, userID, text string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", cozyerrors.NewInvalidInput("user id is required")
	}
	if err := triage.ValidateDump(text, s.cfg.DumpMaxChars); err != nil {
		return "", err
	}
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		return "", err
	}

	sessionID, err := graph.NewID()
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	session := &graph.Session{
		ID:            sessionID,
		OwnerID:       userID,
		InputText:     text,
		State:         triage.SessionCreated,
		Model:         s.llm.Model(),
		PromptVersion: s.prompts.Version,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", err
	}

	if err := s.runPipeline(ctx, userID, sessionID, text); err != nil {
		return sessionID, err
	}
	return sessionID, nil
}

// SessionView is a session together with its suggestions.
type SessionView struct {
	Session     *graph.Session      `json:"session"`
	Suggestions []*graph.Suggestion `json:"suggestions"`
}

// GetSession loads a session and its suggestions for review.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*SessionView, error) {
	session, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	suggestions, err := s.store.SuggestionsBySession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: session, Suggestions: suggestions}, nil
}

// TaskListInput filters ListTasks.
type TaskListInput struct {
	Status string
	Limit  int
}

// ListTasks lists the user's tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, userID string, input TaskListInput) ([]graph.Task, error) {
	if input.Status != "" && !triage.ValidStatuses[input.Status] {
		return nil, cozyerrors.NewInvalidInput("invalid status: " + input.Status)
	}
	return s.store.ListTasks(ctx, userID, graph.TaskFilter{Status: input.Status, Limit: input.Limit})
}

// UpdateTaskStatus moves a task to a new status.
func (s *Service) UpdateTaskStatus(ctx context.Context, userID, taskID, status string) (*graph.Task, error) {
	if !triage.ValidStatuses[status] {
		return nil, cozyerrors.NewInvalidInput("invalid status: " + status)
	}
	return s.store.UpdateTaskStatus(ctx, userID, taskID, status)
}

// ListProjects lists the user's projects.
func (s *Service) ListProjects(ctx context.Context, userID string) ([]graph.Project, error) {
	return s.store.ListProjects(ctx, userID)
}

// ProjectView is a project together with its tasks.
type ProjectView struct {
	Project *graph.Project `json:"project"`
	Tasks   []graph.Task   `json:"tasks"`
}

// GetProject loads one project and the tasks linked to it.
func (s *Service) GetProject(ctx context.Context, userID, projectID string) (*ProjectView, error) {
	project, err := s.store.GetProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ProjectTasks(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectView{Project: project, Tasks: tasks}, nil
}

// OverviewData backs the dashboard tiles: per-status counts plus the top of
// the NEXT list.
type OverviewData struct {
	StatusCounts map[string]int `json:"status_counts"`
	NextTasks    []graph.Task   `json:"next_tasks"`
}

// Overview summarizes the user's tasks.
func (s *Service) Overview(ctx context.Context, userID string) (*OverviewData, error) {
	counts, err := s.store.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, err := s.store.ListTasks(ctx, userID, graph.TaskFilter{Status: triage.StatusNext, Limit: 5})
	if err != nil {
		return nil, err
	}
	return &OverviewData{StatusCounts: counts, NextTasks: next}, nil
}

// HealthStatus reports the store probe and which providers are configured.
// Providers are echoed, not called; health never spends tokens.
type HealthStatus struct {
	Store     string `json:"store"`
	LLM       string `json:"llm"`
	Embedding string `json:"embedding"`
}

// Ping probes the store and reports the configured providers.
func (s *Service) Ping(ctx context.Context) (*HealthStatus, error) {
	if err := s.store.Ping(ctx); err != nil {
		return nil, err
	}
	return &HealthStatus{
		Store:     s.cfg.Store,
		LLM:       s.cfg.LLMProvider + "/" + s.llm.Model(),
		Embedding: s.cfg.EmbeddingProvider + "/" + s.embed.Model(),
	}, nil
}

// SetupSchema bootstraps the store: migrations on sqlite, constraints and
// the vector index on memgraph.
func (s *Service) SetupSchema(ctx context.Context) error {
	return s.store.SetupSchema(ctx)
}

// EnsureUser creates the identity root for a user id.
func (s *Service) EnsureUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return cozyerrors.NewInvalidInput("user id is required")
	}
	return s.store.EnsureUser(ctx, userID)
}
