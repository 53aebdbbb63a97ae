// Package graph persists the triage graph: users own tasks, projects,
// areas, sessions, and suggestions; edges link tasks to their containers
// and to each other. Two backends implement Store, a SQLite file store and
// a Memgraph bolt store.
package graph

import (
	"context"
	"fmt"

	"github.com/hpungsan/cozytriage/internal/config"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// Edge types linking nodes.
const (
	EdgeOwns        = "OWNS"
	EdgePartOf      = "PART_OF"
	EdgeInArea      = "IN_AREA"
	EdgeDuplicateOf = "DUPLICATE_OF"
	EdgeDependsOn   = "DEPENDS_ON"
	EdgeBlocks      = "BLOCKS"
	EdgeProduced    = "PRODUCED"
)

// Task is a persisted task node.
type Task struct {
	ID           string `json:"id"`
	OwnerID      string `json:"-"`
	Title        string `json:"title"`
	TitleNorm    string `json:"-"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Priority     int    `json:"priority"`
	Urgency      int    `json:"urgency"`
	Effort       string `json:"effort"`
	ParaBucket   string `json:"para_bucket"`
	NextAction   string `json:"next_action"`
	DueDate      string `json:"due_date,omitempty"`
	EnergySignal string `json:"energy_signal,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Project is a persisted project node.
type Project struct {
	ID        string `json:"id"`
	OwnerID   string `json:"-"`
	Name      string `json:"name"`
	NameNorm  string `json:"-"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Area is a persisted area node.
type Area struct {
	ID        string `json:"id"`
	OwnerID   string `json:"-"`
	Name      string `json:"name"`
	NameNorm  string `json:"-"`
	CreatedAt int64  `json:"created_at"`
}

// Session is one triage run.
type Session struct {
	ID            string `json:"id"`
	OwnerID       string `json:"-"`
	InputText     string `json:"input_text"`
	State         string `json:"state"`
	Model         string `json:"model"`
	PromptVersion string `json:"prompt_version"`
	Error         string `json:"error,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Suggestion is one persisted candidate awaiting a decision. Accepted is
// nil until a decision lands.
type Suggestion struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	OwnerID   string           `json:"-"`
	Position  int              `json:"position"`
	Payload   triage.Candidate `json:"payload"`
	Accepted  *bool            `json:"accepted"`
	DecidedAt int64            `json:"decided_at,omitempty"`
	CreatedAt int64            `json:"created_at"`
}

// Decided reports whether a verdict has been recorded.
func (s *Suggestion) Decided() bool { return s.Accepted != nil }

// TaskMatch pairs a task with its cosine similarity to a query vector.
type TaskMatch struct {
	Task  Task    `json:"task"`
	Score float64 `json:"score"`
}

// Membership is one container edge in a task neighborhood. Hops is 1 for
// the task itself, 2 when reached through a linked task.
type Membership struct {
	TaskID    string `json:"task_id"`
	TaskTitle string `json:"task_title"`
	Kind      string `json:"kind"` // project | area
	Name      string `json:"name"`
	Hops      int    `json:"hops"`
}

// DecisionRecord is one past decision, newest first.
type DecisionRecord struct {
	SuggestionID string `json:"suggestion_id"`
	Title        string `json:"title"`
	Action       string `json:"action"`
	DecidedAt    int64  `json:"decided_at"`
}

// AcceptOp is one accepted suggestion ready to become a task. The store
// generates the task id and fills Task.ID.
type AcceptOp struct {
	SuggestionID string
	Task         Task
	Embedding    []float32
	Projects     []string // container names, found or created per owner
	Areas        []string
	DuplicateOf  []string // existing task ids, must resolve or the batch aborts
}

// ApplyBatch is the transactional unit of decision application. Either the
// whole batch lands or none of it does.
type ApplyBatch struct {
	Accepts []AcceptOp
	Rejects []string // suggestion ids
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status string
	Limit  int
}

// Store is the persistence boundary. Every entity access takes the owning
// user id, so unscoped reads and writes are inexpressible.
type Store interface {
	EnsureUser(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
	SetupSchema(ctx context.Context) error
	Close() error

	CreateSession(ctx context.Context, s *Session) error
	SetSessionState(ctx context.Context, ownerID, sessionID, state, errMsg string) error
	GetSession(ctx context.Context, ownerID, sessionID string) (*Session, error)

	// PersistSuggestions stores the finalized suggestions and moves the
	// session to PERSISTED in one transaction. Suggestion ids are filled in.
	PersistSuggestions(ctx context.Context, ownerID, sessionID string, suggestions []*Suggestion) error
	SuggestionsBySession(ctx context.Context, ownerID, sessionID string) ([]*Suggestion, error)

	// FindTaskByNormTitle returns (nil, nil) when no task matches.
	FindTaskByNormTitle(ctx context.Context, ownerID, titleNorm string) (*Task, error)
	VectorSearchTasks(ctx context.Context, ownerID string, vector []float32, k int) ([]TaskMatch, error)
	TaskNeighborhood(ctx context.Context, ownerID string, taskIDs []string) ([]Membership, error)
	RecentDecisions(ctx context.Context, ownerID string, n int) ([]DecisionRecord, error)

	// ApplyDecisions executes the batch atomically and returns created task
	// ids in accept order.
	ApplyDecisions(ctx context.Context, ownerID, sessionID string, batch ApplyBatch) ([]string, error)

	ListTasks(ctx context.Context, ownerID string, filter TaskFilter) ([]Task, error)
	GetTask(ctx context.Context, ownerID, taskID string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, ownerID, taskID, status string) (*Task, error)
	CountByStatus(ctx context.Context, ownerID string) (map[string]int, error)

	ListProjects(ctx context.Context, ownerID string) ([]Project, error)
	GetProject(ctx context.Context, ownerID, projectID string) (*Project, error)
	ProjectTasks(ctx context.Context, ownerID, projectID string) ([]Task, error)
	ListAreas(ctx context.Context, ownerID string) ([]Area, error)
}

// Open builds the store backend named by cfg.Store.
func Open(ctx context.Context, baseDir string, cfg *config.Config) (Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return OpenSQLite(baseDir, cfg)
	case config.StoreMemgraph:
		return OpenMemgraph(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
