package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/hpungsan/cozytriage/internal/config"
	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// VectorIndexName is the Memgraph vector index over task embeddings.
const VectorIndexName = "task_embedding_idx"

// vectorOversample widens vector_search.search before ownership filtering;
// the index is global while results must stay per-owner.
const vectorOversample = 4

// Every read and write below reaches entities only through
// (u:User {id: $owner_id})-[:OWNS]->, so a missing or foreign owner yields
// zero rows rather than another user's data.
const (
	cypherEnsureUser = `
		MERGE (u:User {id: $owner_id})
		ON CREATE SET u.created_at = $now`

	cypherCreateSession = `
		MATCH (u:User {id: $owner_id})
		CREATE (u)-[:OWNS]->(s:TriageSession {id: $id, input_text: $input_text, state: $state,
			model: $model, prompt_version: $prompt_version, error: '',
			created_at: $now, updated_at: $now})
		RETURN s.id`

	cypherSetSessionState = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(s:TriageSession {id: $session_id})
		SET s.state = $state, s.error = $error, s.updated_at = $now
		RETURN s.id`

	cypherGetSession = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(s:TriageSession {id: $session_id})
		RETURN s`

	cypherMatchSession = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(s:TriageSession {id: $session_id})
		RETURN s.id`

	cypherPersistSuggestions = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(s:TriageSession {id: $session_id})
		SET s.state = $state, s.updated_at = $now
		WITH u, s
		UNWIND $suggestions AS sug
		CREATE (u)-[:OWNS]->(g:TriageSuggestion {id: sug.id, session_id: $session_id,
			position: sug.position, payload_json: sug.payload_json, created_at: $now})
		CREATE (s)-[:PRODUCED]->(g)
		RETURN count(g)`

	cypherSuggestionsBySession = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(g:TriageSuggestion {session_id: $session_id})
		RETURN g ORDER BY g.position`

	cypherFindTaskByNormTitle = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task {title_norm: $title_norm})
		RETURN t LIMIT 1`

	cypherVectorSearchTasks = `
		CALL vector_search.search($index, $fetch, $vector) YIELD node, similarity
		MATCH (u:User {id: $owner_id})-[:OWNS]->(node)
		RETURN node, similarity
		ORDER BY similarity DESC`

	cypherNeighborhood = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task) WHERE t.id IN $task_ids
		MATCH (t)-[r:PART_OF|IN_AREA]->(c)
		RETURN t.id AS task_id, t.title AS task_title, type(r) AS rel, c.name AS name, 1 AS hops
		UNION
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task) WHERE t.id IN $task_ids
		MATCH (t)-[:DEPENDS_ON|BLOCKS|DUPLICATE_OF]-(n:Task)
		WHERE NOT n.id IN $task_ids
		MATCH (u)-[:OWNS]->(n)
		MATCH (n)-[r:PART_OF|IN_AREA]->(c)
		RETURN n.id AS task_id, n.title AS task_title, type(r) AS rel, c.name AS name, 2 AS hops`

	cypherRecentDecisions = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(g:TriageSuggestion)
		WHERE g.decided_at IS NOT NULL
		RETURN g.id AS id, g.payload_json AS payload_json, g.accepted AS accepted, g.decided_at AS decided_at
		ORDER BY g.decided_at DESC, g.id DESC LIMIT $n`

	cypherSuggestionState = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(g:TriageSuggestion {id: $suggestion_id, session_id: $session_id})
		RETURN g.decided_at`

	cypherDecideSuggestion = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(g:TriageSuggestion {id: $suggestion_id, session_id: $session_id})
		WHERE g.decided_at IS NULL
		SET g.accepted = $accepted, g.decided_at = $now
		RETURN g.id`

	cypherCreateTask = `
		MATCH (u:User {id: $owner_id})
		CREATE (u)-[:OWNS]->(t:Task {id: $id, title: $title, title_norm: $title_norm,
			description: $description, status: $status, priority: $priority, urgency: $urgency,
			effort: $effort, para_bucket: $para_bucket, next_action: $next_action,
			due_date: $due_date, energy_signal: $energy_signal, embedding: $embedding,
			created_at: $now, updated_at: $now})
		RETURN t.id`

	cypherAttachProject = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task {id: $task_id})
		MERGE (u)-[:OWNS]->(p:Project {name_norm: $name_norm})
		ON CREATE SET p.id = $new_id, p.name = $name, p.status = $status, p.created_at = $now
		MERGE (t)-[:PART_OF]->(p)
		RETURN p.id`

	cypherAttachArea = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task {id: $task_id})
		MERGE (u)-[:OWNS]->(a:Area {name_norm: $name_norm})
		ON CREATE SET a.id = $new_id, a.name = $name, a.created_at = $now
		MERGE (t)-[:IN_AREA]->(a)
		RETURN a.id`

	cypherMarkDuplicate = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task {id: $task_id})
		MATCH (u)-[:OWNS]->(d:Task {id: $duplicate_id})
		MERGE (t)-[:DUPLICATE_OF]->(d)
		RETURN d.id`

	cypherListTasks = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task)
		WHERE $status = '' OR t.status = $status
		RETURN t ORDER BY t.updated_at DESC, t.id DESC LIMIT $limit`

	cypherGetTask = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task {id: $task_id})
		RETURN t`

	cypherUpdateTaskStatus = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task {id: $task_id})
		SET t.status = $status, t.updated_at = $now
		RETURN t`

	cypherCountByStatus = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(t:Task)
		RETURN t.status AS status, count(t) AS count`

	cypherListProjects = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(p:Project)
		RETURN p ORDER BY p.created_at DESC, p.id DESC`

	cypherGetProject = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(p:Project {id: $project_id})
		RETURN p`

	cypherProjectTasks = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(p:Project {id: $project_id})
		MATCH (t:Task)-[:PART_OF]->(p)
		MATCH (u)-[:OWNS]->(t)
		RETURN t ORDER BY t.updated_at DESC, t.id DESC`

	cypherListAreas = `
		MATCH (u:User {id: $owner_id})-[:OWNS]->(a:Area)
		RETURN a ORDER BY a.created_at DESC, a.id DESC`
)

// setupConstraints are the uniqueness constraints SetupSchema creates, one
// per node type.
var setupConstraints = []string{
	`CREATE CONSTRAINT ON (u:User) ASSERT u.id IS UNIQUE`,
	`CREATE CONSTRAINT ON (t:Task) ASSERT t.id IS UNIQUE`,
	`CREATE CONSTRAINT ON (p:Project) ASSERT p.id IS UNIQUE`,
	`CREATE CONSTRAINT ON (a:Area) ASSERT a.id IS UNIQUE`,
	`CREATE CONSTRAINT ON (r:Resource) ASSERT r.id IS UNIQUE`,
	`CREATE CONSTRAINT ON (s:TriageSession) ASSERT s.id IS UNIQUE`,
	`CREATE CONSTRAINT ON (g:TriageSuggestion) ASSERT g.id IS UNIQUE`,
}

// setupVectorIndexTemplate is filled with the configured embedding
// dimension and capacity.
const setupVectorIndexTemplate = `CREATE VECTOR INDEX ` + VectorIndexName +
	` ON :Task(embedding) WITH CONFIG {"dimension": %d, "capacity": %d, "metric": "cos"}`

const vectorIndexCapacity = 10000

// MemgraphStore keeps the graph in Memgraph over bolt.
type MemgraphStore struct {
	driver neo4j.DriverWithContext
	dim    int
}

// OpenMemgraph connects to cfg.MemgraphURI and verifies connectivity.
func OpenMemgraph(ctx context.Context, cfg *config.Config) (*MemgraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.MemgraphURI,
		neo4j.BasicAuth(cfg.MemgraphUsername, cfg.MemgraphPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create memgraph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("memgraph unreachable at %s: %w", cfg.MemgraphURI, err)
	}
	return &MemgraphStore{driver: driver, dim: cfg.EmbeddingDim}, nil
}

// Close shuts the driver down.
func (s *MemgraphStore) Close() error {
	return s.driver.Close(context.Background())
}

// Ping verifies the server answers.
func (s *MemgraphStore) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// SetupSchema creates the uniqueness constraints and the task embedding
// vector index. Existing constraints and indexes are tolerated.
func (s *MemgraphStore) SetupSchema(ctx context.Context) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	for _, stmt := range setupConstraints {
		if err := runAndConsume(ctx, sess, stmt, nil); err != nil {
			return cozyerrors.NewInternal(fmt.Errorf("constraint %q: %w", stmt, err))
		}
	}
	indexStmt := fmt.Sprintf(setupVectorIndexTemplate, s.dim, vectorIndexCapacity)
	if err := runAndConsume(ctx, sess, indexStmt, nil); err != nil {
		return cozyerrors.NewInternal(fmt.Errorf("vector index: %w", err))
	}
	return nil
}

// runAndConsume runs a statement whose rows are not needed; server-side
// errors surface on consume rather than on Run.
func runAndConsume(ctx context.Context, sess neo4j.SessionWithContext, query string, params map[string]any) error {
	res, err := sess.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// EnsureUser creates the identity root if it does not exist yet.
func (s *MemgraphStore) EnsureUser(ctx context.Context, userID string) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	err := runAndConsume(ctx, sess, cypherEnsureUser, map[string]any{
		"owner_id": userID,
		"now":      time.Now().Unix(),
	})
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// CreateSession stores a new session node under the owner.
func (s *MemgraphStore) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now().Unix()
	if session.CreatedAt == 0 {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherCreateSession, map[string]any{
		"owner_id":       session.OwnerID,
		"id":             session.ID,
		"input_text":     session.InputText,
		"state":          session.State,
		"model":          session.Model,
		"prompt_version": session.PromptVersion,
		"now":            session.CreatedAt,
	})
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return cozyerrors.NewNotFound("user", session.OwnerID)
	}
	return nil
}

// SetSessionState transitions a session and records the error text that
// drove a FAILED transition.
func (s *MemgraphStore) SetSessionState(ctx context.Context, ownerID, sessionID, state, errMsg string) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherSetSessionState, map[string]any{
		"owner_id":   ownerID,
		"session_id": sessionID,
		"state":      state,
		"error":      errMsg,
		"now":        time.Now().Unix(),
	})
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return cozyerrors.NewNotFound("session", sessionID)
	}
	return nil
}

// GetSession loads a session scoped to its owner.
func (s *MemgraphStore) GetSession(ctx context.Context, ownerID, sessionID string) (*Session, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherGetSession, map[string]any{
		"owner_id":   ownerID,
		"session_id": sessionID,
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return nil, cozyerrors.NewNotFound("session", sessionID)
	}
	return sessionFromProps(nodeProps(res.Record().Values[0]), ownerID), nil
}

// PersistSuggestions writes the finalized suggestions and moves the session
// to PERSISTED in one write transaction.
func (s *MemgraphStore) PersistSuggestions(ctx context.Context, ownerID, sessionID string, suggestions []*Suggestion) error {
	now := time.Now().Unix()
	payloads := make([]map[string]any, 0, len(suggestions))
	for i, sug := range suggestions {
		id, err := NewID()
		if err != nil {
			return cozyerrors.NewInternal(err)
		}
		data, err := json.Marshal(sug.Payload)
		if err != nil {
			return cozyerrors.NewInternal(err)
		}
		sug.ID = id
		sug.SessionID = sessionID
		sug.OwnerID = ownerID
		sug.Position = i
		sug.CreatedAt = now
		payloads = append(payloads, map[string]any{
			"id":           id,
			"position":     int64(i),
			"payload_json": string(data),
		})
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		check, err := tx.Run(ctx, cypherMatchSession, map[string]any{
			"owner_id":   ownerID,
			"session_id": sessionID,
		})
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		if !check.Next(ctx) {
			return nil, cozyerrors.NewNotFound("session", sessionID)
		}
		res, err := tx.Run(ctx, cypherPersistSuggestions, map[string]any{
			"owner_id":    ownerID,
			"session_id":  sessionID,
			"state":       triage.SessionPersisted,
			"now":         now,
			"suggestions": payloads,
		})
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		return nil, nil
	})
	return err
}

// SuggestionsBySession lists a session's suggestions in position order.
func (s *MemgraphStore) SuggestionsBySession(ctx context.Context, ownerID, sessionID string) ([]*Suggestion, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherSuggestionsBySession, map[string]any{
		"owner_id":   ownerID,
		"session_id": sessionID,
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []*Suggestion
	for res.Next(ctx) {
		sug, err := suggestionFromProps(nodeProps(res.Record().Values[0]), ownerID)
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		out = append(out, sug)
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// FindTaskByNormTitle returns the owner's task with the given normalized
// title, or (nil, nil) when there is none.
func (s *MemgraphStore) FindTaskByNormTitle(ctx context.Context, ownerID, titleNorm string) (*Task, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherFindTaskByNormTitle, map[string]any{
		"owner_id":   ownerID,
		"title_norm": titleNorm,
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return nil, nil
	}
	return taskFromProps(nodeProps(res.Record().Values[0]), ownerID), nil
}

// VectorSearchTasks queries the vector index, keeps the owner's nodes, and
// returns the top k by similarity.
func (s *MemgraphStore) VectorSearchTasks(ctx context.Context, ownerID string, vector []float32, k int) ([]TaskMatch, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherVectorSearchTasks, map[string]any{
		"owner_id": ownerID,
		"index":    VectorIndexName,
		"fetch":    int64(k * vectorOversample),
		"vector":   toFloat64s(vector),
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []TaskMatch
	for res.Next(ctx) {
		rec := res.Record()
		task := taskFromProps(nodeProps(rec.Values[0]), ownerID)
		score, _ := rec.Values[1].(float64)
		out = append(out, TaskMatch{Task: *task, Score: score})
		if len(out) == k {
			break
		}
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// TaskNeighborhood collects container memberships at hop 1 and, through
// task-task edges, hop 2.
func (s *MemgraphStore) TaskNeighborhood(ctx context.Context, ownerID string, taskIDs []string) ([]Membership, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherNeighborhood, map[string]any{
		"owner_id": ownerID,
		"task_ids": taskIDs,
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []Membership
	for res.Next(ctx) {
		rec := res.Record()
		m := Membership{}
		m.TaskID, _ = rec.Values[0].(string)
		m.TaskTitle, _ = rec.Values[1].(string)
		rel, _ := rec.Values[2].(string)
		if rel == EdgeInArea {
			m.Kind = "area"
		} else {
			m.Kind = "project"
		}
		m.Name, _ = rec.Values[3].(string)
		hops, _ := rec.Values[4].(int64)
		m.Hops = int(hops)
		out = append(out, m)
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// RecentDecisions lists the owner's latest decided suggestions.
func (s *MemgraphStore) RecentDecisions(ctx context.Context, ownerID string, n int) ([]DecisionRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherRecentDecisions, map[string]any{
		"owner_id": ownerID,
		"n":        int64(n),
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []DecisionRecord
	for res.Next(ctx) {
		rec := res.Record()
		var d DecisionRecord
		d.SuggestionID, _ = rec.Values[0].(string)
		payloadJSON, _ := rec.Values[1].(string)
		var payload triage.Candidate
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		d.Title = payload.ActionTitle
		accepted, _ := rec.Values[2].(bool)
		d.Action = triage.ActionReject
		if accepted {
			d.Action = triage.ActionAccept
		}
		decidedAt, _ := rec.Values[3].(int64)
		d.DecidedAt = decidedAt
		out = append(out, d)
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// ApplyDecisions executes the batch in one managed write transaction; any
// error rolls the whole batch back.
func (s *MemgraphStore) ApplyDecisions(ctx context.Context, ownerID, sessionID string, batch ApplyBatch) ([]string, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	now := time.Now().Unix()
	result, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		check, err := tx.Run(ctx, cypherMatchSession, map[string]any{
			"owner_id":   ownerID,
			"session_id": sessionID,
		})
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		if !check.Next(ctx) {
			return nil, cozyerrors.NewNotFound("session", sessionID)
		}

		taskIDs := make([]string, 0, len(batch.Accepts))
		for _, op := range batch.Accepts {
			taskID, err := s.createTaskTx(ctx, tx, ownerID, op, now)
			if err != nil {
				return nil, err
			}
			taskIDs = append(taskIDs, taskID)

			for _, name := range op.Projects {
				if err := s.attachContainerTx(ctx, tx, cypherAttachProject, ownerID, taskID, name, now); err != nil {
					return nil, err
				}
			}
			for _, name := range op.Areas {
				if err := s.attachContainerTx(ctx, tx, cypherAttachArea, ownerID, taskID, name, now); err != nil {
					return nil, err
				}
			}
			for _, dupID := range op.DuplicateOf {
				res, err := tx.Run(ctx, cypherMarkDuplicate, map[string]any{
					"owner_id":     ownerID,
					"task_id":      taskID,
					"duplicate_id": dupID,
				})
				if err != nil {
					return nil, cozyerrors.NewInternal(err)
				}
				if !res.Next(ctx) {
					return nil, cozyerrors.NewNotFound("task", dupID)
				}
			}

			if err := s.decideSuggestionTx(ctx, tx, ownerID, sessionID, op.SuggestionID, true, now); err != nil {
				return nil, err
			}
		}

		for _, sugID := range batch.Rejects {
			if err := s.decideSuggestionTx(ctx, tx, ownerID, sessionID, sugID, false, now); err != nil {
				return nil, err
			}
		}
		return taskIDs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (s *MemgraphStore) createTaskTx(ctx context.Context, tx neo4j.ManagedTransaction, ownerID string, op AcceptOp, now int64) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	t := op.Task
	res, err := tx.Run(ctx, cypherCreateTask, map[string]any{
		"owner_id":      ownerID,
		"id":            id,
		"title":         t.Title,
		"title_norm":    triage.Normalize(t.Title),
		"description":   t.Description,
		"status":        t.Status,
		"priority":      int64(t.Priority),
		"urgency":       int64(t.Urgency),
		"effort":        t.Effort,
		"para_bucket":   t.ParaBucket,
		"next_action":   t.NextAction,
		"due_date":      t.DueDate,
		"energy_signal": t.EnergySignal,
		"embedding":     toFloat64s(op.Embedding),
		"now":           now,
	})
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return "", cozyerrors.NewNotFound("user", ownerID)
	}
	return id, nil
}

func (s *MemgraphStore) attachContainerTx(ctx context.Context, tx neo4j.ManagedTransaction, query, ownerID, taskID, name string, now int64) error {
	newID, err := NewID()
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	res, err := tx.Run(ctx, query, map[string]any{
		"owner_id":  ownerID,
		"task_id":   taskID,
		"name":      name,
		"name_norm": triage.Normalize(name),
		"new_id":    newID,
		"status":    triage.ProjectActive,
		"now":       now,
	})
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return cozyerrors.NewNotFound("task", taskID)
	}
	return nil
}

func (s *MemgraphStore) decideSuggestionTx(ctx context.Context, tx neo4j.ManagedTransaction, ownerID, sessionID, suggestionID string, accepted bool, now int64) error {
	res, err := tx.Run(ctx, cypherDecideSuggestion, map[string]any{
		"owner_id":      ownerID,
		"session_id":    sessionID,
		"suggestion_id": suggestionID,
		"accepted":      accepted,
		"now":           now,
	})
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	if res.Next(ctx) {
		return nil
	}

	state, err := tx.Run(ctx, cypherSuggestionState, map[string]any{
		"owner_id":      ownerID,
		"session_id":    sessionID,
		"suggestion_id": suggestionID,
	})
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	if !state.Next(ctx) {
		return cozyerrors.NewNotFound("suggestion", suggestionID)
	}
	return cozyerrors.NewAlreadyDecided([]string{suggestionID})
}

// ListTasks lists the owner's tasks, optionally filtered by status.
func (s *MemgraphStore) ListTasks(ctx context.Context, ownerID string, filter TaskFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherListTasks, map[string]any{
		"owner_id": ownerID,
		"status":   filter.Status,
		"limit":    int64(limit),
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []Task
	for res.Next(ctx) {
		out = append(out, *taskFromProps(nodeProps(res.Record().Values[0]), ownerID))
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// GetTask loads one task scoped to its owner.
func (s *MemgraphStore) GetTask(ctx context.Context, ownerID, taskID string) (*Task, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherGetTask, map[string]any{
		"owner_id": ownerID,
		"task_id":  taskID,
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return nil, cozyerrors.NewNotFound("task", taskID)
	}
	return taskFromProps(nodeProps(res.Record().Values[0]), ownerID), nil
}

// UpdateTaskStatus sets a task's status and returns the updated record.
func (s *MemgraphStore) UpdateTaskStatus(ctx context.Context, ownerID, taskID, status string) (*Task, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherUpdateTaskStatus, map[string]any{
		"owner_id": ownerID,
		"task_id":  taskID,
		"status":   status,
		"now":      time.Now().Unix(),
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return nil, cozyerrors.NewNotFound("task", taskID)
	}
	return taskFromProps(nodeProps(res.Record().Values[0]), ownerID), nil
}

// CountByStatus returns task counts per status for the owner.
func (s *MemgraphStore) CountByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherCountByStatus, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	out := map[string]int{}
	for res.Next(ctx) {
		rec := res.Record()
		status, _ := rec.Values[0].(string)
		count, _ := rec.Values[1].(int64)
		out[status] = int(count)
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// ListProjects lists the owner's projects, newest first.
func (s *MemgraphStore) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherListProjects, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []Project
	for res.Next(ctx) {
		out = append(out, *projectFromProps(nodeProps(res.Record().Values[0]), ownerID))
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// GetProject loads one project scoped to its owner.
func (s *MemgraphStore) GetProject(ctx context.Context, ownerID, projectID string) (*Project, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherGetProject, map[string]any{
		"owner_id":   ownerID,
		"project_id": projectID,
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	if !res.Next(ctx) {
		return nil, cozyerrors.NewNotFound("project", projectID)
	}
	return projectFromProps(nodeProps(res.Record().Values[0]), ownerID), nil
}

// ProjectTasks lists tasks attached to a project via PART_OF.
func (s *MemgraphStore) ProjectTasks(ctx context.Context, ownerID, projectID string) ([]Task, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherProjectTasks, map[string]any{
		"owner_id":   ownerID,
		"project_id": projectID,
	})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []Task
	for res.Next(ctx) {
		out = append(out, *taskFromProps(nodeProps(res.Record().Values[0]), ownerID))
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// ListAreas lists the owner's areas, newest first.
func (s *MemgraphStore) ListAreas(ctx context.Context, ownerID string) ([]Area, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypherListAreas, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	var out []Area
	for res.Next(ctx) {
		out = append(out, *areaFromProps(nodeProps(res.Record().Values[0]), ownerID))
	}
	if err := res.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// nodeProps extracts the property map of a returned node value.
func nodeProps(v any) map[string]any {
	if n, ok := v.(neo4j.Node); ok {
		return n.Props
	}
	return nil
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propInt(props map[string]any, key string) int64 {
	if v, ok := props[key].(int64); ok {
		return v
	}
	return 0
}

func taskFromProps(props map[string]any, ownerID string) *Task {
	return &Task{
		ID:           propString(props, "id"),
		OwnerID:      ownerID,
		Title:        propString(props, "title"),
		TitleNorm:    propString(props, "title_norm"),
		Description:  propString(props, "description"),
		Status:       propString(props, "status"),
		Priority:     int(propInt(props, "priority")),
		Urgency:      int(propInt(props, "urgency")),
		Effort:       propString(props, "effort"),
		ParaBucket:   propString(props, "para_bucket"),
		NextAction:   propString(props, "next_action"),
		DueDate:      propString(props, "due_date"),
		EnergySignal: propString(props, "energy_signal"),
		CreatedAt:    propInt(props, "created_at"),
		UpdatedAt:    propInt(props, "updated_at"),
	}
}

func projectFromProps(props map[string]any, ownerID string) *Project {
	return &Project{
		ID:        propString(props, "id"),
		OwnerID:   ownerID,
		Name:      propString(props, "name"),
		NameNorm:  propString(props, "name_norm"),
		Status:    propString(props, "status"),
		CreatedAt: propInt(props, "created_at"),
	}
}

func areaFromProps(props map[string]any, ownerID string) *Area {
	return &Area{
		ID:        propString(props, "id"),
		OwnerID:   ownerID,
		Name:      propString(props, "name"),
		NameNorm:  propString(props, "name_norm"),
		CreatedAt: propInt(props, "created_at"),
	}
}

func sessionFromProps(props map[string]any, ownerID string) *Session {
	return &Session{
		ID:            propString(props, "id"),
		OwnerID:       ownerID,
		InputText:     propString(props, "input_text"),
		State:         propString(props, "state"),
		Model:         propString(props, "model"),
		PromptVersion: propString(props, "prompt_version"),
		Error:         propString(props, "error"),
		CreatedAt:     propInt(props, "created_at"),
		UpdatedAt:     propInt(props, "updated_at"),
	}
}

func suggestionFromProps(props map[string]any, ownerID string) (*Suggestion, error) {
	sug := &Suggestion{
		ID:        propString(props, "id"),
		SessionID: propString(props, "session_id"),
		OwnerID:   ownerID,
		Position:  int(propInt(props, "position")),
		CreatedAt: propInt(props, "created_at"),
	}
	if err := json.Unmarshal([]byte(propString(props, "payload_json")), &sug.Payload); err != nil {
		return nil, fmt.Errorf("suggestion %s payload: %w", sug.ID, err)
	}
	if v, ok := props["accepted"].(bool); ok {
		sug.Accepted = &v
	}
	sug.DecidedAt = propInt(props, "decided_at")
	return sug, nil
}

// toFloat64s converts a vector for bolt transport, which has no float32
// list type.
func toFloat64s(v []float32) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// scopedQueries lists every Cypher statement that reads or writes
// owner-scoped entities, for the ownership audit test.
func scopedQueries() map[string]string {
	return map[string]string{
		"CreateSession":        cypherCreateSession,
		"SetSessionState":      cypherSetSessionState,
		"GetSession":           cypherGetSession,
		"MatchSession":         cypherMatchSession,
		"PersistSuggestions":   cypherPersistSuggestions,
		"SuggestionsBySession": cypherSuggestionsBySession,
		"FindTaskByNormTitle":  cypherFindTaskByNormTitle,
		"VectorSearchTasks":    cypherVectorSearchTasks,
		"Neighborhood":         cypherNeighborhood,
		"RecentDecisions":      cypherRecentDecisions,
		"SuggestionState":      cypherSuggestionState,
		"DecideSuggestion":     cypherDecideSuggestion,
		"CreateTask":           cypherCreateTask,
		"AttachProject":        cypherAttachProject,
		"AttachArea":           cypherAttachArea,
		"MarkDuplicate":        cypherMarkDuplicate,
		"ListTasks":            cypherListTasks,
		"GetTask":              cypherGetTask,
		"UpdateTaskStatus":     cypherUpdateTaskStatus,
		"CountByStatus":        cypherCountByStatus,
		"ListProjects":         cypherListProjects,
		"GetProject":           cypherGetProject,
		"ProjectTasks":         cypherProjectTasks,
		"ListAreas":            cypherListAreas,
	}
}
