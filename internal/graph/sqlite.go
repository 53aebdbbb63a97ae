package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hpungsan/cozytriage/internal/config"
	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/triage"
)

// CurrentSchemaVersion is the latest sqlite schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// SQLiteStore keeps the whole graph in a single sqlite file. Ownership is a
// column on every node table; task-container and task-task relations live
// in the edges table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) baseDir/cozytriage.db and runs
// migrations. The baseDir parameter lets tests use t.TempDir().
func OpenSQLite(baseDir string, cfg *config.Config) (*SQLiteStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	dbPath := filepath.Join(baseDir, "cozytriage.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(dbPath, 0600)

	if cfg != nil {
		if cfg.DBMaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		}
		if cfg.DBMaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}

	// Migration 0 -> 1: initial schema.
	if version < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec("PRAGMA user_version=1"); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS users (
  id         TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
  id            TEXT PRIMARY KEY,
  owner_id      TEXT NOT NULL REFERENCES users(id),
  title         TEXT NOT NULL,
  title_norm    TEXT NOT NULL,
  description   TEXT NOT NULL DEFAULT '',
  status        TEXT NOT NULL,
  priority      INTEGER NOT NULL DEFAULT 3,
  urgency       INTEGER NOT NULL DEFAULT 3,
  effort        TEXT NOT NULL,
  para_bucket   TEXT NOT NULL,
  next_action   TEXT NOT NULL DEFAULT '',
  due_date      TEXT,
  energy_signal TEXT,
  embedding     BLOB,
  created_at    INTEGER NOT NULL,
  updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_owner_status
ON tasks(owner_id, status, updated_at DESC);

CREATE INDEX IF NOT EXISTS idx_tasks_owner_title_norm
ON tasks(owner_id, title_norm);

CREATE TABLE IF NOT EXISTS projects (
  id         TEXT PRIMARY KEY,
  owner_id   TEXT NOT NULL REFERENCES users(id),
  name       TEXT NOT NULL,
  name_norm  TEXT NOT NULL,
  status     TEXT NOT NULL DEFAULT 'ACTIVE',
  created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_owner_name_norm
ON projects(owner_id, name_norm);

CREATE TABLE IF NOT EXISTS areas (
  id         TEXT PRIMARY KEY,
  owner_id   TEXT NOT NULL REFERENCES users(id),
  name       TEXT NOT NULL,
  name_norm  TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_areas_owner_name_norm
ON areas(owner_id, name_norm);

CREATE TABLE IF NOT EXISTS resources (
  id         TEXT PRIMARY KEY,
  owner_id   TEXT NOT NULL REFERENCES users(id),
  name       TEXT NOT NULL,
  name_norm  TEXT NOT NULL,
  url        TEXT,
  created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_resources_owner_name_norm
ON resources(owner_id, name_norm);

CREATE TABLE IF NOT EXISTS sessions (
  id             TEXT PRIMARY KEY,
  owner_id       TEXT NOT NULL REFERENCES users(id),
  input_text     TEXT NOT NULL,
  state          TEXT NOT NULL,
  model          TEXT NOT NULL DEFAULT '',
  prompt_version TEXT NOT NULL DEFAULT '',
  error          TEXT NOT NULL DEFAULT '',
  created_at     INTEGER NOT NULL,
  updated_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_owner_created
ON sessions(owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS suggestions (
  id           TEXT PRIMARY KEY,
  session_id   TEXT NOT NULL REFERENCES sessions(id),
  owner_id     TEXT NOT NULL REFERENCES users(id),
  position     INTEGER NOT NULL,
  payload_json TEXT NOT NULL,
  accepted     INTEGER,
  decided_at   INTEGER,
  created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_suggestions_session
ON suggestions(session_id, position);

CREATE INDEX IF NOT EXISTS idx_suggestions_owner_decided
ON suggestions(owner_id, decided_at DESC)
WHERE decided_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS edges (
  from_id    TEXT NOT NULL,
  to_id      TEXT NOT NULL,
  type       TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (from_id, to_id, type)
);

CREATE INDEX IF NOT EXISTS idx_edges_to
ON edges(to_id, type);
`

// Close releases the underlying pool.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// SetupSchema re-runs migrations. Safe to call repeatedly.
func (s *SQLiteStore) SetupSchema(ctx context.Context) error {
	if err := migrate(s.db); err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// EnsureUser creates the identity root if it does not exist yet.
func (s *SQLiteStore) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`,
		userID, time.Now().Unix())
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// CreateSession stores a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().Unix()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, input_text, state, model, prompt_version, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)`,
		sess.ID, sess.OwnerID, sess.InputText, sess.State, sess.Model, sess.PromptVersion,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// SetSessionState transitions a session and records the error text that
// drove a FAILED transition.
func (s *SQLiteStore) SetSessionState(ctx context.Context, ownerID, sessionID, state, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, error = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		state, errMsg, time.Now().Unix(), sessionID, ownerID)
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	if n == 0 {
		return cozyerrors.NewNotFound("session", sessionID)
	}
	return nil
}

// GetSession loads a session scoped to its owner.
func (s *SQLiteStore) GetSession(ctx context.Context, ownerID, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, input_text, state, model, prompt_version, error, created_at, updated_at
		FROM sessions WHERE id = ? AND owner_id = ?`,
		sessionID, ownerID)

	var sess Session
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.InputText, &sess.State,
		&sess.Model, &sess.PromptVersion, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, cozyerrors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return &sess, nil
}

// PersistSuggestions writes the finalized suggestions and moves the session
// to PERSISTED in one transaction.
func (s *SQLiteStore) PersistSuggestions(ctx context.Context, ownerID, sessionID string, suggestions []*Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ? AND owner_id = ?`,
		sessionID, ownerID).Scan(&exists)
	if err == sql.ErrNoRows {
		return cozyerrors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return cozyerrors.NewInternal(err)
	}

	now := time.Now().Unix()
	for i, sug := range suggestions {
		id, err := NewID()
		if err != nil {
			return cozyerrors.NewInternal(err)
		}
		payload, err := json.Marshal(sug.Payload)
		if err != nil {
			return cozyerrors.NewInternal(err)
		}
		sug.ID = id
		sug.SessionID = sessionID
		sug.OwnerID = ownerID
		sug.Position = i
		sug.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO suggestions (id, session_id, owner_id, position, payload_json, accepted, decided_at, created_at)
			VALUES (?, ?, ?, ?, ?, NULL, NULL, ?)`,
			id, sessionID, ownerID, i, string(payload), now)
		if err != nil {
			return cozyerrors.NewInternal(err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET state = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		triage.SessionPersisted, now, sessionID, ownerID)
	if err != nil {
		return cozyerrors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// SuggestionsBySession lists a session's suggestions in position order.
func (s *SQLiteStore) SuggestionsBySession(ctx context.Context, ownerID, sessionID string) ([]*Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, owner_id, position, payload_json, accepted, decided_at, created_at
		FROM suggestions WHERE session_id = ? AND owner_id = ?
		ORDER BY position`,
		sessionID, ownerID)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	var out []*Suggestion
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		out = append(out, sug)
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

func scanSuggestion(rows *sql.Rows) (*Suggestion, error) {
	var (
		sug         Suggestion
		payloadJSON string
		accepted    sql.NullBool
		decidedAt   sql.NullInt64
	)
	err := rows.Scan(&sug.ID, &sug.SessionID, &sug.OwnerID, &sug.Position,
		&payloadJSON, &accepted, &decidedAt, &sug.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &sug.Payload); err != nil {
		return nil, fmt.Errorf("suggestion %s payload: %w", sug.ID, err)
	}
	if accepted.Valid {
		v := accepted.Bool
		sug.Accepted = &v
	}
	if decidedAt.Valid {
		sug.DecidedAt = decidedAt.Int64
	}
	return &sug, nil
}

const taskColumns = `id, owner_id, title, title_norm, description, status, priority, urgency,
	effort, para_bucket, next_action, due_date, energy_signal, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t            Task
		dueDate      sql.NullString
		energySignal sql.NullString
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.TitleNorm, &t.Description, &t.Status,
		&t.Priority, &t.Urgency, &t.Effort, &t.ParaBucket, &t.NextAction,
		&dueDate, &energySignal, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.DueDate = dueDate.String
	t.EnergySignal = energySignal.String
	return &t, nil
}

// FindTaskByNormTitle returns the owner's task with the given normalized
// title, or (nil, nil) when there is none.
func (s *SQLiteStore) FindTaskByNormTitle(ctx context.Context, ownerID, titleNorm string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? AND title_norm = ? LIMIT 1`,
		ownerID, titleNorm)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return t, nil
}

// VectorSearchTasks scans the owner's embedded tasks and returns the top k
// by cosine similarity, descending.
func (s *SQLiteStore) VectorSearchTasks(ctx context.Context, ownerID string, vector []float32, k int) ([]TaskMatch, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+`, embedding FROM tasks WHERE owner_id = ? AND embedding IS NOT NULL`,
		ownerID)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	var matches []TaskMatch
	for rows.Next() {
		var (
			t            Task
			dueDate      sql.NullString
			energySignal sql.NullString
			blob         []byte
		)
		err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.TitleNorm, &t.Description, &t.Status,
			&t.Priority, &t.Urgency, &t.Effort, &t.ParaBucket, &t.NextAction,
			&dueDate, &energySignal, &t.CreatedAt, &t.UpdatedAt, &blob)
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		t.DueDate = dueDate.String
		t.EnergySignal = energySignal.String

		stored, err := DecodeVector(blob)
		if err != nil {
			return nil, cozyerrors.NewInternal(fmt.Errorf("task %s: %w", t.ID, err))
		}
		matches = append(matches, TaskMatch{Task: t, Score: Cosine(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// placeholders builds "?, ?, ?" for IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// TaskNeighborhood collects PART_OF and IN_AREA memberships for the given
// tasks (hop 1) and for tasks linked to them through task-task edges
// (hop 2).
func (s *SQLiteStore) TaskNeighborhood(ctx context.Context, ownerID string, taskIDs []string) ([]Membership, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	linked, err := s.linkedTaskIDs(ctx, ownerID, taskIDs)
	if err != nil {
		return nil, err
	}

	var out []Membership
	hop1, err := s.memberships(ctx, ownerID, taskIDs, 1)
	if err != nil {
		return nil, err
	}
	out = append(out, hop1...)

	if len(linked) > 0 {
		hop2, err := s.memberships(ctx, ownerID, linked, 2)
		if err != nil {
			return nil, err
		}
		out = append(out, hop2...)
	}
	return out, nil
}

// linkedTaskIDs finds tasks one task-task edge away from the given set.
func (s *SQLiteStore) linkedTaskIDs(ctx context.Context, ownerID string, taskIDs []string) ([]string, error) {
	ph := placeholders(len(taskIDs))
	query := fmt.Sprintf(`
		SELECT e.from_id, e.to_id FROM edges e
		WHERE e.type IN ('%s', '%s', '%s')
		  AND (e.from_id IN (%s) OR e.to_id IN (%s))`,
		EdgeDependsOn, EdgeBlocks, EdgeDuplicateOf, ph, ph)

	args := make([]any, 0, 2*len(taskIDs))
	for _, id := range taskIDs {
		args = append(args, id)
	}
	for _, id := range taskIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	seed := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		seed[id] = true
	}
	linked := map[string]bool{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		if !seed[from] {
			linked[from] = true
		}
		if !seed[to] {
			linked[to] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	out := make([]string, 0, len(linked))
	for id := range linked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SQLiteStore) memberships(ctx context.Context, ownerID string, taskIDs []string, hops int) ([]Membership, error) {
	ph := placeholders(len(taskIDs))
	args := make([]any, 0, len(taskIDs)+2)
	args = append(args, ownerID, ownerID)
	for _, id := range taskIDs {
		args = append(args, id)
	}

	var out []Membership
	for _, q := range []struct {
		kind  string
		query string
	}{
		{"project", fmt.Sprintf(`
			SELECT t.id, t.title, p.name FROM edges e
			JOIN tasks t ON t.id = e.from_id AND t.owner_id = ?
			JOIN projects p ON p.id = e.to_id AND p.owner_id = ?
			WHERE e.type = '%s' AND e.from_id IN (%s)`, EdgePartOf, ph)},
		{"area", fmt.Sprintf(`
			SELECT t.id, t.title, a.name FROM edges e
			JOIN tasks t ON t.id = e.from_id AND t.owner_id = ?
			JOIN areas a ON a.id = e.to_id AND a.owner_id = ?
			WHERE e.type = '%s' AND e.from_id IN (%s)`, EdgeInArea, ph)},
	} {
		rows, err := s.db.QueryContext(ctx, q.query, args...)
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		for rows.Next() {
			m := Membership{Kind: q.kind, Hops: hops}
			if err := rows.Scan(&m.TaskID, &m.TaskTitle, &m.Name); err != nil {
				rows.Close()
				return nil, cozyerrors.NewInternal(err)
			}
			out = append(out, m)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, cozyerrors.NewInternal(err)
		}
		rows.Close()
	}
	return out, nil
}

// RecentDecisions lists the owner's latest decided suggestions.
func (s *SQLiteStore) RecentDecisions(ctx context.Context, ownerID string, n int) ([]DecisionRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload_json, accepted, decided_at FROM suggestions
		WHERE owner_id = ? AND decided_at IS NOT NULL
		ORDER BY decided_at DESC, id DESC LIMIT ?`,
		ownerID, n)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var (
			rec         DecisionRecord
			payloadJSON string
			accepted    bool
		)
		if err := rows.Scan(&rec.SuggestionID, &payloadJSON, &accepted, &rec.DecidedAt); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		var payload triage.Candidate
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		rec.Title = payload.ActionTitle
		rec.Action = triage.ActionReject
		if accepted {
			rec.Action = triage.ActionAccept
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// ApplyDecisions executes the batch in one transaction: accepted
// suggestions become tasks with container and duplicate edges, rejected
// ones just flip their flag. Any failure rolls the whole batch back.
func (s *SQLiteStore) ApplyDecisions(ctx context.Context, ownerID, sessionID string, batch ApplyBatch) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ? AND owner_id = ?`,
		sessionID, ownerID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, cozyerrors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}

	now := time.Now().Unix()
	taskIDs := make([]string, 0, len(batch.Accepts))

	for _, op := range batch.Accepts {
		taskID, err := s.createTaskTx(ctx, tx, ownerID, op, now)
		if err != nil {
			return nil, err
		}
		taskIDs = append(taskIDs, taskID)

		for _, name := range op.Projects {
			projectID, err := s.findOrCreateProjectTx(ctx, tx, ownerID, name, now)
			if err != nil {
				return nil, err
			}
			if err := insertEdgeTx(ctx, tx, taskID, projectID, EdgePartOf, now); err != nil {
				return nil, err
			}
		}
		for _, name := range op.Areas {
			areaID, err := s.findOrCreateAreaTx(ctx, tx, ownerID, name, now)
			if err != nil {
				return nil, err
			}
			if err := insertEdgeTx(ctx, tx, taskID, areaID, EdgeInArea, now); err != nil {
				return nil, err
			}
		}
		for _, dupID := range op.DuplicateOf {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ? AND owner_id = ?`,
				dupID, ownerID).Scan(&one)
			if err == sql.ErrNoRows {
				return nil, cozyerrors.NewNotFound("task", dupID)
			}
			if err != nil {
				return nil, cozyerrors.NewInternal(err)
			}
			if err := insertEdgeTx(ctx, tx, taskID, dupID, EdgeDuplicateOf, now); err != nil {
				return nil, err
			}
		}

		if err := decideSuggestionTx(ctx, tx, ownerID, sessionID, op.SuggestionID, true, now); err != nil {
			return nil, err
		}
	}

	for _, sugID := range batch.Rejects {
		if err := decideSuggestionTx(ctx, tx, ownerID, sessionID, sugID, false, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return taskIDs, nil
}

func (s *SQLiteStore) createTaskTx(ctx context.Context, tx *sql.Tx, ownerID string, op AcceptOp, now int64) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	t := op.Task
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, owner_id, title, title_norm, description, status, priority, urgency,
			effort, para_bucket, next_action, due_date, energy_signal, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ownerID, t.Title, triage.Normalize(t.Title), t.Description, t.Status, t.Priority, t.Urgency,
		t.Effort, t.ParaBucket, t.NextAction, toNullString(t.DueDate), toNullString(t.EnergySignal),
		EncodeVector(op.Embedding), now, now)
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	return id, nil
}

func (s *SQLiteStore) findOrCreateProjectTx(ctx context.Context, tx *sql.Tx, ownerID, name string, now int64) (string, error) {
	norm := triage.Normalize(name)
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE owner_id = ? AND name_norm = ?`,
		ownerID, norm).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", cozyerrors.NewInternal(err)
	}
	id, err = NewID()
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, name_norm, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, ownerID, name, norm, triage.ProjectActive, now)
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	return id, nil
}

func (s *SQLiteStore) findOrCreateAreaTx(ctx context.Context, tx *sql.Tx, ownerID, name string, now int64) (string, error) {
	norm := triage.Normalize(name)
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM areas WHERE owner_id = ? AND name_norm = ?`,
		ownerID, norm).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", cozyerrors.NewInternal(err)
	}
	id, err = NewID()
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO areas (id, owner_id, name, name_norm, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, name, norm, now)
	if err != nil {
		return "", cozyerrors.NewInternal(err)
	}
	return id, nil
}

// insertEdgeTx has MERGE semantics: re-adding an existing edge is a no-op.
func insertEdgeTx(ctx context.Context, tx *sql.Tx, fromID, toID, edgeType string, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges (from_id, to_id, type, created_at)
		VALUES (?, ?, ?, ?)`,
		fromID, toID, edgeType, now)
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	return nil
}

// decideSuggestionTx flips a suggestion's flag, guarding against double
// decisions at the storage layer.
func decideSuggestionTx(ctx context.Context, tx *sql.Tx, ownerID, sessionID, suggestionID string, accepted bool, now int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE suggestions SET accepted = ?, decided_at = ?
		WHERE id = ? AND session_id = ? AND owner_id = ? AND decided_at IS NULL`,
		accepted, now, suggestionID, sessionID, ownerID)
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cozyerrors.NewInternal(err)
	}
	if n == 0 {
		var decided sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT decided_at FROM suggestions WHERE id = ? AND session_id = ? AND owner_id = ?`,
			suggestionID, sessionID, ownerID).Scan(&decided)
		if err == sql.ErrNoRows {
			return cozyerrors.NewNotFound("suggestion", suggestionID)
		}
		if err != nil {
			return cozyerrors.NewInternal(err)
		}
		return cozyerrors.NewAlreadyDecided([]string{suggestionID})
	}
	return nil
}

// ListTasks lists the owner's tasks, optionally filtered by status.
func (s *SQLiteStore) ListTasks(ctx context.Context, ownerID string, filter TaskFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = ?`
	args := []any{ownerID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// GetTask loads one task scoped to its owner.
func (s *SQLiteStore) GetTask(ctx context.Context, ownerID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND owner_id = ?`,
		taskID, ownerID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, cozyerrors.NewNotFound("task", taskID)
	}
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return t, nil
}

// UpdateTaskStatus sets a task's status and returns the updated record.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, ownerID, taskID, status string) (*Task, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		status, time.Now().Unix(), taskID, ownerID)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	if n == 0 {
		return nil, cozyerrors.NewNotFound("task", taskID)
	}
	return s.GetTask(ctx, ownerID, taskID)
}

// CountByStatus returns task counts per status for the owner.
func (s *SQLiteStore) CountByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE owner_id = ? GROUP BY status`,
		ownerID)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		out[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// ListProjects lists the owner's projects, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, name_norm, status, created_at FROM projects
		WHERE owner_id = ? ORDER BY created_at DESC, id DESC`,
		ownerID)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.NameNorm, &p.Status, &p.CreatedAt); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

// GetProject loads one project scoped to its owner.
func (s *SQLiteStore) GetProject(ctx context.Context, ownerID, projectID string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, name_norm, status, created_at FROM projects
		WHERE id = ? AND owner_id = ?`,
		projectID, ownerID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.NameNorm, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, cozyerrors.NewNotFound("project", projectID)
	}
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return &p, nil
}

// ProjectTasks lists tasks attached to a project via PART_OF.
func (s *SQLiteStore) ProjectTasks(ctx context.Context, ownerID, projectID string) ([]Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks t
		JOIN edges e ON e.from_id = t.id AND e.type = '%s'
		WHERE e.to_id = ? AND t.owner_id = ?
		ORDER BY t.updated_at DESC, t.id DESC`,
		taskColumnsAliased("t"), EdgePartOf)
	rows, err := s.db.QueryContext(ctx, query, projectID, ownerID)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

func taskColumnsAliased(alias string) string {
	cols := strings.Split(taskColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// ListAreas lists the owner's areas, newest first.
func (s *SQLiteStore) ListAreas(ctx context.Context, ownerID string) ([]Area, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, name_norm, created_at FROM areas
		WHERE owner_id = ? ORDER BY created_at DESC, id DESC`,
		ownerID)
	if err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	defer rows.Close()

	var out []Area
	for rows.Next() {
		var a Area
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.NameNorm, &a.CreatedAt); err != nil {
			return nil, cozyerrors.NewInternal(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, cozyerrors.NewInternal(err)
	}
	return out, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
