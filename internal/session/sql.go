package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// SQL driver names accepted by OpenSQL
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS research_sessions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		plan JSONB,
		status TEXT NOT NULL DEFAULT 'pending',
		result JSONB,
		best_effort BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_entries (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		sources JSONB NOT NULL DEFAULT '[]'::jsonb,
		relevance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (session_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON research_sessions(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_relevance ON knowledge_entries(session_id, relevance DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS research_sessions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		plan TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		result TEXT,
		best_effort BOOLEAN NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_entries (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '[]',
		relevance REAL NOT NULL DEFAULT 0.5,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_relevance ON knowledge_entries(session_id, relevance DESC)`,
}

type sessionRow struct {
	ID         string    `db:"id"`
	Query      string    `db:"query"`
	Plan       []byte    `db:"plan"`
	Status     string    `db:"status"`
	Result     []byte    `db:"result"`
	BestEffort bool      `db:"best_effort"`
	Error      string    `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type knowledgeRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Content   string    `db:"content"`
	Sources   []byte    `db:"sources"`
	Relevance float64   `db:"relevance"`
	CreatedAt time.Time `db:"created_at"`
}

const sessionColumns = "id, query, plan, status, result, best_effort, error, created_at, updated_at"

// SQLStore keeps sessions in Postgres or SQLite through sqlx. Updates are
// single UPDATE statements, so concurrent writers are last-writer-wins.
type SQLStore struct {
	db      *sqlx.DB
	guard   *circuitbreaker.Guard
	backend string
	logger  *zap.Logger
	now     func() time.Time
}

// OpenSQL opens the database, verifies the connection and creates the schema
func OpenSQL(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time; also keeps :memory: on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewSQLStore(db, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open handle. The backend label follows the driver name.
func NewSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := db.DriverName()
	if backend == DriverSQLite {
		backend = "sqlite"
	}
	return &SQLStore{
		db:      db,
		guard:   circuitbreaker.NewGuard("sql", backend, circuitbreaker.SQLProfile(), logger),
		backend: backend,
		logger:  logger.With(zap.String("component", "session_store"), zap.String("backend", backend)),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the tables when they do not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.db.DriverName() == DriverSQLite {
		schema = sqliteSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a new pending session
func (s *SQLStore) CreateSession(ctx context.Context, query string, plan *models.ResearchPlan) (_ *Session, err error) {
	defer func() { metrics.RecordStoreOperation(s.backend, "create", err) }()

	planJSON, err := jsonParam(plan)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		ID:        uuid.New().String(),
		Query:     query,
		Plan:      plan.Clone(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := s.db.Rebind(`INSERT INTO research_sessions (id, query, plan, status, best_effort, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	err = s.guard.Execute(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, sess.ID, sess.Query, planJSON, sess.Status, false, "", now, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	s.logger.Info("Created new session", zap.String("session_id", sess.ID))
	return sess, nil
}

// UpdateSession writes the non-nil fields of u and returns the stored row
func (s *SQLStore) UpdateSession(ctx context.Context, id string, u Update) (_ *Session, err error) {
	defer func() { metrics.RecordStoreOperation(s.backend, "update", err) }()

	var (
		sets []string
		args []interface{}
	)
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Plan != nil {
		v, err := jsonParam(u.Plan)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "plan = ?")
		args = append(args, v)
	}
	if u.Result != nil {
		v, err := jsonParam(u.Result)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "result = ?")
		args = append(args, v)
	}
	if u.BestEffort != nil {
		sets = append(sets, "best_effort = ?")
		args = append(args, *u.BestEffort)
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *u.Error)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	q := s.db.Rebind("UPDATE research_sessions SET " + strings.Join(sets, ", ") + " WHERE id = ?")
	var affected int64
	err = s.guard.Execute(ctx, func() error {
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("update session %s: %w", id, ErrSessionNotFound)
	}
	return s.get(ctx, id)
}

// GetSession reads one session
func (s *SQLStore) GetSession(ctx context.Context, id string) (_ *Session, err error) {
	defer func() { metrics.RecordStoreOperation(s.backend, "get", err) }()
	return s.get(ctx, id)
}

func (s *SQLStore) get(ctx context.Context, id string) (*Session, error) {
	q := s.db.Rebind("SELECT " + sessionColumns + " FROM research_sessions WHERE id = ?")
	var (
		row      sessionRow
		notFound bool
	)
	err := s.guard.Execute(ctx, func() error {
		err := s.db.GetContext(ctx, &row, q, id)
		if errors.Is(err, sql.ErrNoRows) {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if notFound {
		return nil, ErrSessionNotFound
	}
	return row.toSession()
}

// AddKnowledge inserts one knowledge entry
func (s *SQLStore) AddKnowledge(ctx context.Context, sessionID string, entry models.KnowledgeEntry) (_ models.KnowledgeEntry, err error) {
	defer func() { metrics.RecordStoreOperation(s.backend, "add_knowledge", err) }()

	entry = prepareEntry(sessionID, entry, s.now())
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return models.KnowledgeEntry{}, fmt.Errorf("failed to marshal sources: %w", err)
	}

	q := s.db.Rebind(`INSERT INTO knowledge_entries (id, session_id, content, sources, relevance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	err = s.guard.Execute(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, entry.ID, sessionID, entry.Content, string(sources), entry.Relevance, entry.Timestamp)
		return err
	})
	if err != nil {
		return models.KnowledgeEntry{}, fmt.Errorf("failed to insert knowledge: %w", err)
	}
	return entry, nil
}

// GetKnowledge returns entries ordered by relevance, highest first
func (s *SQLStore) GetKnowledge(ctx context.Context, sessionID string) (_ []models.KnowledgeEntry, err error) {
	defer func() { metrics.RecordStoreOperation(s.backend, "get_knowledge", err) }()

	q := s.db.Rebind(`SELECT id, session_id, content, sources, relevance, created_at
		FROM knowledge_entries WHERE session_id = ? ORDER BY relevance DESC, created_at ASC`)
	var rows []knowledgeRow
	err = s.guard.Execute(ctx, func() error {
		return s.db.SelectContext(ctx, &rows, q, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge: %w", err)
	}

	entries := make([]models.KnowledgeEntry, 0, len(rows))
	for _, r := range rows {
		e := models.KnowledgeEntry{
			ID:        r.ID,
			SessionID: r.SessionID,
			Content:   r.Content,
			Sources:   []models.Source{},
			Relevance: r.Relevance,
			Timestamp: r.CreatedAt,
		}
		if len(r.Sources) > 0 {
			if err := json.Unmarshal(r.Sources, &e.Sources); err != nil {
				return nil, fmt.Errorf("%w: knowledge %s sources: %v", ErrInvalidSession, r.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.guard.Execute(ctx, func() error { return s.db.PingContext(ctx) })
}

// Close closes the database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (r sessionRow) toSession() (*Session, error) {
	sess := &Session{
		ID:         r.ID,
		Query:      r.Query,
		Status:     r.Status,
		BestEffort: r.BestEffort,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Plan) > 0 {
		var plan models.ResearchPlan
		if err := json.Unmarshal(r.Plan, &plan); err != nil {
			return nil, fmt.Errorf("%w: plan: %v", ErrInvalidSession, err)
		}
		sess.Plan = &plan
	}
	if len(r.Result) > 0 {
		var result models.OrchestrationResult
		if err := json.Unmarshal(r.Result, &result); err != nil {
			return nil, fmt.Errorf("%w: result: %v", ErrInvalidSession, err)
		}
		sess.Result = &result
	}
	return sess, nil
}

// jsonParam encodes v for a JSON column. Strings are sent instead of bytes
// so pq does not encode the value as bytea.
func jsonParam(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case *models.ResearchPlan:
		if t == nil {
			return nil, nil
		}
	case *models.OrchestrationResult:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(b), nil
}
