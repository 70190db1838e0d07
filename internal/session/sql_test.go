package session

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "postgres"), zaptest.NewLogger(t)), mock
}

func TestSQLStore_CreateSessionUsesPostgresPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO research_sessions (id, query, plan, status, best_effort, error, created_at, updated_at)")).
		WithArgs(sqlmock.AnyArg(), "q", sqlmock.AnyArg(), StatusPending, false, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sess, err := store.CreateSession(context.Background(), "q", samplePlan())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sess.Status)
	assert.Equal(t, "plan_1", sess.Plan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateWritesOnlyGivenFields(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE research_sessions SET status = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(StatusExecuting, sqlmock.AnyArg(), "abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + sessionColumns + " FROM research_sessions WHERE id = $1")).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "query", "plan", "status", "result", "best_effort", "error", "created_at", "updated_at"}).
			AddRow("abc", "q", []byte(`{"id":"plan_1","query":"q","steps":[],"status":"executing","createdAt":"2026-03-01T12:00:00Z"}`), StatusExecuting, nil, false, "", now, now))

	sess, err := store.UpdateSession(context.Background(), "abc", StatusUpdate(StatusExecuting))
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, sess.Status)
	require.NotNil(t, sess.Plan)
	assert.Equal(t, "plan_1", sess.Plan.ID)
	assert.Nil(t, sess.Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateMissingSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE research_sessions SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateSession(context.Background(), "gone", StatusUpdate(StatusFailed))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetMissingSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM research_sessions WHERE id").
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetSession(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CorruptPlanIsInvalidSession(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM research_sessions WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "query", "plan", "status", "result", "best_effort", "error", "created_at", "updated_at"}).
			AddRow("abc", "q", []byte(`{not json`), StatusPending, nil, false, "", now, now))

	_, err := store.GetSession(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSQLStore_DriverErrorPropagates(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectExec("INSERT INTO knowledge_entries").WillReturnError(boom)

	_, err := store.AddKnowledge(context.Background(), "abc", samplePlanEntry())
	assert.ErrorIs(t, err, boom)
}

func TestSQLStore_GetKnowledgeOrdersByRelevance(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM knowledge_entries WHERE session_id = $1 ORDER BY relevance DESC")).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "content", "sources", "relevance", "created_at"}).
			AddRow("knowledge_2", "abc", "high", []byte(`[{"title":"T","url":"https://example.org","snippet":"s","relevance":0.9}]`), 0.9, now).
			AddRow("knowledge_1", "abc", "low", []byte(`[]`), 0.3, now))

	entries, err := store.GetKnowledge(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "high", entries[0].Content)
	assert.Equal(t, "https://example.org", entries[0].Sources[0].URL)
	assert.Empty(t, entries[1].Sources)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenSQL_RejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "mysql", "dsn", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func samplePlanEntry() models.KnowledgeEntry {
	return models.KnowledgeEntry{ID: "knowledge_1", Content: "**Survey**", Relevance: 0.7}
}
