package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return &DB{DB: mockDB, logger: zap.NewNop()}, mock
}

func expectReleaseStuck(mock sqlmock.Sqlmock, released int64) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_events")).
		WithArgs(string(models.OutboxStatusPending), string(models.OutboxStatusProcessing), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, released))
}

func outboxRows(ids ...uuid.UUID) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "event_type", "payload", "status", "attempts",
		"next_attempt_at", "processing_started_at", "last_error", "created_at",
	})
	for _, id := range ids {
		rows.AddRow(id, "tenant-a", "protocol.published", []byte(`{}`),
			string(models.OutboxStatusProcessing), 0, nil, time.Now(), "", time.Now())
	}
	return rows
}

func TestDetectClaimStrategy(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Equal(t, ClaimStrategySkipLocked, DetectClaimStrategy(context.Background(), db, zap.NewNop()))

	// Feature and syntax errors demote to conditional-update claims.
	db2, mock2 := newMockDB(t)
	mock2.ExpectExec(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnError(&pq.Error{Code: pqFeatureNotSupported})
	assert.Equal(t, ClaimStrategyConditionalUpdate, DetectClaimStrategy(context.Background(), db2, zap.NewNop()))

	// An unmigrated table must not; the table may simply not exist yet.
	db3, mock3 := newMockDB(t)
	mock3.ExpectExec(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnError(&pq.Error{Code: "42P01"})
	assert.Equal(t, ClaimStrategySkipLocked, DetectClaimStrategy(context.Background(), db3, zap.NewNop()))

	// Neither does a plain driver error.
	db4, mock4 := newMockDB(t)
	mock4.ExpectExec(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnError(errors.New("connection reset"))
	assert.Equal(t, ClaimStrategySkipLocked, DetectClaimStrategy(context.Background(), db4, zap.NewNop()))
}

func TestClaimPending_SkipLocked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	id1 := uuid.New()
	id2 := uuid.New()

	expectReleaseStuck(mock, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(string(models.OutboxStatusPending), sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id1).AddRow(id2))
	mock.ExpectExec(regexp.QuoteMeta("SET status = $1, processing_started_at = $2")).
		WithArgs(string(models.OutboxStatusProcessing), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(outboxRows(id1, id2))

	events, err := repo.ClaimPending(context.Background(), 10, time.Minute)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, id1, events[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_ConditionalLosesRaceSilently(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategyConditionalUpdate)

	won := uuid.New()
	lost := uuid.New()

	expectReleaseStuck(mock, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM outbox_events")).
		WithArgs(string(models.OutboxStatusPending), sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(won).AddRow(lost))

	// First row claimed; second already taken by a concurrent dispatcher.
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $3 AND status = $4")).
		WithArgs(string(models.OutboxStatusProcessing), sqlmock.AnyArg(), won, string(models.OutboxStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $3 AND status = $4")).
		WithArgs(string(models.OutboxStatusProcessing), sqlmock.AnyArg(), lost, string(models.OutboxStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(outboxRows(won))

	events, err := repo.ClaimPending(context.Background(), 10, time.Minute)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, won, events[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_EmptyQueue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	expectReleaseStuck(mock, 0)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(string(models.OutboxStatusPending), sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	events, err := repo.ClaimPending(context.Background(), 10, time.Minute)

	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessed_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_events SET status = $1")).
		WithArgs(string(models.OutboxStatusProcessed), id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkProcessed(context.Background(), id)

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}

func TestScheduleRetry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	id := uuid.New()
	next := time.Now().Add(4 * time.Second)
	mock.ExpectExec(regexp.QuoteMeta("attempts = attempts + 1")).
		WithArgs(string(models.OutboxStatusPending), next, "sink unavailable", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ScheduleRetry(context.Background(), id, next, "sink unavailable")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveToDeadLetter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dead_letter_events")).
		WithArgs(id, "attempt 3/3: sink unavailable", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_events WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MoveToDeadLetter(context.Background(), id, "attempt 3/3: sink unavailable")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveToDeadLetter_MissingEventRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dead_letter_events")).
		WithArgs(id, "gone", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.MoveToDeadLetter(context.Background(), id, "gone")

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayDeadLetter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT tenant_id, event_type, payload FROM dead_letter_events")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "event_type", "payload"}).
			AddRow("tenant-a", "drift.alert_raised", []byte(`{"run_id":"run-1"}`)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs(sqlmock.AnyArg(), "tenant-a", "drift.alert_raised", []byte(`{"run_id":"run-1"}`),
			string(models.OutboxStatusPending), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM dead_letter_events WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := repo.ReplayDeadLetter(context.Background(), id)

	require.NoError(t, err)
	assert.NotEqual(t, id, event.ID) // fresh identity, fresh attempt count
	assert.Equal(t, models.OutboxStatusPending, event.Status)
	assert.Equal(t, 0, event.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayDeadLetter_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, zap.NewNop(), ClaimStrategySkipLocked)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT tenant_id, event_type, payload FROM dead_letter_events")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "event_type", "payload"}))
	mock.ExpectRollback()

	_, err := repo.ReplayDeadLetter(context.Background(), id)

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}
