package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-client/internal/common/database"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
)

// ==========================
// Postgres publisher
// ==========================

func newPostgresPublisher(t *testing.T) (*PostgresPublisher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresPublisher(database.NewPostgresFromDB(db), logger.NewTestLogger(t)), mock
}

func TestPostgresPublisher_Publish(t *testing.T) {
	pub, mock := newPostgresPublisher(t)
	s := testSummary()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO run_summaries`).
		WithArgs("run-1", "done", s.StartedAt, s.FinishedAt, int64(3), false, int64(5), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM template_stats`).
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT INTO template_stats`)
	prep.ExpectExec().WithArgs("run-1", int64(4), int64(3), int64(6)).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("run-1", int64(9), int64(2), int64(0)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, pub.Publish(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublisher_NoTemplates(t *testing.T) {
	pub, mock := newPostgresPublisher(t)
	s := testSummary()
	s.Templates = nil

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO run_summaries`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM template_stats`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, pub.Publish(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublisher_RollsBackOnFailure(t *testing.T) {
	pub, mock := newPostgresPublisher(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO run_summaries`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM template_stats`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT INTO template_stats`)
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := pub.Publish(context.Background(), testSummary())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPublishFailed))
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublisher_EnsureSchema(t *testing.T) {
	pub, mock := newPostgresPublisher(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS run_summaries`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, pub.EnsureSchema(context.Background()))

	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))
	err := pub.EnsureSchema(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrPublishFailed))

	assert.NoError(t, mock.ExpectationsWereMet())
}
