package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionMock(t *testing.T) (*PostgresSessionRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresSessionRepository(db), mock
}

func TestSessionLifecycle(t *testing.T) {
	repo, mock := setupSessionMock(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions (token, user_id, expires_at)")).
		WithArgs("tok", "u-1", exp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM sessions WHERE token = $1 AND expires_at > $2")).
		WithArgs("tok", now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE token = $1")).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1")).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.Create(ctx, "tok", "u-1", exp))
	id, err := repo.UserID(ctx, "tok", now)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
	require.NoError(t, repo.Delete(ctx, "tok"))
	require.NoError(t, repo.DeleteByUser(ctx, "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUserID_Errors(t *testing.T) {
	repo, mock := setupSessionMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT user_id FROM sessions").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT user_id FROM sessions").WillReturnError(errors.New("boom"))

	_, err := repo.UserID(ctx, "gone", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.UserID(ctx, "tok", time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSessionCreate_Error(t *testing.T) {
	repo, mock := setupSessionMock(t)
	mock.ExpectExec("INSERT INTO sessions").WillReturnError(errors.New("fk violation"))

	err := repo.Create(context.Background(), "tok", "ghost", time.Now())
	assert.ErrorContains(t, err, "insert session")
}
