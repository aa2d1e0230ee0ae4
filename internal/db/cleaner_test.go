package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartExpiredSessionCleaner_RemovesExpired(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartExpiredSessionCleaner(ctx, dbMock, 10*time.Millisecond, zap.New(core))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("cleaned expired sessions").Len() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	entry := logs.FilterMessage("cleaned expired sessions").All()[0]
	assert.Equal(t, int64(3), entry.ContextMap()["removed"])
}

func TestStartExpiredSessionCleaner_ErrorLogged(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("db fail"))

	core, logs := observer.New(zapcore.ErrorLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartExpiredSessionCleaner(ctx, dbMock, 10*time.Millisecond, zap.New(core))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("failed to clean expired sessions").Len() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartExpiredSessionCleaner_CancelBeforeTick(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	StartExpiredSessionCleaner(ctx, dbMock, 100*time.Millisecond, zap.NewNop())
	cancel()

	time.Sleep(150 * time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query after cancel")
}
