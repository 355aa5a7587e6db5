package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rep0st/internal/apperr"
)

func TestWithTransactionCommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	called := false
	err := WithTransaction(context.Background(), db, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("boom")
	err := WithTransaction(context.Background(), db, func(ctx context.Context) error {
		return wantErr
	})
	assert.Equal(t, wantErr, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionNestsWithoutNewBegin(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	depth := 0
	err := WithTransaction(context.Background(), db, func(ctx context.Context) error {
		depth++
		return WithTransaction(ctx, db, func(ctx context.Context) error {
			depth++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionBeginErrorWraps(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := WithTransaction(context.Background(), db, func(ctx context.Context) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrRepository))
}
