package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "pgx"), mock
}

func TestWithTx_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	called := false
	err := WithTx(context.Background(), db, func(ctx context.Context) error {
		called = true
		assert.NotNil(t, GetTxFromContext(ctx))
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := WithTx(context.Background(), db, func(ctx context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	err := WithTx(context.Background(), db, func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})

	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestWithTx_CommitError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

	err := WithTx(context.Background(), db, func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_Panic(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = WithTx(context.Background(), db, func(ctx context.Context) error { panic("test panic") })
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_JoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := WithTx(context.Background(), db, func(outer context.Context) error {
		return WithTx(outer, db, func(inner context.Context) error {
			assert.Same(t, GetTxFromContext(outer), GetTxFromContext(inner))
			return nil
		})
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTxFromContext_Empty(t *testing.T) {
	assert.Nil(t, GetTxFromContext(context.Background()))
}
