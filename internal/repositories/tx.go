package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
)

// contextKey is an unexported type for keys in context
type contextKey struct{}

var txKey = contextKey{}

// WithTx runs fn inside a database transaction carried by the context.
// A transaction already present in ctx is joined instead of nesting.
// fn returning an error or panicking rolls the transaction back.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) error {
	if GetTxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		logger.Log.Errorw("failed to begin transaction", "error", err)
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			panic(rec)
		}
	}()

	if err := fn(setTxToContext(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Log.Errorw("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Log.Errorw("failed to commit transaction", "error", err)
		return err
	}
	return nil
}

// setTxToContext stores a transaction in the context
func setTxToContext(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// GetTxFromContext retrieves the transaction from the context. Returns nil if not present.
func GetTxFromContext(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey).(*sqlx.Tx)
	return tx
}

// executor returns the transaction from ctx when there is one, db otherwise.
func executor(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := GetTxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}
