// Package repositories provides transactional sqlx-backed persistence for
// Post, FeatureVector and Tag.
package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"rep0st/internal/apperr"
	"rep0st/internal/database"
)

// txKey is the context key under which an open transaction is threaded
// through nested calls, modeled on the original service's thread-local
// transaction-depth counter but made explicit via context.Context instead
// of hidden thread-local state, per the ambient-context design note.
type txKey struct{}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so repository
// methods can run either inside or outside an explicit transaction scope.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Q returns the active transaction from ctx if one is open, else db
// itself. Repositories call this instead of holding their own handle, so
// a single call tree can share one transaction across repositories.
func Q(ctx context.Context, db *database.DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.DB
}

// WithTransaction runs fn inside a transaction. Nested calls (fn itself
// calling WithTransaction again through a deeper call) join the outermost
// transaction and are no-ops with respect to commit/rollback boundaries —
// only the outermost call commits, rolls back, or closes anything.
func WithTransaction(ctx context.Context, db *database.DB, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.ErrRepository, "begin transaction: %v", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return apperr.Wrap(apperr.ErrRepository, "rollback after %v failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.ErrRepository, "commit transaction: %v", err)
	}
	return nil
}

// unwrap produces an apperr.ErrRepository-wrapped error with a stable
// message shape for sqlx round-trip failures.
func unwrap(op string, err error) error {
	return apperr.Wrap(apperr.ErrRepository, "%s: %v", op, err)
}
