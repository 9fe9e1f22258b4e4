// package repositories provides persistence layer implementations for all model types.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/spotprune/internal/shared"
)

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with the transactional handle, and commits on success.
// The transaction is rolled back when fn returns an error or panics; panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = persistenceErr("commit transaction", cerr)
		}
	}()

	return fn(ctx, tx)
}

// persistenceErr wraps a driver error so callers can match [shared.ErrPersistence].
func persistenceErr(op string, err error) error {
	if errors.Is(err, shared.ErrPersistence) || errors.Is(err, shared.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", shared.ErrPersistence, op, err)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s %w", kind, id, shared.ErrNotFound)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scanner interface {
	Scan(dest ...any) error
}
