package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/port"
)

// Executor is the query surface shared by *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txCtxKey struct{}

// DB is the transaction manager handed to repositories. A transaction opened
// by WithTransaction travels in the context, and Executor picks it up, so a
// use case can span several repositories atomically.
type DB struct {
	pool   *sql.DB
	logger *zap.Logger
}

var _ port.TransactionManager = (*DB)(nil)

// NewDB wraps an open pool
func NewDB(pool *sql.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{pool: pool, logger: logger}
}

// Pool exposes the underlying pool
func (db *DB) Pool() *sql.DB {
	return db.pool
}

// WithTransaction runs fn inside a transaction. When ctx already carries one
// fn joins it and the outermost call decides commit or rollback.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := db.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		if p := recover(); p != nil {
			db.logger.Error("Transaction aborted by panic", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txCtxKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Executor returns the transaction in ctx, falling back to the pool
func (db *DB) Executor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txCtxKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.pool
}

// InTx reports whether ctx carries a transaction
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txCtxKey{}).(*sql.Tx)
	return ok
}
