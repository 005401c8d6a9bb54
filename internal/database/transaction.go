package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Querier is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// TxBeginner starts transactions. *pgxpool.Pool implements it.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxManager runs functions inside transactions and hands repositories the
// right Querier for the current context.
type TxManager struct {
	db     TxBeginner
	logger *zap.Logger
}

// NewTxManager creates a new transaction manager.
func NewTxManager(db TxBeginner, logger *zap.Logger) *TxManager {
	return &TxManager{db: db, logger: logger}
}

// TxFunc is run inside a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// WithTransaction executes fn within a read-committed transaction.
func (tm *TxManager) WithTransaction(ctx context.Context, fn TxFunc) error {
	tx, err := tm.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			tm.logger.Error("failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tm.logger.Debug("transaction rolling back due to error", zap.Error(err))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txContextKey struct{}

// ContextWithTx adds a transaction to the context.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction in ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// GetQuerier returns the transaction from context if present, otherwise the pool.
func (tm *TxManager) GetQuerier(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return tm.db
}

// WithTransactionContext executes fn within a transaction stored in the
// context, so nested repository calls share it. An existing transaction is
// reused.
func (tm *TxManager) WithTransactionContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}
	return tm.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ContextWithTx(ctx, tx))
	})
}
