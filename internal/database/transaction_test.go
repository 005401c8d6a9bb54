package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// fakeTx embeds pgx.Tx so only the methods under test need bodies.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	beginErr error
	begins   int
}

func (f *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	f.begins++
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func (f *fakeBeginner) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeBeginner) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeBeginner) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func TestTxFromContext_NoTx(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from context without transaction")
	}
}

func TestWithTransaction_Commit(t *testing.T) {
	db := &fakeBeginner{tx: &fakeTx{}}
	tm := NewTxManager(db, zap.NewNop())

	err := tm.WithTransaction(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}
	if !db.tx.committed || db.tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", db.tx.committed, db.tx.rolledBack)
	}
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := &fakeBeginner{tx: &fakeTx{}}
	tm := NewTxManager(db, zap.NewNop())
	boom := errors.New("boom")

	err := tm.WithTransaction(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTransaction() error = %v, want boom", err)
	}
	if db.tx.committed || !db.tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", db.tx.committed, db.tx.rolledBack)
	}
}

func TestWithTransaction_BeginAndCommitErrors(t *testing.T) {
	beginErr := errors.New("no connection")
	tm := NewTxManager(&fakeBeginner{beginErr: beginErr}, zap.NewNop())
	err := tm.WithTransaction(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})
	if !errors.Is(err, beginErr) {
		t.Errorf("error = %v, want wrapped begin error", err)
	}

	commitErr := errors.New("commit failed")
	db := &fakeBeginner{tx: &fakeTx{commitErr: commitErr}}
	tm = NewTxManager(db, zap.NewNop())
	err = tm.WithTransaction(context.Background(), func(ctx context.Context, tx pgx.Tx) error { return nil })
	if !errors.Is(err, commitErr) {
		t.Errorf("error = %v, want wrapped commit error", err)
	}
}

func TestWithTransactionContext_Nested(t *testing.T) {
	db := &fakeBeginner{tx: &fakeTx{}}
	tm := NewTxManager(db, zap.NewNop())

	err := tm.WithTransactionContext(context.Background(), func(ctx context.Context) error {
		if tm.GetQuerier(ctx) != Querier(db.tx) {
			t.Error("GetQuerier should return the context transaction")
		}
		return tm.WithTransactionContext(ctx, func(ctx context.Context) error {
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithTransactionContext() error = %v", err)
	}
	if db.begins != 1 {
		t.Errorf("begins = %d, want 1 for nested calls", db.begins)
	}
	if tm.GetQuerier(context.Background()) != Querier(db) {
		t.Error("GetQuerier without a transaction should return the pool")
	}
}
