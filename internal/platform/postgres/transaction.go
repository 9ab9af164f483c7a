package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 15 * time.Second
)

type txContextKey struct{}

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn returns the transaction bound to ctx by RunInTx, or the pool otherwise.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return ok && tx != nil
}

// TxOption customises transaction behaviour.
type TxOption func(*UnitOfWork)

// WithTxAttempts overrides how many times a serialization failure is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(u *UnitOfWork) {
		if attempts > 0 {
			u.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the lifetime of each transaction.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(u *UnitOfWork) {
		if timeout > 0 {
			u.timeout = timeout
		}
	}
}

// WithIsolation sets the isolation level used for new transactions.
func WithIsolation(level pgx.TxIsoLevel) TxOption {
	return func(u *UnitOfWork) {
		u.isolation = level
	}
}

// UnitOfWork runs functions inside a PostgreSQL transaction. Repositories pick the
// transaction up from the context through Conn, so nested calls join the outer transaction.
type UnitOfWork struct {
	pool      *pgxpool.Pool
	attempts  int
	timeout   time.Duration
	isolation pgx.TxIsoLevel
}

// NewUnitOfWork constructs a UnitOfWork bound to the pool.
func NewUnitOfWork(pool *pgxpool.Pool, opts ...TxOption) *UnitOfWork {
	u := &UnitOfWork{
		pool:      pool,
		attempts:  defaultTxAttempts,
		timeout:   defaultTxTimeout,
		isolation: pgx.ReadCommitted,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

// RunInTx executes fn within a transaction, committing on success and rolling back on error.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.pool == nil {
		return WrapError("transaction", errors.New("postgres: pool is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt < u.attempts; attempt++ {
		err = u.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (u *UnitOfWork) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	txCtx := ctx
	if u.timeout > 0 {
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > u.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, u.timeout)
			defer cancel()
		}
	}

	tx, err := u.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: u.isolation})
	if err != nil {
		return WrapError("transaction.begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(txCtx))
		}
	}()

	if err = fn(context.WithValue(txCtx, txContextKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(txCtx); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}
