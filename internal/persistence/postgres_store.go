package persistence

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/store"
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DefaultLockTimeout      = 2 * time.Second
	DefaultStatementTimeout = 10 * time.Second
)

// PostgresStore implements store.Store on top of database/sql and lib/pq.
// Every unit of work is a READ COMMITTED transaction; row locks are taken
// with SELECT ... FOR UPDATE and bounded by lock_timeout.
type PostgresStore struct {
	db               *sql.DB
	lockTimeout      time.Duration
	statementTimeout time.Duration
}

var _ store.Store = (*PostgresStore)(nil)

type StoreOption func(*PostgresStore)

// WithLockTimeout bounds the wait for a row lock. Expiry surfaces as
// domain.ErrConcurrencyConflict.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *PostgresStore) { s.lockTimeout = d }
}

func WithStatementTimeout(d time.Duration) StoreOption {
	return func(s *PostgresStore) { s.statementTimeout = d }
}

func NewPostgresStore(db *sql.DB, opts ...StoreOption) *PostgresStore {
	s := &PostgresStore{
		db:               db,
		lockTimeout:      DefaultLockTimeout,
		statementTimeout: DefaultStatementTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx implements store.Store.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapError("set lock_timeout", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.statementTimeout.Milliseconds())); err != nil {
		return mapError("set statement_timeout", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit", err)
	}
	return nil
}

// pgTx is the store.Tx bound to one *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*pgTx)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func rowsAffected(op string, res sql.Result, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return domain.Errorf(domain.ErrNotFound, "%s", op)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
