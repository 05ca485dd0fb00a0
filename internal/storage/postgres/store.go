package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/storage"
)

// LedgerLockKey is the advisory lock that serializes every writing unit.
// Schema migrations take it too.
const LedgerLockKey int64 = 0x5354524d // "STRM"

// Store implements storage.Store on PostgreSQL.
//
// Atomic opens a transaction and takes a transaction-scoped advisory lock
// before running fn, so writers are serialized across processes. Token
// balances live in the same database and commit or roll back with the
// stream records.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Atomic runs fn inside one serialized transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "atomic", time.Since(start).Seconds(), err)
	}()

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, pgTx)

	if _, err := pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, LedgerLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn inside a read-only repeatable-read transaction.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "view", time.Since(start).Seconds(), err)
	}()

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer rollback(ctx, pgTx)

	return fn(ctx, &tx{q: pgTx, readOnly: true})
}

func rollback(ctx context.Context, pgTx pgx.Tx) {
	err := pgTx.Rollback(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		observability.RecordDBQuery("postgres", "rollback", 0, err)
	}
}

// tx implements storage.Tx over one pgx transaction.
type tx struct {
	q        pgx.Tx
	readOnly bool
}

func (t *tx) Streams() storage.StreamRepo          { return &streamRepo{tx: t} }
func (t *tx) Compounding() storage.CompoundingRepo { return &compoundingRepo{tx: t} }
func (t *tx) Policy() storage.PolicyRepo           { return &policyRepo{tx: t} }
func (t *tx) Tokens() storage.TokenRegistry        { return &tokenRegistry{tx: t} }

func (t *tx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

// Verify interface compliance at compile time.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*tx)(nil)
)
