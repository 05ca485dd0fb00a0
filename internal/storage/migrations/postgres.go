package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"token-stream-ledger/internal/storage/postgres"
)

const postgresVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// RunPostgresMigrations applies the ledger migrations that schema_migrations
// does not list yet and returns them. Everything runs in one transaction
// under the ledger advisory lock: ledger writers wait for the new schema, and
// concurrent runners apply each version once.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]Migration, error) {
	all, err := Postgres()
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, postgres.LedgerLockKey); err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	if _, err := tx.Exec(ctx, postgresVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := postgresApplied(ctx, tx)
	if err != nil {
		return nil, err
	}

	todo := pending(all, applied)
	for _, m := range todo {
		if strings.TrimSpace(m.SQL) != "" {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return nil, fmt.Errorf("apply migration %s: %w", m, err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
		); err != nil {
			return nil, fmt.Errorf("record migration %s: %w", m, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit migrations: %w", err)
	}
	return todo, nil
}

// PostgresVersion returns the highest applied ledger version, or 0 when the
// database was never migrated.
func PostgresVersion(ctx context.Context, pool *postgres.Pool) (int, error) {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("look up schema_migrations: %w", err)
	}
	if !exists {
		return 0, nil
	}
	var version int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func postgresApplied(ctx context.Context, tx pgx.Tx) (map[int]bool, error) {
	rows, err := tx.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
