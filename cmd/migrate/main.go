// Package main applies the embedded PostgreSQL and ClickHouse migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"token-stream-ledger/internal/config"
	"token-stream-ledger/internal/storage/migrations"
	pgstore "token-stream-ledger/internal/storage/postgres"
)

func main() {
	config.LoadEnvFile(".env")

	postgresDSN := flag.String("postgres-dsn", os.Getenv("STREAM_POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("STREAM_CLICKHOUSE_DSN"), "ClickHouse connection string")
	status := flag.Bool("status", false, "Print the PostgreSQL schema version and exit")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	if *postgresDSN == "" && *clickhouseDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: at least one of --postgres-dsn or --clickhouse-dsn is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *postgresDSN != "" {
		if err := migratePostgres(ctx, *postgresDSN, *status); err != nil {
			fmt.Fprintf(os.Stderr, "PostgreSQL: %v\n", err)
			os.Exit(1)
		}
	}
	if *status {
		return
	}

	if *clickhouseDSN != "" {
		conn, applied, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ClickHouse: %v\n", err)
			os.Exit(1)
		}
		conn.Close()
		report("ClickHouse", applied)
	}
}

func migratePostgres(ctx context.Context, dsn string, statusOnly bool) error {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if !statusOnly {
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return err
		}
		report("PostgreSQL", applied)
	}

	version, err := migrations.PostgresVersion(ctx, pool)
	if err != nil {
		return err
	}
	fmt.Printf("PostgreSQL schema version: %d\n", version)
	return nil
}

func report(db string, applied []migrations.Migration) {
	if len(applied) == 0 {
		fmt.Printf("%s schema up to date\n", db)
		return
	}
	for _, m := range applied {
		fmt.Printf("%s: applied %s\n", db, m)
	}
}
