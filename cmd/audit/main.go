// Package main replays the event journal and checks it against the ledger.
//
// Usage:
//
//	audit --clickhouse-dsn=... [--postgres-dsn=...] [--stream=42] [--json]
//
// Without --postgres-dsn only the journal's own accounting is checked.
// Exit status is 2 when a divergence is found.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"token-stream-ledger/internal/address"
	"token-stream-ledger/internal/config"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/engine"
	chstore "token-stream-ledger/internal/storage/clickhouse"
	pgstore "token-stream-ledger/internal/storage/postgres"
	"token-stream-ledger/internal/verification"
)

func main() {
	config.LoadEnvFile(".env")

	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("STREAM_CLICKHOUSE_DSN"), "ClickHouse connection string for the event journal")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("STREAM_POSTGRES_DSN"), "PostgreSQL connection string (enables state cross-check)")
	admin := flag.String("admin", os.Getenv("STREAM_ADMIN"), "Admin address, required with --postgres-dsn")
	vaultSeed := flag.String("vault-seed", config.DefaultVaultSeed, "Seed the vault address is derived from")
	streamID := flag.Uint64("stream", 0, "Verify a single stream")
	outputJSON := flag.Bool("json", false, "Output report as JSON")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	if *clickhouseDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --clickhouse-dsn is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	var state verification.State
	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to PostgreSQL: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()

		eng, err := newReadOnlyEngine(pool, *admin, *vaultSeed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		state = eng
	}

	v := verification.NewJournalVerifier(chstore.NewEventStore(conn), state)

	var report *verification.Report
	if *streamID != 0 {
		result, err := v.VerifyStream(ctx, *streamID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		report = &verification.Report{TotalStreams: 1, Results: []verification.StreamResult{*result}}
		if result.Match {
			report.MatchedStreams = 1
		} else {
			report.DivergentStreams = 1
		}
	} else {
		report, err = v.VerifyAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(report)
	}

	if !report.OK() {
		os.Exit(2)
	}
}

// newReadOnlyEngine builds an engine used only for its queries.
func newReadOnlyEngine(pool *pgstore.Pool, admin, seed string) (*engine.Engine, error) {
	if admin == "" {
		return nil, errors.New("--admin is required with --postgres-dsn")
	}
	vault, err := address.DeriveVault(seed, domain.Address(admin))
	if err != nil {
		return nil, fmt.Errorf("derive vault: %w", err)
	}
	return engine.New(engine.Options{
		Store: pgstore.NewStore(pool),
		Admin: domain.Address(admin),
		Vault: vault,
	})
}

func printReport(r *verification.Report) {
	fmt.Println("=== Journal Audit ===")
	fmt.Printf("Streams: %d total, %d matched, %d divergent\n", r.TotalStreams, r.MatchedStreams, r.DivergentStreams)

	for _, res := range r.Results {
		if res.Match {
			continue
		}
		fmt.Printf("\nStream %d (%s, %d events):\n", res.StreamID, res.Token, res.Events)
		for _, d := range res.Divergences {
			fmt.Printf("  - %s at %d: expected %v, got %v\n", d.Check, d.Seq, d.Expected, d.Actual)
		}
	}

	if len(r.Earnings) > 0 {
		fmt.Println("\nOperator earnings (journal):")
		tokens := make([]string, 0, len(r.Earnings))
		for token := range r.Earnings {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			fmt.Printf("  %s: %s\n", token, r.Earnings[token].String())
		}
	}
	for _, d := range r.EarningsDivergences {
		fmt.Printf("  - %s: expected %v, got %v\n", d.Check, d.Expected, d.Actual)
	}

	if r.OK() {
		fmt.Println("\nOK")
	} else {
		fmt.Println("\nDIVERGENT")
	}
}
