// Package main runs the stream ledger service:
// - JSON/HTTP API and live event feed
// - Prometheus metrics
// - event fan-out to the journal, NATS and Kafka
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"token-stream-ledger/internal/address"
	"token-stream-ledger/internal/api"
	"token-stream-ledger/internal/config"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/engine"
	"token-stream-ledger/internal/events"
	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/oracle"
	"token-stream-ledger/internal/storage"
	chstore "token-stream-ledger/internal/storage/clickhouse"
	"token-stream-ledger/internal/storage/memory"
	"token-stream-ledger/internal/storage/migrations"
	pgstore "token-stream-ledger/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(os.Args[0], os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatalf("Config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	store, journal, closeStores, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	closers = append(closers, closeStores)

	source, closeOracle, err := createOracle(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create oracle: %v", err)
	}
	closers = append(closers, closeOracle)

	hub := events.NewHub(logger, nil)
	closers = append(closers, hub.Close)

	sink := events.NewMulti(nil,
		events.Named{Name: "journal", Sink: events.NewStoreSink(journal)},
		events.Named{Name: "feed", Sink: hub},
	)
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(events.NATSConfig{
			URL:            cfg.NATSURL,
			Name:           "token-stream-ledger",
			Subject:        cfg.NATSSubject,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		closers = append(closers, pub.Close)
		sink.Add("nats", pub)
		logger.Printf("Publishing events to NATS %s (%s.*)", cfg.NATSURL, cfg.NATSSubject)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatalf("Failed to create Kafka producer: %v", err)
		}
		closers = append(closers, func() { pub.Close() })
		sink.Add("kafka", pub)
		logger.Printf("Publishing events to Kafka topic %s", cfg.KafkaTopic)
	}

	admin := domain.Address(cfg.Admin)
	vault, err := address.DeriveVault(cfg.VaultSeed, admin)
	if err != nil {
		logger.Fatalf("Failed to derive vault: %v", err)
	}

	eng, err := engine.New(engine.Options{
		Store:  store,
		Admin:  admin,
		Vault:  vault,
		Oracle: source,
		Sink:   sink,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}
	logger.Printf("Admin %s, vault %s", admin, vault)

	if err := bootstrap(ctx, eng, cfg, logger); err != nil {
		logger.Fatalf("Bootstrap: %v", err)
	}

	if cfg.AdminToken == "" {
		logger.Println("WARNING: no admin token set; admin routes trust the X-Caller header alone")
	}
	srv := api.New(api.Options{Engine: eng, Journal: journal, Feed: hub, Logger: logger, AdminToken: cfg.AdminToken})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.HTTPAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go serve(metricsServer, "metrics", logger)
	}
	go serve(httpServer, "API", logger)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

	go func() {
		// Second signal forces exit
		sig := <-sigCh
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("API server shutdown: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Metrics server shutdown: %v", err)
		}
	}
	cancel()

	logger.Println("Shutdown complete")
}

func serve(srv *http.Server, name string, logger *log.Logger) {
	logger.Printf("Starting %s server on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("%s server error: %v", name, err)
	}
}

// createStores opens the ledger store and the event journal.
func createStores(ctx context.Context, cfg *config.Config, logger *log.Logger) (storage.Store, storage.EventStore, func(), error) {
	var (
		store   storage.Store
		journal storage.EventStore
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.UseMemory {
		logger.Println("Using in-memory ledger store (state is lost on exit)")
		store = memory.NewStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if cfg.Migrate {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				cleanup()
				return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
			logger.Printf("PostgreSQL migrations applied: %v", applied)
		}
		store = pgstore.NewStore(pool)
	}

	switch {
	case cfg.ClickhouseDSN != "" && cfg.Migrate:
		conn, applied, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		logger.Printf("ClickHouse migrations applied: %v", applied)
		journal = chstore.NewEventStore(conn)
	case cfg.ClickhouseDSN != "":
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		journal = chstore.NewEventStore(conn)
	default:
		logger.Println("Using in-memory event journal")
		journal = memory.NewEventStore()
	}

	return store, journal, cleanup, nil
}

// createOracle chains the configured rate sources: pushed rates first, then
// RPC, then the static table.
func createOracle(ctx context.Context, cfg *config.Config, logger *log.Logger) (oracle.Source, func(), error) {
	var (
		chain   oracle.Chain
		cleanup = func() {}
	)

	if cfg.OracleWS != "" {
		wsCfg := oracle.DefaultWSConfig()
		wsCfg.Logger = logger
		feed, err := oracle.NewWSFeed(ctx, cfg.OracleWS, cfg.OracleTokens, &wsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect oracle feed: %w", err)
		}
		cleanup = func() { feed.Close() }
		chain = append(chain, feed)
		logger.Printf("Subscribed to oracle feed %s for %v", cfg.OracleWS, cfg.OracleTokens)
	}
	if cfg.OracleRPC != "" {
		chain = append(chain, oracle.NewRPCClient(cfg.OracleRPC, oracle.WithTimeout(cfg.OracleTimeout)))
	}

	rates, err := cfg.Rates()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if len(rates) > 0 {
		chain = append(chain, oracle.NewStatic(rates))
	}

	if len(chain) == 0 {
		logger.Println("No oracle configured; compounding operations will fail")
	}
	return chain, cleanup, nil
}

// bootstrap registers configured tokens and, in memory mode, applies the
// initial fee.
func bootstrap(ctx context.Context, eng *engine.Engine, cfg *config.Config, logger *log.Logger) error {
	for _, t := range cfg.Tokens {
		err := eng.RegisterToken(ctx, eng.Admin(), domain.TokenInfo{ID: t.ID, Symbol: t.Symbol, Decimals: t.Decimals})
		switch {
		case errors.Is(err, engine.ErrTokenAlreadyRegistered):
		case err != nil:
			return fmt.Errorf("register token %s: %w", t.ID, err)
		default:
			logger.Printf("Registered token %s", t.ID)
		}
	}

	if cfg.UseMemory && cfg.InitialFee > 0 {
		if err := eng.UpdateFee(ctx, eng.Admin(), cfg.InitialFee); err != nil {
			return fmt.Errorf("initial fee: %w", err)
		}
		logger.Printf("Fee set to %d%%", cfg.InitialFee)
	}
	return nil
}
