package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"token-stream-ledger/internal/storage/postgres"
)

func setupPostgres(t *testing.T) *postgres.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRunPostgresMigrations(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	version, err := PostgresVersion(ctx, pool)
	require.NoError(t, err)
	assert.Zero(t, version)

	applied, err := RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, "003_tokens", applied[2].String())

	version, err = PostgresVersion(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	again, err := RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, again)

	var rows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&rows))
	assert.Equal(t, 3, rows)

	var policies int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM fee_policy`).Scan(&policies))
	assert.Equal(t, 1, policies)
}

func TestRunPostgresMigrations_Concurrent(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	results := make(chan int, 4)
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			applied, err := RunPostgresMigrations(ctx, pool)
			errs <- err
			results <- len(applied)
		}()
	}

	total := 0
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errs)
		total += <-results
	}
	assert.Equal(t, 3, total, "each version applied exactly once")
}
