package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/postgres"
)

// EnvDatabaseURL names the database used by Postgres adapter tests.
const EnvDatabaseURL = "OFFLINE_TEST_DATABASE_URL"

// OpenMigratedPool connects to the test database, applies the schema and empties the cache
// tables. Tests are skipped when EnvDatabaseURL is unset.
func OpenMigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		t.Skipf("%s not set", EnvDatabaseURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("NewPool() err=%v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() err=%v", err)
	}
	Truncate(t, pool)
	return pool
}

// Truncate empties every cache table.
func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(),
		`TRUNCATE offline_cache_entries, offline_cache_stores RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
