package database_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/database"
)

// setupPostgres starts a PostgreSQL container and applies migrations.
func setupPostgres(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("filebox_test"),
		postgres.WithUsername("filebox"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(dsn, zap.NewNop()))
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := setupPostgres(t)

	runStoreContract(t, func(t *testing.T) database.Store {
		ctx := context.Background()
		db, err := database.NewPostgresDB(ctx, dsn, database.PoolConfig{MaxOpenConns: 4})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		// Every subtest starts from empty tables.
		require.NoError(t, db.Truncate(ctx))
		return db
	})
}
