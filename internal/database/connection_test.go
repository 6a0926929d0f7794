package database

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/history"
)

func TestConfigFromDomain(t *testing.T) {
	cfg := ConfigFromDomain(domain.DatabaseConfig{
		Host:            "db.internal",
		Port:            5433,
		Database:        "heartrisk",
		Username:        "app",
		Password:        "secret",
		MaxOpenConns:    10,
		MaxIdleConns:    20,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute,
	})

	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, int32(10), cfg.MinConns, "idle connections are capped at the pool size")
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, time.Hour, cfg.MaxConnLife)
	assert.Equal(t, "host=db.internal port=5433 dbname=heartrisk user=app password=secret sslmode=disable", cfg.DSN())
}

func TestEmbeddedMigrations(t *testing.T) {
	up, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	require.NoError(t, err)
	down, err := fs.Glob(migrationFiles, "migrations/*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, up)
	assert.Len(t, down, len(up), "every up migration needs a down migration")
}

func TestDatabaseConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	connURL, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests

	runner, err := NewMigrationRunner(connURL, logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(ctx))
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	require.NoError(t, runner.Close())

	config := Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    "testpass",
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	db, err := NewConnection(ctx, config, logger)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Health(ctx))
	assert.NotZero(t, db.Stats().TotalConns(), "Expected at least one connection in pool")

	store, err := history.NewPostgresStore(db.SQL())
	require.NoError(t, err)

	rec := &domain.HistoryRecord{
		Prediction: domain.HighRisk,
		Confidence: 0.91,
		Features:   []string{"Age"},
		Input:      map[string]any{"Age": float64(67), "Sex": "M"},
	}
	require.NoError(t, store.Save(ctx, rec))
	err = store.Save(ctx, rec)
	assert.ErrorIs(t, err, history.ErrDuplicateID)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(67), got.Input["Age"])

	n, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
