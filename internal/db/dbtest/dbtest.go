// Package dbtest starts a throwaway PostgreSQL with the service schema for
// repository tests.
package dbtest

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

var (
	once     sync.Once
	shared   *db.Postgres
	startErr error
)

func migrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}

// New returns a migrated database shared by the tests of one package. The
// container lives until the test binary exits. Tests are skipped in -short mode
// or when no container runtime is available.
func New(tb testing.TB) *db.Postgres {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping postgres integration test in short mode")
	}

	once.Do(func() {
		shared, startErr = start(context.Background())
	})
	if startErr != nil {
		tb.Skipf("postgres container unavailable: %v", startErr)
	}
	return shared
}

func start(ctx context.Context) (*db.Postgres, error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return nil, err
	}

	cfg := config.PostgresConfig{
		Host:            host,
		Port:            port.Port(),
		User:            "postgres",
		Password:        "postgres",
		DBName:          "storefront",
		SSLMode:         "disable",
		Schema:          "public",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Minute,
		MigrationsPath:  migrationsPath(),
	}
	if err := db.ApplyMigrations(cfg); err != nil {
		return nil, err
	}
	return db.New(ctx, cfg)
}

// Truncate empties the given tables.
func Truncate(tb testing.TB, pg *db.Postgres, tables ...string) {
	tb.Helper()
	for _, table := range tables {
		if _, err := pg.Pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" RESTART IDENTITY CASCADE"); err != nil {
			tb.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
