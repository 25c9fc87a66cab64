// Package integration runs the sync engine against a real PostgreSQL
// started with testcontainers.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormlogger "gorm.io/gorm/logger"

	"github.com/storesync/backend/internal/infrastructure/config"
	"github.com/storesync/backend/internal/infrastructure/migration"
	"github.com/storesync/backend/internal/infrastructure/persistence"
)

// sharedPostgres is started and migrated by the first test that needs it
// and terminated from TestMain.
var sharedPostgres struct {
	mu        sync.Mutex
	container *tcpostgres.PostgresContainer
	cfg       config.DatabaseConfig
}

// TestDB is a connection to the migrated schema with every table emptied.
type TestDB struct {
	*persistence.Database
	t *testing.T
}

func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	cfg := startPostgres(t)

	level := gormlogger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		level = gormlogger.Info
	}
	db, err := persistence.NewDatabase(&cfg, zaptest.NewLogger(t), level)
	require.NoError(t, err, "connect to test database")
	t.Cleanup(func() { _ = db.Close() })

	tdb := &TestDB{Database: db, t: t}
	tdb.truncate()
	return tdb
}

func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	sharedPostgres.mu.Lock()
	defer sharedPostgres.mu.Unlock()
	if sharedPostgres.container != nil {
		return sharedPostgres.cfg
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("storesync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:         host,
		Port:         port.Int(),
		User:         "postgres",
		Password:     "admin123",
		DBName:       "storesync_test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}
	migrate(t, cfg)

	sharedPostgres.container = container
	sharedPostgres.cfg = cfg
	return cfg
}

func migrate(t *testing.T, cfg config.DatabaseConfig) {
	t.Helper()
	db, err := persistence.NewDatabase(&cfg, zaptest.NewLogger(t), gormlogger.Silent)
	require.NoError(t, err)
	defer db.Close()

	pool, err := db.DB.DB()
	require.NoError(t, err)
	m, err := migration.New(pool, migrationsDir(t), zaptest.NewLogger(t))
	require.NoError(t, err, "create migrator")
	require.NoError(t, m.Up(), "apply migrations")
}

// migrationsDir finds the repository migrations next to go.mod.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	for dir := filepath.Dir(file); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
	}
	require.FailNow(t, "go.mod not found above "+file)
	return ""
}

func (tdb *TestDB) truncate() {
	tdb.t.Helper()
	var tables []string
	require.NoError(tdb.t, tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'schema_migrations'
	`).Scan(&tables).Error)
	for _, table := range tables {
		require.NoError(tdb.t, tdb.DB.Exec("TRUNCATE TABLE "+table+" CASCADE").Error)
	}
}

// Count returns the number of rows stored for model.
func (tdb *TestDB) Count(model any) int64 {
	tdb.t.Helper()
	var n int64
	require.NoError(tdb.t, tdb.DB.Model(model).Count(&n).Error)
	return n
}

// CleanupSharedContainer terminates the shared container.
func CleanupSharedContainer() {
	sharedPostgres.mu.Lock()
	defer sharedPostgres.mu.Unlock()
	if sharedPostgres.container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sharedPostgres.container.Terminate(ctx)
	sharedPostgres.container = nil
}
