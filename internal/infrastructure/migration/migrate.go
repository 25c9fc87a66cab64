package migration

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// ErrDirtySchema means a previous migration failed halfway. The schema has
// to be repaired by hand and the version forced before migrating again.
var ErrDirtySchema = errors.New("migration: schema is dirty")

// Migrator applies the numbered SQL files of the sync schema.
type Migrator struct {
	m      *migrate.Migrate
	dir    string
	logger *zap.Logger
}

// New opens the migration source in dir against db. The migrator owns db
// from then on; Close releases it.
func New(db *sql.DB, dir string, logger *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration source %s: %w", dir, err)
	}
	m.Log = zapMigrateLogger{logger.Named("migrate").Sugar()}
	return &Migrator{m: m, dir: dir, logger: logger}, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	return mg.apply("up", mg.m.Up)
}

// Steps applies n migrations, or rolls back -n when n is negative.
func (mg *Migrator) Steps(n int) error {
	return mg.apply(fmt.Sprintf("steps %d", n), func() error { return mg.m.Steps(n) })
}

// Down rolls back every migration.
func (mg *Migrator) Down() error {
	return mg.apply("down", mg.m.Down)
}

func (mg *Migrator) apply(op string, run func() error) error {
	if _, dirty, err := mg.Version(); err != nil {
		return err
	} else if dirty {
		return ErrDirtySchema
	}
	err := run()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		mg.logger.Info("Schema already current", zap.String("op", op))
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	mg.logger.Info("Migrations applied", zap.String("op", op), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Version returns the applied schema version, 0 before the first migration.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Status describes the schema against the migration files on disk.
type Status struct {
	Version uint
	Dirty   bool
	Pending []MigrationFile
}

// Status lists the migrations newer than the applied version.
func (mg *Migrator) Status() (*Status, error) {
	version, dirty, err := mg.Version()
	if err != nil {
		return nil, err
	}
	files, err := ListMigrations(mg.dir)
	if err != nil {
		return nil, err
	}
	st := &Status{Version: version, Dirty: dirty}
	for _, f := range files {
		if f.Version > version {
			st.Pending = append(st.Pending, f)
		}
	}
	return st, nil
}

// Force records version as applied and clean without running anything.
func (mg *Migrator) Force(version int) error {
	mg.logger.Warn("Forcing schema version", zap.Int("version", version))
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

type zapMigrateLogger struct {
	s *zap.SugaredLogger
}

func (l zapMigrateLogger) Printf(format string, v ...any) { l.s.Debugf(format, v...) }

func (l zapMigrateLogger) Verbose() bool { return l.s.Desugar().Core().Enabled(zap.DebugLevel) }
