package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/infrastructure/config"
	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/infrastructure/migration"
)

const defaultMigrationsPath = "migrations"

var errUsage = errors.New("invalid usage")

func main() {
	var (
		migrationsPath string
		logLevel       string
	)
	flag.StringVar(&migrationsPath, "path", defaultMigrationsPath, "Path to the migrations directory")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	log, err := logger.New(logger.Config{Level: logLevel, Format: "console", Output: "stdout"}, "storesync-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(flag.Args(), migrationsPath, log); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
		}
		log.Error("Migration command failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(args []string, migrationsPath string, log *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	command, rest := args[0], args[1:]

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}
	log = log.With(zap.String("command", command), zap.String("migrations_path", absPath))

	// create and list only touch the filesystem
	switch command {
	case "create":
		if len(rest) < 1 {
			return fmt.Errorf("%w: create <name>", errUsage)
		}
		mf, err := migration.CreateMigration(absPath, rest[0])
		if err != nil {
			return err
		}
		log.Info("Migration created",
			zap.Uint("version", mf.Version),
			zap.String("up_file", mf.UpPath),
			zap.String("down_file", mf.DownPath),
		)
		return nil
	case "list":
		files, err := migration.ListMigrations(absPath)
		if err != nil {
			return err
		}
		for _, mf := range files {
			fmt.Printf("%06d  %s\n", mf.Version, mf.Name)
		}
		log.Info("Migrations listed", zap.Int("count", len(files)))
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, absPath, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			log.Warn("Failed to close migrator", zap.Error(cerr))
		}
	}()

	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps":
		if len(rest) < 1 {
			return fmt.Errorf("%w: steps <n>", errUsage)
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("%w: step count %q", errUsage, rest[0])
		}
		return m.Steps(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("Current schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	case "status":
		st, err := m.Status()
		if err != nil {
			return err
		}
		for _, mf := range st.Pending {
			fmt.Printf("pending  %06d  %s\n", mf.Version, mf.Name)
		}
		log.Info("Schema status",
			zap.Uint("version", st.Version),
			zap.Bool("dirty", st.Dirty),
			zap.Int("pending", len(st.Pending)),
		)
		return nil
	case "force":
		if len(rest) < 1 {
			return fmt.Errorf("%w: force <version>", errUsage)
		}
		version, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("%w: version %q", errUsage, rest[0])
		}
		return m.Force(version)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, command)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `storesync schema migrations

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up               Apply all pending migrations
  down             Roll back every migration
  steps <n>        Apply n migrations, negative n rolls back
  version          Print the current schema version
  status           Print the version and the pending migrations
  force <version>  Set the version without running migrations
  create <name>    Create the next numbered up/down pair
  list             List migrations in the migrations directory

Flags:
  -path string       Migrations directory (default "migrations")
  -log-level string  debug, info, warn or error (default "info")

The database connection is read from config.toml and STORESYNC_DATABASE_* variables.`)
}
