package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// MigrationsTable records the applied schema version. It is separate from the
// default table so the recommender can share a database with the library.
const MigrationsTable = "recommender_schema_migrations"

// Migrator applies the SQL files under migrations/.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // database/sql view of the pgx pool, must be closed
	logger  zerolog.Logger
}

// NewMigrator creates a migrator for the files in migrationsPath.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if db.pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	if migrationsPath == "" {
		return nil, fmt.Errorf("migrations path is required")
	}
	if _, err := os.Stat(migrationsPath); err != nil {
		return nil, fmt.Errorf("migrations path validation failed: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		logger:  logger.With().Str("migrations_path", migrationsPath).Logger(),
	}, nil
}

// Up applies every pending migration. Nothing to apply is not an error.
func (m *Migrator) Up() error {
	return m.change("up", m.migrate.Up)
}

// Down rolls every migration back, dropping all recommender tables.
func (m *Migrator) Down() error {
	return m.change("down", m.migrate.Down)
}

// Steps applies n migrations, rolling back when n is negative. Running past
// the first or last migration is not an error.
func (m *Migrator) Steps(n int) error {
	return m.change(fmt.Sprintf("steps(%d)", n), func() error {
		err := m.migrate.Steps(n)
		var short migrate.ErrShortLimit
		if errors.As(err, &short) {
			m.logger.Info().Uint("short", short.Short).Msg("fewer migrations available than requested")
			return nil
		}
		return err
	})
}

func (m *Migrator) change(op string, fn func() error) error {
	from, _, _ := m.Version()

	err := fn()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		m.logger.Info().Str("op", op).Uint("version", from).Msg("schema already at target version")
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", op, err)
	}

	to, _, _ := m.Version()
	m.logger.Info().Str("op", op).Uint("from", from).Uint("to", to).Msg("schema migrated")
	return nil
}

// Version returns the applied version and whether the last migration failed
// halfway. A database with no applied migration reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force records version as applied and clears the dirty flag without running
// anything. Used to recover from a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	return m.migrate.Force(version)
}

// Close releases the migration source and the database/sql wrapper.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if m.sqlDB != nil {
		if err := m.sqlDB.Close(); err != nil && dbErr == nil {
			dbErr = err
		}
	}
	return errors.Join(wrapErr("close migration source", sourceErr), wrapErr("close migration database", dbErr))
}

func wrapErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
