// Package postgres provides the PostgreSQL connection pool and schema
// migrations for stored analyses. The schema ships embedded in the binary;
// a file:// source can replace it for local experiments.
package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// sources
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies and inspects schema migrations. It owns its own
// database handle because golang-migrate closes the handle on Close.
type Migrator struct {
	m      *migrate.Migrate
	logger logging.Logger
}

// NewMigrator opens dsn and prepares migrations from sourceURL, or from the
// embedded schema when sourceURL is empty.
func NewMigrator(dsn, sourceURL string, log logging.Logger) (*Migrator, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	db, err := sqlOpen(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	m, err := newMigrate(db, sourceURL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Migrator{m: m, logger: log}, nil
}

func newMigrate(db *sql.DB, sourceURL string) (*migrate.Migrate, error) {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	if sourceURL != "" {
		m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrate instance: %w", err)
		}
		return m, nil
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations. No pending migration is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, _ := m.Status()
	m.logger.Info("Database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// Down rolls back steps migrations.
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be greater than 0, got %d", steps)
	}
	if err := m.m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("no migrations to roll back")
		}
		return fmt.Errorf("failed to rollback %d step(s): %w", steps, err)
	}
	return nil
}

// Status returns the applied version and whether the last migration left
// the schema dirty. An empty database reports version 0.
func (m *Migrator) Status() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the version without running migrations, to recover from a
// dirty state.
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close releases the source and the database handle.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
