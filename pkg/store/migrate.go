package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
)

//go:embed migrations
var migrations embed.FS

// Migrator applies the embedded schema for one driver
type Migrator struct {
	m      *migrate.Migrate
	logger *logrus.Logger
}

func NewMigrator(driver, dsn string, logger *logrus.Logger) (*Migrator, error) {
	dir := "migrations/postgres"
	if driver == DriverSQLite {
		dir = "migrations/sqlite"
	}

	source, err := iofs.New(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	url, err := migrationURL(driver, dsn)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{m: m, logger: logger}, nil
}

// Up applies all pending migrations; an up-to-date schema is not an error
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run up migrations: %w", err)
	}
	mg.logVersion("Migrations applied")
	return nil
}

func (mg *Migrator) Down() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run down migrations: %w", err)
	}
	mg.logger.Info("Migrations reverted")
	return nil
}

// Steps migrates n steps; negative n migrates down
func (mg *Migrator) Steps(n int) error {
	if err := mg.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run %d migration steps: %w", n, err)
	}
	mg.logVersion("Migration steps applied")
	return nil
}

// Version reports the applied version; a fresh database reports 0
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

func (mg *Migrator) logVersion(msg string) {
	v, dirty, err := mg.Version()
	if err != nil {
		mg.logger.WithError(err).Warn("Failed to read migration version")
		return
	}
	mg.logger.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info(msg)
}

// Migrate is the one-shot form used at startup and in tests
func Migrate(driver, dsn string, logger *logrus.Logger) error {
	mg, err := NewMigrator(driver, dsn, logger)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.Up()
}
