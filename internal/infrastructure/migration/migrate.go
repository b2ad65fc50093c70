// Package migration applies and authors the sync ledger schema.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Source opens the driver the migration files are read from.
type Source func() (name string, driver source.Driver, err error)

// DirSource reads migration files from a directory.
func DirSource(path string) Source {
	return func() (string, source.Driver, error) {
		driver, err := (&file.File{}).Open("file://" + path)
		return "file", driver, err
	}
}

// EmbeddedSource reads migration files from the root of fsys.
func EmbeddedSource(fsys fs.FS) Source {
	return func() (string, source.Driver, error) {
		driver, err := iofs.New(fsys, ".")
		return "iofs", driver, err
	}
}

// Migrator runs ledger migrations against postgres.
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// New binds src to db. Close releases both, including db.
func New(db *sql.DB, src Source, log *zap.Logger) (*Migrator, error) {
	if log == nil {
		log = zap.NewNop()
	}

	srcName, srcDriver, err := src()
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = srcDriver.Close()
		return nil, fmt.Errorf("open postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance(srcName, srcDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	m.Log = migrateLog{log: log}

	return &Migrator{m: m, log: log}, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	return mg.apply("up", mg.m.Up)
}

// Down reverts every applied migration.
func (mg *Migrator) Down() error {
	return mg.apply("down", mg.m.Down)
}

// Steps moves n migrations forward, or back when n is negative.
func (mg *Migrator) Steps(n int) error {
	return mg.apply(fmt.Sprintf("step %+d", n), func() error { return mg.m.Steps(n) })
}

// apply runs op and logs the schema version it leaves behind. ErrNoChange is
// not a failure.
func (mg *Migrator) apply(name string, op func() error) error {
	log := mg.log.With(zap.String("migration", name))
	log.Info("Applying ledger migrations")

	switch err := op(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("Ledger schema already current")
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", name, err)
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	log.Info("Ledger schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Version reports the applied version. An empty schema is version 0.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied and clears the dirty flag without
// running anything.
func (mg *Migrator) Force(version int) error {
	mg.log.Warn("Forcing ledger schema version", zap.Int("version", version))
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// migrateLog forwards golang-migrate progress lines to zap at debug.
type migrateLog struct {
	log *zap.Logger
}

func (l migrateLog) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLog) Verbose() bool {
	return l.log.Core().Enabled(zap.DebugLevel)
}
