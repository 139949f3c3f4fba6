// Package sqlite implements the store driver for SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/store"
)

//go:embed migration/*.sql
var migrationFS embed.FS

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQLite-backed store driver.
type DB struct {
	db      dbtx
	sqldb   *sql.DB
	profile *profile.Profile
}

// NewDB opens a SQLite database with the given profile. Foreign keys are
// forced on: group and post deletion rely on cascades.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	dsn := profile.DSN
	if !strings.Contains(dsn, "_pragma=foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", dsn)
	}

	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY between the scheduler and heartbeat loops.
	sqldb.SetMaxOpenConns(1)

	driver := DB{
		db:      sqldb,
		sqldb:   sqldb,
		profile: profile,
	}
	return &driver, nil
}

// GetDB returns the underlying database connection.
func (d *DB) GetDB() *sql.DB {
	return d.sqldb
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sqldb.Close()
}

// Migrate applies all pending schema migrations.
func (d *DB) Migrate(_ context.Context) error {
	sourceDriver, err := iofs.New(migrationFS, "migration")
	if err != nil {
		return errors.Wrap(err, "failed to read migration source")
	}

	dbDriver, err := migratesqlite.WithInstance(d.sqldb, &migratesqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to init migrate driver")
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return errors.Wrap(err, "failed to init migrate")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}

// RunInTx runs fn against a driver bound to a single transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(driver store.Driver) error) error {
	if d.sqldb == nil {
		return store.ErrNestedTx
	}

	tx, err := d.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	txDriver := DB{
		db:      tx,
		profile: d.profile,
	}
	if err := fn(&txDriver); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = "?"
	}
	return strings.Join(list, ", ")
}

// translateError maps SQLite constraint failures onto store sentinels. The
// driver only exposes stringified codes, so match on the constraint text.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "FOREIGN KEY constraint") {
		return errors.Wrap(store.ErrForeignKeyViolation, msg)
	}
	if strings.Contains(msg, "UNIQUE constraint") {
		return errors.Wrap(store.ErrAlreadyExists, msg)
	}
	return err
}
