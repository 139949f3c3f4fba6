// Package postgres implements the store driver for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/store"
)

//go:embed migration/*.sql
var migrationFS embed.FS

// dbtx is the subset of database/sql satisfied by both *sql.DB and *sql.Tx,
// so every query method works unchanged inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the PostgreSQL-backed store driver.
type DB struct {
	db      dbtx
	sqldb   *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection with the given profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqldb, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

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

	dbDriver, err := migratepg.WithInstance(d.sqldb, &migratepg.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to init migrate driver")
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
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

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// translateError maps PostgreSQL constraint failures onto store sentinels so
// callers never import pq.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrForeignKeyViolation, pqErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pqErr.Message)
		}
	}
	return err
}
