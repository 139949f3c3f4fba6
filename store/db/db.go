// Package db provides the database driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/store/db/postgres"
	"github.com/autopostd/autopostd/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "postgres":
		return postgres.NewDB(profile)
	case "sqlite":
		return sqlite.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
