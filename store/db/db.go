package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/internal/profile"
	"github.com/hrygo/marketsense/store"
	"github.com/hrygo/marketsense/store/db/postgres"
	"github.com/hrygo/marketsense/store/db/sqlite"
)

// PostgreSQL is the production database. SQLite serves development and
// tests; its hybrid search scans the whole visible corpus in process.

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.New("unknown db driver: only 'postgres' and 'sqlite' are supported")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
