package db

import (
	"github.com/pkg/errors"

	"github.com/threadcast/threadcast/server/profile"
	"github.com/threadcast/threadcast/store"
	"github.com/threadcast/threadcast/store/db/mysql"
	"github.com/threadcast/threadcast/store/db/postgres"
	"github.com/threadcast/threadcast/store/db/sqlite"
)

// NewDBDriver creates the store driver selected by the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile.DSN)
	case "mysql":
		driver, err = mysql.NewDB(profile.DSN)
	case "postgres":
		driver, err = postgres.NewDB(profile.DSN)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
