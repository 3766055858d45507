package mysql

import (
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/threadcast/threadcast/store"
)

type DB struct {
	db     *sql.DB
	config *mysql.Config
}

func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	config, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dsn: %s", dsn)
	}
	// Message text must round-trip any unicode the model emits.
	if config.Collation == "" {
		config.Collation = "utf8mb4_general_ci"
	}
	db, err := sql.Open("mysql", config.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mysql connection")
	}
	return &DB{db: db, config: config}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}
