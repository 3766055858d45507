package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Driver is implemented by each SQL backend under store/db.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
}

// Store is the message store shared by all requests. It is safe for
// concurrent use; the underlying *sql.DB owns the connection pool.
type Store struct {
	driver Driver
	now    func() time.Time
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{
		driver: driver,
		now:    time.Now,
	}
}

// WithClock overrides the clock used to stamp rows.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return errors.Wrap(s.driver.Migrate(ctx), "failed to migrate")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.GetDB().PingContext(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
