package storage

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
)

// Store is the Postgres source of truth for jobs, rate windows, webhook
// deliveries, upload sessions, API clients and runtime settings.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// Migrate applies goose migrations from dir. Runs over the stdlib driver;
// the pool is opened separately.
func Migrate(dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "open migration connection")
	}
	defer db.Close()
	if err := goose.Up(db, dir); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}
