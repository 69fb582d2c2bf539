// Package postgres implements the cache store for PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/chainkit/lib/store"
)

const schema = `CREATE TABLE IF NOT EXISTS cache (
	key   TEXT PRIMARY KEY,
	data  BYTEA NOT NULL,
	saved TIMESTAMPTZ NOT NULL
)`

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and makes sure the cache
// table exists.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create cache table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close will close any database connection. Must be called at termination time.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Exists(key string) (bool, error) {
	var ok bool
	if err := p.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM cache WHERE key = $1)`, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: exists %s: %w", key, err)
	}

	return ok, nil
}

func (p *Postgres) Load(key string) ([]byte, error) {
	var data []byte

	err := p.db.QueryRow(`SELECT data FROM cache WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDataNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("postgres: load %s: %w", key, err)
	}

	return data, nil
}

func (p *Postgres) Save(key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	_, err := p.db.Exec(`INSERT INTO cache (key, data, saved) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, saved = EXCLUDED.saved`, key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: save %s: %w", key, err)
	}

	return nil
}

func (p *Postgres) Clear(key string) error {
	if _, err := p.db.Exec(`DELETE FROM cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres: clear %s: %w", key, err)
	}

	return nil
}

func (p *Postgres) ClearIfOlderThan(key string, age time.Duration) (bool, error) {
	res, err := p.db.Exec(`DELETE FROM cache WHERE key = $1 AND saved < $2`, key, time.Now().UTC().Add(-age))
	if err != nil {
		return false, fmt.Errorf("postgres: clear %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: clear %s: %w", key, err)
	}

	return n == 1, nil
}
