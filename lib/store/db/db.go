// Package db implements the opening and graceful closing of cache store connections.
package db

import (
	"fmt"

	"github.com/tarancss/chainkit/lib/store"
	"github.com/tarancss/chainkit/lib/store/memory"
	"github.com/tarancss/chainkit/lib/store/mongo"
	"github.com/tarancss/chainkit/lib/store/postgres"
)

const (
	MEMORY   string = "memory"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new cache store according to the options (store type).
func New(options, connection string) (store.Cache, error) {
	switch options {
	case MEMORY, "":
		return memory.New(), nil
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	}

	return nil, fmt.Errorf("%w: %s", store.ErrUnknownStore, options)
}

// Close gracefully closes the store connection.
func Close(options string, dh store.Cache) error {
	switch options {
	case MEMORY, "":
		return dh.(*memory.Memory).Close()
	case MONGODB:
		return dh.(*mongo.Mongo).Close()
	case POSTGRES:
		return dh.(*postgres.Postgres).Close()
	}

	return nil
}
