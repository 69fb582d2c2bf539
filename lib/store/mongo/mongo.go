// Package mongo implements the cache store for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/chainkit/lib/store"
)

const (
	database   = "chainkit"
	collection = "cache"
	opTimeout  = 5 * time.Second
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c   *mgo.Client
	col *mgo.Collection
}

// document is a cache entry as stored in MongoDB.
type document struct {
	Key   string    `bson:"_id"`
	Data  []byte    `bson:"data"`
	Saved time.Time `bson:"saved"`
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c, col: c.Database(database).Collection(collection)}, nil
}

// Close will close a database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

// Exists reports whether key holds an entry.
func (m *Mongo) Exists(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := m.col.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return false, fmt.Errorf("mongo: exists %s: %w", key, err)
	}

	return n > 0, nil
}

// Load returns the data saved under key or store.ErrDataNotFound.
func (m *Mongo) Load(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var d document
	if err := m.col.FindOne(ctx, bson.M{"_id": key}).Decode(&d); err != nil {
		if errors.Is(err, mgo.ErrNoDocuments) {
			return nil, store.ErrDataNotFound
		}

		return nil, fmt.Errorf("mongo: load %s: %w", key, err)
	}

	return d.Data, nil
}

// Save upserts data under key.
func (m *Mongo) Save(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	d := document{Key: key, Data: data, Saved: time.Now().UTC()}
	if _, err := m.col.ReplaceOne(ctx, bson.M{"_id": key}, d, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("mongo: save %s: %w", key, err)
	}

	return nil
}

// Clear removes key.
func (m *Mongo) Clear(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := m.col.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("mongo: clear %s: %w", key, err)
	}

	return nil
}

// ClearIfOlderThan removes key when it was saved more than age ago.
func (m *Mongo) ClearIfOlderThan(key string, age time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	filter := bson.M{"_id": key, "saved": bson.M{"$lt": time.Now().UTC().Add(-age)}}

	res, err := m.col.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("mongo: clear %s: %w", key, err)
	}

	return res.DeletedCount == 1, nil
}
