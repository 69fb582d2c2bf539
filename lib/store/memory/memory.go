// Package memory implements the cache store in process memory.
package memory

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tarancss/chainkit/lib/store"
)

type entry struct {
	data  []byte
	saved time.Time
}

// Memory implements an in-process cache store. Entries do not expire by themselves.
type Memory struct {
	mu  sync.Mutex // serializes ClearIfOlderThan against Save
	c   *gocache.Cache
	now func() time.Time
}

// New returns an empty memory store.
func New() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, 10*time.Minute), now: time.Now} //nolint:gomnd // cleanup
}

// NewWithClock returns an empty memory store that stamps entries with the given clock.
func NewWithClock(now func() time.Time) *Memory {
	m := New()
	m.now = now

	return m
}

// Close releases the store.
func (m *Memory) Close() error {
	m.c.Flush()

	return nil
}

// Exists reports whether key holds an entry.
func (m *Memory) Exists(key string) (bool, error) {
	_, ok := m.c.Get(key)

	return ok, nil
}

// Load returns the data saved under key or store.ErrDataNotFound.
func (m *Memory) Load(key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, store.ErrDataNotFound
	}

	e := v.(entry)
	out := make([]byte, len(e.data))
	copy(out, e.data)

	return out, nil
}

// Save stores a copy of data under key.
func (m *Memory) Save(key string, data []byte) error {
	e := entry{data: make([]byte, len(data)), saved: m.now()}
	copy(e.data, data)

	m.mu.Lock()
	m.c.Set(key, e, gocache.NoExpiration)
	m.mu.Unlock()

	return nil
}

// Clear removes key.
func (m *Memory) Clear(key string) error {
	m.c.Delete(key)

	return nil
}

// ClearIfOlderThan removes key when it was saved more than age ago.
func (m *Memory) ClearIfOlderThan(key string, age time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok {
		return false, nil
	}

	if m.now().Sub(v.(entry).saved) <= age {
		return false, nil
	}

	m.c.Delete(key)

	return true, nil
}
