// Package rpc selects a live set of daemons and executes calls against them. A Resolver chooses the first healthy
// candidate service set and remembers it in the cache store; a Gateway executes commands on the daemons of the
// resolved set, caching responses and classifying failures.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/rpc/jsonrpc"
	"github.com/tarancss/chainkit/lib/store"
	"github.com/tarancss/chainkit/lib/util"
)

const (
	// DefaultTTL is how long a resolved set is trusted.
	DefaultTTL = 600 * time.Second
	// DefaultScheme is prefixed to addresses without one.
	DefaultScheme = "https"
)

// Resolved is a resolved service set as kept in the cache store.
type Resolved struct {
	Set     config.ServiceSet `json:"set"`
	Checked time.Time         `json:"checked"`
}

// Resolver chooses a live service set among ordered candidates.
type Resolver struct {
	cache   store.Cache
	checker HealthChecker
	ttl     time.Duration
	limit   int
	log     *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current config.ServiceSet
}

// NewResolver returns a resolver keeping its choice in cache for ttl and running at most limit health checks at a
// time. Zero values select DefaultTTL and one check per candidate.
func NewResolver(cache store.Cache, checker HealthChecker, ttl time.Duration, limit int, log *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if checker == nil {
		checker = AlwaysHealthy{}
	}

	return &Resolver{cache: cache, checker: checker, ttl: ttl, limit: limit, log: logging.OrNop(log), now: time.Now}
}

// Current returns the last resolved set, or nil.
func (r *Resolver) Current() config.ServiceSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current.Clone()
}

// Normalize returns a copy of set where every daemon has its name, an address with a scheme and a driver.
func Normalize(set config.ServiceSet) config.ServiceSet {
	n := set.Clone()
	for name, d := range n {
		d.Name = name
		if !util.HasScheme(d.Address) {
			d.Address = DefaultScheme + "://" + d.Address
		}

		if d.Driver == "" {
			d.Driver = jsonrpc.JSON
		}

		n[name] = d
	}

	return n
}

// Resolve returns the service set to use. A set cached under cacheKey within the TTL is returned directly, after a
// health check when verify is set. Otherwise the candidates are normalized: without verify the first one is
// returned, with verify they are checked concurrently and the first healthy one in candidate order is cached and
// returned.
func (r *Resolver) Resolve(ctx context.Context, candidates []config.ServiceSet, verify bool,
	cacheKey string) (config.ServiceSet, error) {
	if set, ok := r.cached(cacheKey); ok {
		if !verify || r.checker.Check(ctx, set) {
			return r.use(set), nil
		}

		r.log.Warn("cached service set failed health check", zap.String("key", cacheKey))

		if err := r.cache.Clear(cacheKey); err != nil {
			r.log.Error("cannot clear cached service set", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	if len(candidates) == 0 {
		return nil, ErrConfigurationMissing
	}

	sets := make([]config.ServiceSet, len(candidates))
	for i, c := range candidates {
		sets[i] = Normalize(c)
	}

	if !verify {
		return r.use(sets[0]), nil
	}

	healthy := make([]bool, len(sets))

	g, gctx := errgroup.WithContext(ctx)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}

	for i := range sets {
		g.Go(func() error {
			healthy[i] = r.checker.Check(gctx, sets[i])

			return nil
		})
	}

	_ = g.Wait()

	for i, ok := range healthy {
		if !ok {
			continue
		}

		r.save(cacheKey, sets[i])

		return r.use(sets[i]), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}

	return nil, ErrConfigurationMissing
}

func (r *Resolver) use(set config.ServiceSet) config.ServiceSet {
	r.mu.Lock()
	r.current = set.Clone()
	r.mu.Unlock()

	return set
}

// cached returns the set cached under key unless it is older than the TTL.
func (r *Resolver) cached(key string) (config.ServiceSet, bool) {
	if _, err := r.cache.ClearIfOlderThan(key, r.ttl); err != nil {
		r.log.Error("cannot expire cached service set", zap.String("key", key), zap.Error(err))
	}

	data, err := r.cache.Load(key)
	if err != nil {
		if !errors.Is(err, store.ErrDataNotFound) {
			r.log.Error("cannot load cached service set", zap.String("key", key), zap.Error(err))
		}

		return nil, false
	}

	var res Resolved
	if err = jsoniter.Unmarshal(data, &res); err != nil || len(res.Set) == 0 {
		r.log.Error("invalid cached service set", zap.String("key", key), zap.Error(err))

		return nil, false
	}

	if r.now().Sub(res.Checked) > r.ttl {
		return nil, false
	}

	return res.Set, true
}

func (r *Resolver) save(key string, set config.ServiceSet) {
	data, err := jsoniter.Marshal(Resolved{Set: set, Checked: r.now()})
	if err == nil {
		err = r.cache.Save(key, data)
	}

	if err != nil {
		r.log.Error("cannot cache service set", zap.String("key", key), zap.Error(err))
	}
}
