package rpc

import (
	"context"
	"crypto/md5" //nolint:gosec // cache keys only
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/rpc/jsonrpc"
	"github.com/tarancss/chainkit/lib/store"
)

// canonical encodes with sorted map keys and keeps numbers untouched.
var canonical = jsoniter.Config{SortMapKeys: true, UseNumber: true, EscapeHTML: false}.Froze()

// Caller executes one command on a daemon.
type Caller interface {
	Call(ctx context.Context, method string, params interface{}) (interface{}, error)
}

// Dialer returns the Caller of a daemon.
type Dialer func(d config.DaemonConfig) (Caller, error)

// JSONRPCDialer returns a Dialer building jsonrpc clients with the given timeouts.
func JSONRPCDialer(o jsonrpc.Options) Dialer {
	return func(d config.DaemonConfig) (Caller, error) {
		return jsonrpc.New(d, o)
	}
}

// Options of a single call.
type Options struct {
	Log               bool // log request and result
	Cache             bool // serve from and save to the cache store
	SkipErrorTracking bool // do not offer a failure to the Reporter
}

// GatewayConfig holds the collaborators of a Gateway. Only Resolver, Candidates and Cache are required.
type GatewayConfig struct {
	Resolver   *Resolver
	Candidates []config.ServiceSet
	CacheKey   string // cache slot of the resolved set
	Cache      store.Cache
	Rules      *Rules
	Reporter   Reporter
	Dial       Dialer
	Log        *zap.Logger
	Registerer prometheus.Registerer
	RateLimit  float64 // calls per second and daemon, 0 disables it
	Burst      int
}

type daemon struct {
	conf config.DaemonConfig
	c    Caller
	lim  *rate.Limiter
	log  *zap.Logger
}

// Gateway executes commands on the daemons of the resolved service set.
type Gateway struct {
	gc      GatewayConfig
	nodes   []string
	metrics *Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	daemons map[string]*daemon
}

// NewGateway returns a gateway. Connect must be called before Exec.
func NewGateway(gc GatewayConfig) *Gateway {
	if gc.Rules == nil {
		gc.Rules = NewRules()
	}

	if gc.Reporter == nil {
		gc.Reporter = NewFirstFailure(gc.Log)
	}

	if gc.Dial == nil {
		gc.Dial = JSONRPCDialer(jsonrpc.Options{})
	}

	return &Gateway{
		gc:      gc,
		nodes:   nodeNames(gc.Candidates),
		metrics: NewMetrics(gc.Registerer),
		log:     logging.OrNop(gc.Log),
		daemons: map[string]*daemon{},
	}
}

// nodeNames returns the host names of every candidate daemon, searched in upstream errors.
func nodeNames(candidates []config.ServiceSet) []string {
	seen := map[string]bool{}

	var nodes []string

	for _, set := range candidates {
		for _, d := range Normalize(set) {
			u, err := url.Parse(d.Address)
			if err != nil || u.Hostname() == "" || seen[u.Hostname()] {
				continue
			}

			seen[u.Hostname()] = true
			nodes = append(nodes, u.Hostname())
		}
	}

	return nodes
}

// Rules returns the cache rules of the gateway.
func (g *Gateway) Rules() *Rules { return g.gc.Rules }

// Connect resolves the service set and instantiates one client per daemon.
func (g *Gateway) Connect(ctx context.Context, verify bool) error {
	set, err := g.gc.Resolver.Resolve(ctx, g.gc.Candidates, verify, g.gc.CacheKey)
	if err != nil {
		return err
	}

	daemons := make(map[string]*daemon, len(set))

	for name, conf := range set {
		c, err := g.gc.Dial(conf)
		if err != nil {
			return fmt.Errorf("daemon %s: %w", name, err)
		}

		d := &daemon{conf: conf, c: c, log: g.log.Named("rpc-" + name)}
		if g.gc.RateLimit > 0 {
			burst := g.gc.Burst
			if burst < 1 {
				burst = 1
			}

			d.lim = rate.NewLimiter(rate.Limit(g.gc.RateLimit), burst)
		}

		daemons[name] = d
	}

	g.mu.Lock()
	g.daemons = daemons
	g.mu.Unlock()

	return nil
}

// Refresh re-resolves the service set verifying its health and swaps the clients.
func (g *Gateway) Refresh(ctx context.Context) error {
	return g.Connect(ctx, true)
}

// Daemons returns the names of the instantiated daemons.
func (g *Gateway) Daemons() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.daemons))
	for n := range g.daemons {
		names = append(names, n)
	}

	return names
}

// Resolved returns the service set in use.
func (g *Gateway) Resolved() config.ServiceSet {
	return g.gc.Resolver.Current()
}

// ReportOnce offers c to the reporter of the gateway. Callers executing with SkipErrorTracking use it to report the
// failures they do not expect.
func (g *Gateway) ReportOnce(c Classification) bool {
	return g.gc.Reporter.ReportOnce(c)
}

// Has reports whether daemon is instantiated.
func (g *Gateway) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.daemons[name]

	return ok
}

// CacheKey returns the key of the cached response of command on daemon with params:
// daemon_command_md5(params with sorted keys).
func CacheKey(daemon, command string, params interface{}) (string, error) {
	b, err := canonical.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cannot encode params: %w", err)
	}

	sum := md5.Sum(b) //nolint:gosec // cache keys only

	return daemon + "_" + command + "_" + hex.EncodeToString(sum[:]), nil
}

// Exec executes command with params on daemon.
func (g *Gateway) Exec(ctx context.Context, name, command string, params interface{}, o Options) (interface{}, error) {
	g.mu.RLock()
	d, ok := g.daemons[name]
	g.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDaemon, name)
	}

	if o.Log {
		d.log.Info("request", zap.String("address", d.conf.Address), zap.String("command", command),
			zap.Any("params", params))
	}

	var key string

	if o.Cache {
		var err error
		if key, err = CacheKey(name, command, params); err != nil {
			return nil, err
		}

		if res, ok := g.load(key); ok {
			g.metrics.hit(name)

			if o.Log {
				d.log.Info("result", zap.String("command", command), zap.Bool("cached", true), zap.Any("result", res))
			}

			return res, nil
		}
	}

	res, err := g.call(ctx, d, command, params)
	g.metrics.call(name, err)

	if err != nil {
		ue := Classify(name, command, err, g.nodes)
		g.metrics.failure(ue.Classification)

		if !o.SkipErrorTracking {
			g.gc.Reporter.ReportOnce(ue.Classification)
		}

		if o.Log {
			d.log.Error("error", zap.String("command", command), zap.Stringer("classification", ue.Classification),
				zap.Error(err))
		}

		return nil, ue
	}

	if o.Log {
		d.log.Info("result", zap.String("command", command), zap.Any("result", res))
	}

	if o.Cache && res != nil && g.gc.Rules.Pass(name, command, res) {
		g.save(key, res)
	}

	return res, nil
}

func (g *Gateway) call(ctx context.Context, d *daemon, command string, params interface{}) (interface{}, error) {
	if d.lim != nil {
		if err := d.lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return d.c.Call(ctx, command, params)
}

func (g *Gateway) load(key string) (interface{}, bool) {
	data, err := g.gc.Cache.Load(key)
	if err != nil {
		if !errors.Is(err, store.ErrDataNotFound) {
			g.log.Error("cannot load cached response", zap.String("key", key), zap.Error(err))
		}

		return nil, false
	}

	var res interface{}
	if err = canonical.Unmarshal(data, &res); err != nil {
		g.log.Error("invalid cached response", zap.String("key", key), zap.Error(err))

		return nil, false
	}

	return res, true
}

func (g *Gateway) save(key string, res interface{}) {
	data, err := canonical.Marshal(res)
	if err == nil {
		err = g.gc.Cache.Save(key, data)
	}

	if err != nil {
		g.log.Error("cannot cache response", zap.String("key", key), zap.Error(err))
	}
}
