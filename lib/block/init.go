package block

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/block/types"
	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/rpc"
	"github.com/tarancss/chainkit/lib/rpc/jsonrpc"
	"github.com/tarancss/chainkit/lib/store"
)

// Init resolves the service set of the configured network and returns its layer and the gateway the layer executes
// its calls through. The gateway counters are registered in reg when given.
func Init(ctx context.Context, conf config.ServiceConfig, cache store.Cache, reg prometheus.Registerer,
	log *zap.Logger) (Layer, *rpc.Gateway, error) {
	kind, err := ParseKind(conf.Layer)
	if err != nil {
		return nil, nil, err
	}

	var checker rpc.HealthChecker = rpc.AlwaysHealthy{}
	if conf.RPC.CheckServices {
		checker = rpc.NewHTTPChecker(conf.RPC, log)
	}

	gw := rpc.NewGateway(rpc.GatewayConfig{
		Resolver:   rpc.NewResolver(cache, checker, conf.RPC.CheckInterval(), conf.RPC.Concurrency, log),
		Candidates: conf.Services,
		CacheKey:   conf.CacheKey(),
		Cache:      cache,
		Dial: rpc.JSONRPCDialer(jsonrpc.Options{
			ConnectTimeout: conf.RPC.ConnectTimeout(),
			CallTimeout:    conf.RPC.CallTimeout(),
		}),
		Log:        log,
		Registerer: reg,
		RateLimit:  conf.RPC.RateLimit,
		Burst:      conf.RPC.Burst,
	})

	if err = gw.Connect(ctx, conf.RPC.CheckServices); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", conf.Network, err)
	}

	l, err := New(kind, gw, types.Options{
		Native:         conf.NativeAsset,
		ChainID:        conf.ChainID,
		BlockBatch:     conf.RPC.BlockBatch,
		Concurrency:    conf.RPC.Concurrency,
		LastBlockTries: conf.RPC.LastBlockTries,
		LastBlockWait:  conf.RPC.LastBlockWait(),
		LogCalls:       strings.EqualFold(conf.LogLevel, "debug"),
		Log:            log,
	})
	if err != nil {
		return nil, nil, err
	}

	return l, gw, nil
}
