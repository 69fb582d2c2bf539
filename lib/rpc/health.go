package rpc

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/rpc/jsonrpc"
)

// HealthChecker tells whether a service set is alive.
type HealthChecker interface {
	Check(ctx context.Context, set config.ServiceSet) bool
}

// HTTPChecker queries the status address of the status daemon of a set. A set without the status daemon cannot be
// verified and is accepted.
type HTTPChecker struct {
	StatusDaemon string
	StatusKey    string
	Timeout      time.Duration
	Log          *zap.Logger
}

// NewHTTPChecker returns a checker from the RPC configuration.
func NewHTTPChecker(c config.RPCConfig, log *zap.Logger) *HTTPChecker {
	return &HTTPChecker{
		StatusDaemon: c.StatusDaemon,
		StatusKey:    c.StatusKey,
		Timeout:      c.HealthTimeout(),
		Log:          logging.OrNop(log).Named("check-servers"),
	}
}

func (h *HTTPChecker) Check(ctx context.Context, set config.ServiceSet) bool {
	log := logging.OrNop(h.Log)

	d, ok := set[h.StatusDaemon]
	if !ok {
		log.Info("SKIP: no status daemon in service set", zap.String("daemon", h.StatusDaemon))

		return true
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second //nolint:gomnd // default health timeout
	}

	status, body, err := jsonrpc.Get(ctx, d.Address, timeout)
	if err != nil || status != fasthttp.StatusOK {
		log.Warn("ERROR: status daemon is DOWN, skipping", zap.String("address", d.Address),
			zap.Int("status", status), zap.Error(err))

		return false
	}

	var state map[string]interface{}
	if err = jsoniter.Unmarshal(body, &state); err != nil || state[h.StatusKey] != "OK" {
		log.Warn("ERROR: status daemon is not OK, skipping", zap.String("address", d.Address),
			zap.ByteString("state", body))

		return false
	}

	log.Info("OK: status daemon is UP and RUNNING", zap.String("address", d.Address))

	return true
}

// AlwaysHealthy accepts every set.
type AlwaysHealthy struct{}

func (AlwaysHealthy) Check(context.Context, config.ServiceSet) bool { return true }
