// Package api implements the REST API microservice.
//
// The API exposes the operations of the blockchain layers to clients: server state, transaction decoding, asset
// messages of blocks, balances and transfers. Transfers are built by the layer and published to the broadcaster
// service through the message broker. Clients can also request the explorer service to track assets and read the
// latest events published for each network.
package api

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tarancss/hd"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/msg"
)

// events kept per network
const maxEvents = 100

// API contains the data necessary to deliver the service
type API struct {
	bc  map[string]block.Layer // blockchain layers per network
	hd  *hd.HdWallet           // HD wallet, nil when no seed is configured
	hdM sync.Mutex
	mb  msg.MsgBroker
	reg *prometheus.Registry
	log *zap.Logger

	mu     sync.RWMutex
	events map[string][]msg.Event // latest events per network

	srv *servers
}

// New returns a new API service. reg is the registry served at /metrics, a new one when nil.
func New(mb msg.MsgBroker, bc map[string]block.Layer, hdw *hd.HdWallet, reg *prometheus.Registry,
	log *zap.Logger) *API {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &API{
		bc:     bc,
		hd:     hdw,
		mb:     mb,
		reg:    reg,
		log:    logging.OrNop(log).Named("api"),
		events: make(map[string][]msg.Event),
	}
}

// Stop shuts down the http servers and closes the message broker and the blockchain layers.
func (a *API) Stop(ctx context.Context) {
	a.shutdown(ctx)

	if err := a.mb.Close(); err != nil {
		a.log.Error("cannot close message broker", zap.Error(err))
	}

	for _, l := range a.bc {
		l.Close()
	}
}

// ManageEvents starts go routines to consume the events published by the explorer and broadcaster services. The
// latest events of each network are kept for the clients.
func (a *API) ManageEvents(ctx context.Context) error {
	for net := range a.bc {
		mut := new(sync.Mutex)
		mut.Lock()

		eveCh, errCh, err := a.mb.GetEvents(net, mut)
		if err != nil {
			return err
		}

		go a.consume(ctx, net, eveCh, errCh, mut)
	}

	return nil
}

func (a *API) consume(ctx context.Context, net string, eveCh <-chan msg.Event, errCh <-chan error, mut *sync.Mutex) {
	log := a.log.With(zap.String("net", net))
	log.Info("start listening to event channel")

	for {
		select {
		case ev, ok := <-eveCh:
			if !ok {
				log.Info("stop listening to event channel")

				return
			}

			log.Debug("received event", zap.String("type", ev.Type), zap.String("key", ev.Key()))
			a.keep(net, ev)
			mut.Unlock()
		case err, ok := <-errCh:
			if !ok {
				return
			}

			log.Error("received error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

func (a *API) keep(net string, ev msg.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	evs := append(a.events[net], ev)
	if len(evs) > maxEvents {
		evs = evs[len(evs)-maxEvents:]
	}

	a.events[net] = evs
}

// Events returns the latest events received for net, oldest first.
func (a *API) Events(net string) []msg.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return append([]msg.Event{}, a.events[net]...)
}
