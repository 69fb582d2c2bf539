// Package broadcaster implements the broadcaster microservice. The broadcaster consumes the broadcast requests of the
// message broker, signs and submits the transactions through the broadcast queue of their network and publishes the
// outcome of every request as an event.
package broadcaster

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tarancss/hd"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/msg"
	"github.com/tarancss/chainkit/lib/queue"
)

// Outcome statuses
const (
	OK     = "ok"
	FAILED = "failed"
)

// ErrNoHD is the outcome of requests signed by an HD wallet address when the broadcaster has no HD wallet.
var ErrNoHD = errors.New("HD wallet not configured")

// Queue broadcasts the transactions of one network.
type Queue interface {
	Broadcast(ctx context.Context, raw, key string) (queue.QueuedTransaction, error)
}

// Broadcaster implements the broadcaster service.
type Broadcaster struct {
	qs  map[string]Queue // broadcast queue per network
	mb  msg.MsgBroker
	hd  *hd.HdWallet // signs requests selecting an HD wallet address, may be nil
	hdM sync.Mutex
	log *zap.Logger

	done *prometheus.CounterVec
	wg   sync.WaitGroup
}

// New instantiates a broadcaster service. The outcome counter is registered in reg when given.
func New(mb msg.MsgBroker, qs map[string]Queue, hdw *hd.HdWallet, reg prometheus.Registerer,
	log *zap.Logger,
) *Broadcaster {
	b := &Broadcaster{
		qs:  qs,
		mb:  mb,
		hd:  hdw,
		log: logging.OrNop(log).Named("broadcaster"),
		done: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainkit",
			Subsystem: "broadcaster",
			Name:      "broadcasts_total",
			Help:      "Broadcast requests processed by network and status.",
		}, []string{"net", "status"}),
	}

	if reg != nil {
		reg.MustRegister(b.done)
	}

	return b
}

// Start consumes the broadcast requests of every network until ctx is done. Use Wait to wait for the requests being
// processed.
func (b *Broadcaster) Start(ctx context.Context) error {
	for net := range b.qs {
		if err := b.ManageBroadcasts(ctx, net); err != nil {
			return err
		}
	}

	return nil
}

// Wait blocks until the consumers started have returned.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// ManageBroadcasts starts a go routine to receive and process the broadcast requests of the network net. A request
// is acknowledged once its outcome has been published.
func (b *Broadcaster) ManageBroadcasts(ctx context.Context, net string) error {
	mut := new(sync.Mutex)
	mut.Lock()

	reqCh, errCh, err := b.mb.GetBroadcasts(net, mut)
	if err != nil {
		return fmt.Errorf("broadcaster: cannot get broadcasts: %w", err)
	}

	log := b.log.With(zap.String("net", net))

	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		log.Info("start listening to broadcast channel")

		for {
			select {
			case req, ok := <-reqCh:
				if !ok {
					log.Info("stop listening to broadcast channel")

					return
				}

				ev := b.handle(ctx, net, req)
				if err := b.mb.SendEvents(net, []msg.Event{ev}); err != nil {
					log.Error("cannot send outcome", zap.String("id", req.ID), zap.Error(err))
				}

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
	}()

	return nil
}

// handle broadcasts req and returns its outcome event. A transaction broadcast whose archive fails still carries
// its hash.
func (b *Broadcaster) handle(ctx context.Context, net string, req msg.BroadcastReq) msg.Event {
	out := &msg.Outcome{ID: req.ID, Status: OK}
	ev := msg.Event{Net: net, Type: msg.BROADCAST, Outcome: out}

	q, ok := b.qs[net]

	switch {
	case req.Net != net || !ok:
		out.Status, out.Error = FAILED, "unknown network "+req.Net
	case req.Raw == "":
		out.Status, out.Error = FAILED, "empty transaction"
	default:
		key, err := b.key(req.HD)
		if err != nil {
			out.Status, out.Error = FAILED, err.Error()

			break
		}

		qt, err := q.Broadcast(ctx, req.Raw, key)
		out.Hash = qt.Hash
		ev.Hash = qt.Hash

		if err != nil {
			out.Status, out.Error = FAILED, err.Error()
		}

		b.log.Info("broadcast", zap.String("net", net), zap.String("id", req.ID), zap.String("hash", qt.Hash),
			zap.Stringer("status", qt.Status), zap.Error(err))
	}

	b.done.WithLabelValues(net, out.Status).Inc()

	return ev
}

// key returns the hex encoded private key of the HD wallet address k, or an empty key when k is nil.
func (b *Broadcaster) key(k *msg.HDKey) (string, error) {
	if k == nil {
		return "", nil
	}

	if b.hd == nil {
		return "", ErrNoHD
	}

	b.hdM.Lock()
	defer b.hdM.Unlock()

	_, key, _, err := b.hd.Address(k.Wallet, k.Change, k.ID)
	if err != nil {
		return "", fmt.Errorf("cannot derive HD key: %w", err)
	}

	return hex.EncodeToString(key), nil
}
