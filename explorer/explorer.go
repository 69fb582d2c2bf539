// Package explorer implements the asset explorer microservice. The explorer scans the protocol messages of mined
// blocks and publishes events for the messages about tracked assets. It also decodes transactions on request.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	ne "github.com/tarancss/chainkit/explorer/netexplorer"
	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/block/types"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/msg"
	"github.com/tarancss/chainkit/lib/store"
)

// Options of the explorer.
type Options struct {
	Assets []string      // assets tracked besides the ones registered in the store
	Batch  int           // blocks scanned at a time
	Wait   time.Duration // wait for new blocks or assets
}

// Explorer implements an explorer service.
type Explorer struct {
	cache store.Cache
	bc    map[string]block.Layer     // blockchain layer per network
	nem   map[string]*ne.NetExplorer // map of net explorers
	mb    msg.MsgBroker
	o     Options
	log   *zap.Logger
}

// New instantiates a new explorer service.
func New(cache store.Cache, mb msg.MsgBroker, bc map[string]block.Layer, o Options, log *zap.Logger) *Explorer {
	if o.Batch <= 0 {
		o.Batch = 10
	}

	if o.Wait <= 0 {
		o.Wait = 10 * time.Second
	}

	return &Explorer{
		cache: cache,
		bc:    bc,
		nem:   make(map[string]*ne.NetExplorer),
		mb:    mb,
		o:     o,
		log:   logging.OrNop(log).Named("explorer"),
	}
}

// Explore starts a go routine for each network available. The exploration of each network is controlled by a
// NetExplorer (see package explorer/netexplorer for details) holding the assets tracked and the last block scanned.
// The explorer consumes requests to track assets and decode transactions. In case of graceful termination, the
// explorer waits for the blocks being scanned and their events to be sent.
func (e *Explorer) Explore(ctx context.Context) chan string {
	ret := make(chan string, 1)
	// channel to wait for chain explorers
	w := make(chan string, len(e.bc))
	started := 0

	for net := range e.bc {
		var err error
		if e.nem[net], err = ne.New(net, e.cache, e.o.Assets); err != nil {
			e.log.Error("cannot load net explorer", zap.String("net", net), zap.Error(err))

			continue
		}
		// pending requests are processed before the first scan
		if err = e.ManageRequests(ctx, net); err != nil {
			e.log.Error("cannot consume requests", zap.String("net", net), zap.Error(err))

			continue
		}

		e.ExploreChain(ctx, net, w)
		started++
	}
	// routine to wait for all chains to complete exploring...
	go func() {
		for i := 1; i <= started; i++ {
			e.log.Info("explorer returned", zap.Int("n", i), zap.Int("of", started), zap.String("ret", <-w))
		}
		ret <- "Done!"
	}()

	return ret
}

// StopExplorer will send termination signals to all network explorer go routines.
func (e *Explorer) StopExplorer() {
	for _, nexp := range e.nem {
		nexp.Stop()
	}
}

// ExploreChain starts a network explorer go routine for the network named net. When the routine ends, returns its
// error status via the ret channel given so the calling routine can control graceful termination. When a network
// does not track any asset, the explorer keeps waiting and does not scan any block.
func (e *Explorer) ExploreChain(ctx context.Context, net string, ret chan string) {
	nexp := e.nem[net]
	log := e.log.With(zap.String("net", net))

	log.Info("exploring", zap.Uint64("block", nexp.Block))

	go func() {
		var err error

		defer func() {
			errSave := store.SaveExplorer(e.cache, net, nexp.ToStore())
			ret <- fmt.Sprintf("[%s] Done! err:%v err2:%v", net, err, errSave)
		}()

		for nexp.Status() == ne.WORK && ctx.Err() == nil {
			var scanned int
			if scanned, err = e.scan(ctx, net); err != nil {
				if errors.Is(err, types.ErrNotSupported) {
					log.Error("layer cannot scan blocks", zap.Error(err))
					nexp.Stop()

					return
				}

				log.Error("scan failed", zap.Error(err))
			}

			if scanned == 0 && !sleep(ctx, e.o.Wait) {
				return
			}
		}
	}()
}

// scan scans the next batch of blocks of net, publishes the messages found and saves the progress. It returns the
// number of blocks scanned.
func (e *Explorer) scan(ctx context.Context, net string) (int, error) {
	nexp := e.nem[net]
	layer := e.bc[net]

	assets := nexp.Tracked()
	if len(assets) == 0 {
		return 0, nil
	}

	state, err := layer.GetServerState(ctx, false)
	if err != nil {
		return 0, err
	}
	// the first scan starts at the current block
	if nexp.StartAt(state.LastBlock) {
		e.log.Info("starting at last block", zap.String("net", net), zap.Uint64("block", state.LastBlock))
	}

	blocks := nexp.Next(state.LastBlock, e.o.Batch)
	if len(blocks) == 0 {
		return 0, nil
	}

	msgs, err := layer.GetAssetTxsFromBlocks(ctx, assets, blocks)
	if err != nil {
		return 0, err
	}

	if len(msgs) > 0 {
		evs := make([]msg.Event, len(msgs))
		for i := range msgs {
			evs[i] = msg.Event{Net: net, Type: msg.MESSAGE, Message: &msgs[i]}
		}

		if err = e.mb.SendEvents(net, evs); err != nil {
			return 0, fmt.Errorf("cannot send events: %w", err)
		}

		e.log.Info("events sent", zap.String("net", net), zap.Int("msgs", len(msgs)),
			zap.Uint64("from", blocks[0]), zap.Uint64("to", blocks[len(blocks)-1]))
	}

	nexp.Advance(blocks[len(blocks)-1], len(msgs))

	if err = store.SaveExplorer(e.cache, net, nexp.ToStore()); err != nil {
		return len(blocks), fmt.Errorf("cannot save explorer: %w", err)
	}

	return len(blocks), nil
}

// ManageRequests starts a go routine to receive and manage the requests for the network net: tracking assets and
// decoding transactions.
func (e *Explorer) ManageRequests(ctx context.Context, net string) error {
	mut := new(sync.Mutex)
	mut.Lock()

	reqCh, errCh, err := e.mb.GetReqs(net, mut)
	if err != nil {
		return fmt.Errorf("explorer: cannot get requests: %w", err)
	}

	log := e.log.With(zap.String("net", net))

	go func() {
		log.Info("start listening to request channel")

		for {
			select {
			case req, ok := <-reqCh:
				if !ok {
					log.Info("stop listening to request channel")

					return
				}

				e.handle(ctx, net, req)
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

func (e *Explorer) handle(ctx context.Context, net string, req msg.Request) {
	log := e.log.With(zap.String("net", net), zap.Any("request", req))
	nexp := e.nem[net]

	if req.Net != net || (req.Type != msg.ASSET && req.Type != msg.TX && req.Type != msg.EXIT) ||
		(req.Type != msg.EXIT && (req.Obj == "" || (req.Act != msg.LISTEN && req.Act != msg.UNLISTEN))) {
		log.Warn("invalid request")

		return
	}

	switch req.Type {
	case msg.EXIT:
		log.Info("exit requested")
		nexp.Stop()
	case msg.ASSET:
		if req.Act == msg.LISTEN {
			if _, err := store.AddAsset(e.cache, net, req.Obj); err != nil {
				log.Error("cannot save asset", zap.Error(err))
			}

			nexp.Add(req.Obj)
			log.Info("asset tracked", zap.Strings("assets", nexp.Tracked()))

			return
		}

		if !nexp.Del(req.Obj) {
			log.Warn("asset was not tracked")
		}

		if err := store.RemoveAsset(e.cache, net, req.Obj); err != nil && !errors.Is(err, store.ErrDataNotFound) {
			log.Error("cannot remove asset", zap.Error(err))
		}

		log.Info("asset untracked", zap.Strings("assets", nexp.Tracked()))
	case msg.TX:
		r, err := e.bc[net].GetAssetInfoFromTx(ctx, req.Obj, true)
		if err != nil {
			log.Error("cannot decode transaction", zap.Error(err))

			return
		}

		ev := msg.Event{Net: net, Type: msg.TRANS, Hash: req.Obj, Tx: &r.Tx}
		if err = e.mb.SendEvents(net, []msg.Event{ev}); err != nil {
			log.Error("cannot send event", zap.Error(err))
		}
	}
}

// sleep waits for d or until ctx is done, and reports whether it waited.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
