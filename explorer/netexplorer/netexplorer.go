// Package netexplorer keeps the scan state of one network: the last block scanned and the assets tracked.
package netexplorer

import (
	"errors"
	"sort"
	"sync"

	"github.com/tarancss/chainkit/lib/store"
)

// Status possible values, control whether a NetExplorer is working or is/has to stop
const (
	WORK int = 0
	STOP int = 1
)

// NetExplorer contains the fields and data structures required to manage the exploring of a network.
type NetExplorer struct {
	l      sync.Mutex // guards every field
	status int
	Block  uint64              // last block scanned, 0 before the first scan
	Msgs   uint64              // messages published
	Assets map[string]struct{} // assets tracked
}

// New loads the scan state of net from the store and tracks the assets registered in the store plus the given ones.
func New(net string, c store.Cache, assets []string) (*NetExplorer, error) {
	ne := &NetExplorer{status: WORK, Assets: make(map[string]struct{})}

	s, err := store.LoadExplorer(c, net)
	switch {
	case err == nil:
		ne.FromStore(s)
	case errors.Is(err, store.ErrDataNotFound):
		// not scanned yet
	default:
		return nil, err
	}

	listened, err := store.ListenedAssets(c, net)
	if err != nil {
		return nil, err
	}

	for _, a := range append(listened, assets...) {
		ne.Assets[a] = struct{}{}
	}

	return ne, nil
}

// Next returns the indexes of the blocks to scan up to last, max at a time.
func (n *NetExplorer) Next(last uint64, max int) []uint64 {
	n.l.Lock()
	defer n.l.Unlock()

	var blocks []uint64
	for b := n.Block + 1; b <= last && len(blocks) < max; b++ {
		blocks = append(blocks, b)
	}

	return blocks
}

// Advance records block as scanned with msgs messages published.
func (n *NetExplorer) Advance(block uint64, msgs int) {
	n.l.Lock()
	defer n.l.Unlock()

	if block > n.Block {
		n.Block = block
	}

	n.Msgs += uint64(msgs)
}

// StartAt sets the last block scanned when nothing was scanned yet, and reports whether it did.
func (n *NetExplorer) StartAt(block uint64) bool {
	n.l.Lock()
	defer n.l.Unlock()

	if n.Block != 0 {
		return false
	}

	n.Block = block

	return true
}

// Add tracks an asset. It returns false when it was already tracked.
func (n *NetExplorer) Add(asset string) bool {
	n.l.Lock()
	defer n.l.Unlock()

	if _, ok := n.Assets[asset]; ok {
		return false
	}

	n.Assets[asset] = struct{}{}

	return true
}

// Del stops tracking an asset. It returns false when it was not tracked.
func (n *NetExplorer) Del(asset string) bool {
	n.l.Lock()
	defer n.l.Unlock()

	_, ok := n.Assets[asset]
	delete(n.Assets, asset)

	return ok
}

// Tracked returns the assets tracked, sorted.
func (n *NetExplorer) Tracked() []string {
	n.l.Lock()
	defer n.l.Unlock()

	assets := make([]string, 0, len(n.Assets))
	for a := range n.Assets {
		assets = append(assets, a)
	}

	sort.Strings(assets)

	return assets
}

// ToStore returns a store.NetExplorer struct to be saved to store
func (n *NetExplorer) ToStore() store.NetExplorer {
	assets := n.Tracked()

	n.l.Lock()
	defer n.l.Unlock()

	return store.NetExplorer{Block: n.Block, Assets: assets, Msgs: n.Msgs}
}

// FromStore loads the NetExplorer with the values read from store
func (n *NetExplorer) FromStore(s store.NetExplorer) {
	n.l.Lock()
	defer n.l.Unlock()

	n.Block = s.Block
	n.Msgs = s.Msgs

	for _, a := range s.Assets {
		n.Assets[a] = struct{}{}
	}
}

// Stop sets status to STOP
func (n *NetExplorer) Stop() {
	n.l.Lock()
	n.status = STOP
	n.l.Unlock()
}

// Start sets status to WORK
func (n *NetExplorer) Start() {
	n.l.Lock()
	n.status = WORK
	n.l.Unlock()
}

// Status returns the current NetExplorer status
func (n *NetExplorer) Status() int {
	n.l.Lock()
	defer n.l.Unlock()

	return n.status
}
