// Package block defines the interface of the blockchain layers: the operations the services need from a
// blockchain, executed through the RPC gateway.
package block

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarancss/chainkit/lib/block/counterparty"
	"github.com/tarancss/chainkit/lib/block/ethereum"
	"github.com/tarancss/chainkit/lib/block/types"
	"github.com/tarancss/chainkit/lib/codec"
)

// Layer is implemented by every blockchain layer.
type Layer interface {
	Kind() types.Kind
	// Daemons returns the daemons the layer calls, the first one being the protocol daemon.
	Daemons() []string

	GetServerState(ctx context.Context, ignoreLastBlock bool) (types.ServerState, error)
	GetBlock(ctx context.Context, hash string) (interface{}, error)
	GetBlockInfo(ctx context.Context, index uint64) (interface{}, error)
	GetRawTransaction(ctx context.Context, hash string, verbose bool) (interface{}, error)
	GetLastTransactions(ctx context.Context) ([]interface{}, error)
	DecodeRawTx(ctx context.Context, raw string) (map[string]interface{}, error)
	// GetAssetInfoFromTx decodes the asset movement of a transaction given by hash, or by raw hex when isHash is
	// false. Malformed transactions are returned with the decoding error.
	GetAssetInfoFromTx(ctx context.Context, tx string, isHash bool) (codec.Result, error)
	GetAssetTxsFromBlocks(ctx context.Context, assets []string, blocks []uint64) ([]codec.Message, error)
	GetBalances(ctx context.Context, assets, wallets []string) ([]types.Balance, error)

	// Send builds the unsigned raw transaction of a transfer.
	Send(ctx context.Context, req types.SendRequest) (string, error)
	SignRawTx(ctx context.Context, raw, key string) (string, error)
	// SendRawTx submits a signed transaction and returns the daemon answer, usually its hash.
	SendRawTx(ctx context.Context, signed string) (string, error)
	TxHash(signed string) (string, error)
	Close()
}

// Kinds of layer
const (
	Counterparty = types.Counterparty
	Ethereum     = types.Ethereum
)

// ErrUnknownLayer is returned for kinds without a layer.
var ErrUnknownLayer = errors.New("unknown blockchain layer")

// ParseKind returns the layer kind named s.
func ParseKind(s string) (types.Kind, error) {
	switch k := types.Kind(s); k {
	case Counterparty, Ethereum:
		return k, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownLayer, s)
}

// New returns the layer of the given kind executing its calls through ex.
func New(kind types.Kind, ex types.Executor, o types.Options) (Layer, error) {
	switch kind {
	case Counterparty:
		return counterparty.New(ex, o), nil
	case Ethereum:
		return ethereum.New(ex, o), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, kind)
}
