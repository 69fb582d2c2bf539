// Package types common blockchain layer types.
package types

import (
	"context"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/rpc"
)

// Kind names a blockchain layer.
type Kind string

// Kinds of layer
const (
	Counterparty Kind = "counterparty"
	Ethereum     Kind = "ethereum"
)

// Executor executes commands on the daemons of a layer. It is implemented by *rpc.Gateway.
type Executor interface {
	Exec(ctx context.Context, daemon, command string, params interface{}, o rpc.Options) (interface{}, error)
	Rules() *rpc.Rules
}

// Options configure a layer.
type Options struct {
	Native         string        // native currency (BTC, ETH)
	ChainID        int64         // ethereum chain id used to sign
	BlockBatch     int           // blocks per get_blocks call
	Concurrency    int           // concurrent get_blocks calls
	LastBlockTries int           // server state queries before giving up on the last block
	LastBlockWait  time.Duration // wait between server state queries
	LogCalls       bool          // log every RPC request and result
	Log            *zap.Logger
}

// ServerState is the state reported by the protocol daemon.
type ServerState struct {
	LastBlock uint64                 `json:"last_block"`
	Raw       map[string]interface{} `json:"raw,omitempty"`
}

// Balance of an asset held by an address.
type Balance struct {
	Address  string   `json:"address"`
	Asset    string   `json:"asset"`
	Quantity *big.Int `json:"quantity"`
}

// SendRequest describes an asset transfer to build.
type SendRequest struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Asset       string   `json:"asset"`
	Quantity    *big.Int `json:"quantity"`
	PubKeys     []string `json:"pubkeys,omitempty"`
}

// Block contains a simplified list of block fields.
type Block struct {
	Hash   string  `json:"hash"`
	PHash  string  `json:"parentHash"`
	Number string  `json:"number"`
	TS     string  `json:"timestamp"`
	Tx     []Trans `json:"transactions"`
}

// Trans contains a simplified number of transaction fields, one transfer from `From` to `To`.
type Trans struct {
	Block  string `json:"block"`
	Hash   string `json:"hash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token,omitempty"`
	Value  string `json:"value"`
	Data   string `json:"data,omitempty"`
	Gas    string `json:"gas"`
	Price  uint64 `json:"price"`
	Status uint8  `json:"status"`
}

// Error codes.
var (
	ErrLastBlockUnavailable = errors.New("blockchain: cannot get last block info")
	ErrNotSupported         = errors.New("method is not supported")
	ErrIncompleteSignature  = errors.New("transaction signature is incomplete")
	ErrUnexpectedResponse   = errors.New("unexpected daemon response")

	ErrBlockDecode   = errors.New("unable to decode block data into Block type")
	ErrNoBlockNumber = errors.New("block data does not contain a block number")
	ErrNoTS          = errors.New("block data does not contain a timestamp")
	ErrNoHash        = errors.New("block data does not contain a hash")
	ErrNoParentHash  = errors.New("block data does not contain a parenthash")
	ErrNoTrx         = errors.New("transaction not found")
	ErrNoTrxHash     = errors.New("malformed tx data in block, field 'hash' missing")
	ErrNoTrxInput    = errors.New("malformed tx data in block, field 'input' missing")
	ErrNoTrxValue    = errors.New("malformed tx data in block, field 'value' missing")
	ErrNoTrxFrom     = errors.New("malformed tx data in block, field 'from' missing")
	ErrTrxWrongLen   = errors.New("malformed tx data in block, field 'input' has wrong length for ERC20.Transfer")
	ErrNoTrxGasUsed  = errors.New("malformed tx data in block, field 'gas' missing")
	ErrNoTrxGasPrice = errors.New("malformed tx data in block, field 'gasPrice' missing")
)
