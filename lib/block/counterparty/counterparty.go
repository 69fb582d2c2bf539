// Package counterparty implements the blockchain layer of Counterparty over bitcoin: protocol commands go to
// counterpartyd and raw transaction commands to bitcoind.
package counterparty

import (
	"context"
	"encoding/hex"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/chainkit/lib/block/types"
	"github.com/tarancss/chainkit/lib/codec"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/rpc"
	"github.com/tarancss/chainkit/lib/util"
)

// Daemons
const (
	Counterpartyd = "counterpartyd"
	Bitcoind      = "bitcoind"
)

// LastBlockWait is the default wait between server state queries.
const LastBlockWait = time.Second

var errNoLastBlock = errors.New("last block not known yet")

// Counterparty implements the Counterparty blockchain layer.
type Counterparty struct {
	ex  types.Executor
	o   types.Options
	log *zap.Logger
}

// New returns the layer and registers its cache rules in the executor.
func New(ex types.Executor, o types.Options) *Counterparty {
	if o.Native == "" {
		o.Native = "BTC"
	}

	if o.BlockBatch <= 0 {
		o.BlockBatch = 10
	}

	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}

	if o.LastBlockTries <= 0 {
		o.LastBlockTries = 1
	}

	if o.LastBlockWait <= 0 {
		o.LastBlockWait = LastBlockWait
	}

	ex.Rules().Add(Bitcoind, "getrawtransaction", Confirmed)

	return &Counterparty{ex: ex, o: o, log: logging.OrNop(o.Log).Named("counterparty")}
}

// Confirmed accepts verbose raw transactions with at least one confirmation.
func Confirmed(response interface{}) bool {
	m, ok := response.(map[string]interface{})
	if !ok {
		return false
	}

	n, ok := m["confirmations"].(stdjson.Number)
	if !ok {
		return false
	}

	c, err := n.Int64()

	return err == nil && c > 0
}

func (c *Counterparty) Kind() types.Kind { return types.Counterparty }

func (c *Counterparty) Daemons() []string { return []string{Counterpartyd, Bitcoind} }

func (c *Counterparty) Close() {}

func (c *Counterparty) exec(ctx context.Context, daemon, command string, params interface{},
	cache bool) (interface{}, error) {
	return c.ex.Exec(ctx, daemon, command, params, rpc.Options{Log: c.o.LogCalls, Cache: cache})
}

// report offers the classified failure err to the reporter of the executor, when it has one.
func (c *Counterparty) report(err error) {
	var ue *rpc.UpstreamError

	r, ok := c.ex.(interface{ ReportOnce(rpc.Classification) bool })
	if ok && errors.As(err, &ue) {
		r.ReportOnce(ue.Classification)
	}
}

// GetServerState queries get_running_info until the last block is known, unless ignoreLastBlock is set.
func (c *Counterparty) GetServerState(ctx context.Context, ignoreLastBlock bool) (types.ServerState, error) {
	var state types.ServerState

	op := func() error {
		res, err := c.exec(ctx, Counterpartyd, "get_running_info", map[string]interface{}{}, false)
		if err != nil {
			return backoff.Permanent(err)
		}

		raw, ok := res.(map[string]interface{})
		if !ok {
			return backoff.Permanent(fmt.Errorf("%w: get_running_info answered %T", types.ErrUnexpectedResponse, res))
		}

		state = types.ServerState{Raw: raw}

		lb, known := lastBlock(raw["last_block"])
		if !known && !ignoreLastBlock {
			return errNoLastBlock
		}

		state.LastBlock = lb

		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.o.LastBlockWait),
		uint64(c.o.LastBlockTries-1)), ctx)

	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, errNoLastBlock) {
			return state, types.ErrLastBlockUnavailable
		}

		return state, err
	}

	return state, nil
}

// lastBlock reads the last block index from a {block_index: n} object or a plain number.
func lastBlock(v interface{}) (uint64, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		v = m["block_index"]
	}

	n, ok := v.(stdjson.Number)
	if !ok {
		return 0, false
	}

	i, err := strconv.ParseUint(n.String(), 10, 64)

	return i, err == nil
}

// GetBlock returns the bitcoind block of hash.
func (c *Counterparty) GetBlock(ctx context.Context, hash string) (interface{}, error) {
	return c.exec(ctx, Bitcoind, "getblock", []interface{}{hash}, true)
}

// GetBlockInfo returns the counterpartyd information of a block.
func (c *Counterparty) GetBlockInfo(ctx context.Context, index uint64) (interface{}, error) {
	return c.exec(ctx, Counterpartyd, "get_block_info", map[string]interface{}{"block_index": index}, true)
}

// GetRawTransaction returns the raw hex of a transaction, or its decoded form when verbose is set. Only confirmed
// verbose answers are cached.
func (c *Counterparty) GetRawTransaction(ctx context.Context, hash string, verbose bool) (interface{}, error) {
	v := 0
	if verbose {
		v = 1
	}

	return c.exec(ctx, Bitcoind, "getrawtransaction", []interface{}{hash, v}, true)
}

// GetLastTransactions returns the protocol transactions in the mempool.
func (c *Counterparty) GetLastTransactions(ctx context.Context) ([]interface{}, error) {
	res, err := c.exec(ctx, Counterpartyd, "get_mempool", map[string]interface{}{}, false)
	if err != nil {
		return nil, err
	}

	list, _ := res.([]interface{})

	return list, nil
}

// DecodeRawTx decodes a raw transaction with bitcoind.
func (c *Counterparty) DecodeRawTx(ctx context.Context, raw string) (map[string]interface{}, error) {
	res, err := c.exec(ctx, Bitcoind, "decoderawtransaction", []interface{}{raw}, true)
	if err != nil {
		return nil, err
	}

	m, ok := res.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: decoderawtransaction answered %T", types.ErrUnexpectedResponse, res)
	}

	return m, nil
}

// GetAssetInfoFromTx decodes a transaction with get_tx_info. Transactions counterpartyd rejects with HTTP 500 are not
// protocol transactions: they are decoded as plain transfers of the native currency.
func (c *Counterparty) GetAssetInfoFromTx(ctx context.Context, tx string, isHash bool) (codec.Result, error) {
	raw := tx

	if isHash {
		res, err := c.GetRawTransaction(ctx, tx, true)
		if err != nil {
			return codec.Result{}, err
		}

		m, _ := res.(map[string]interface{})
		if raw, _ = m["hex"].(string); raw == "" {
			return codec.Result{}, fmt.Errorf("%w: transaction %s has no hex", types.ErrUnexpectedResponse, tx)
		}
	}

	// HTTP 500 is the answer to every non-protocol transaction, so only other failures are reported
	res, err := c.ex.Exec(ctx, Counterpartyd, "get_tx_info", map[string]interface{}{"tx_hex": raw},
		rpc.Options{Log: c.o.LogCalls, Cache: true, SkipErrorTracking: true})
	if err != nil {
		if !rpc.HasHTTPStatus(err, http.StatusInternalServerError) {
			c.report(err)

			return codec.Result{}, err
		}

		decoded, derr := c.DecodeRawTx(ctx, raw)
		if derr != nil {
			return codec.Result{}, derr
		}

		r := codec.FromPlainTransfer(decoded, c.o.Native)

		return r, r.Err
	}

	info, _ := res.([]interface{})
	r := codec.FromTxInfo(info)

	return r, r.Err
}

// GetAssetTxsFromBlocks fetches blocks in batches, concurrently, and returns the messages about assets.
func (c *Counterparty) GetAssetTxsFromBlocks(ctx context.Context, assets []string,
	blocks []uint64) ([]codec.Message, error) {
	chunks := util.Chunks(len(blocks), c.o.BlockBatch)
	results := make([][]interface{}, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.o.Concurrency)

	for i, ch := range chunks {
		indexes := blocks[ch[0]:ch[1]]

		g.Go(func() error {
			res, err := c.exec(gctx, Counterpartyd, "get_blocks", map[string]interface{}{"block_indexes": indexes}, true)
			if err != nil {
				return err
			}

			results[i], _ = res.([]interface{})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []interface{}
	for _, r := range results {
		all = append(all, r...)
	}

	return codec.FilterBlocks(all, assets), nil
}

// GetBalances returns the balances of wallets in assets. Empty lists do not filter.
func (c *Counterparty) GetBalances(ctx context.Context, assets, wallets []string) ([]types.Balance, error) {
	filters := []interface{}{}
	if len(wallets) > 0 {
		filters = append(filters, map[string]interface{}{"field": "address", "op": "IN", "value": wallets})
	}

	if len(assets) > 0 {
		filters = append(filters, map[string]interface{}{"field": "asset", "op": "IN", "value": assets})
	}

	res, err := c.exec(ctx, Counterpartyd, "get_balances", map[string]interface{}{"filters": filters}, false)
	if err != nil {
		return nil, err
	}

	list, _ := res.([]interface{})
	bals := make([]types.Balance, 0, len(list))

	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		b := types.Balance{Quantity: new(big.Int)}
		b.Address, _ = m["address"].(string)
		b.Asset, _ = m["asset"].(string)

		if n, ok := m["quantity"].(stdjson.Number); ok {
			if q, ok := new(big.Int).SetString(n.String(), 10); ok {
				b.Quantity = q
			}
		}

		bals = append(bals, b)
	}

	return bals, nil
}

// Send builds the raw transaction of an asset transfer with create_send.
func (c *Counterparty) Send(ctx context.Context, req types.SendRequest) (string, error) {
	if _, err := codec.EncodeAsset(req.Asset); err != nil {
		return "", err
	}

	if req.Quantity == nil || req.Quantity.Sign() <= 0 {
		return "", fmt.Errorf("invalid quantity %v", req.Quantity)
	}

	params := map[string]interface{}{
		"source":      req.Source,
		"destination": req.Destination,
		"asset":       req.Asset,
		"quantity":    req.Quantity,
	}

	if len(req.PubKeys) > 0 {
		params["pubkey"] = req.PubKeys
	}

	return c.execString(ctx, Counterpartyd, "create_send", params)
}

// SignRawTx signs raw with the WIF private key using bitcoind.
func (c *Counterparty) SignRawTx(ctx context.Context, raw, key string) (string, error) {
	res, err := c.exec(ctx, Bitcoind, "signrawtransactionwithkey", []interface{}{raw, []string{key}}, false)
	if err != nil {
		return "", err
	}

	m, _ := res.(map[string]interface{})
	signed, _ := m["hex"].(string)

	if complete, _ := m["complete"].(bool); !complete || signed == "" {
		return "", types.ErrIncompleteSignature
	}

	return signed, nil
}

// SendRawTx submits a signed transaction to bitcoind and returns its hash.
func (c *Counterparty) SendRawTx(ctx context.Context, signed string) (string, error) {
	return c.execString(ctx, Bitcoind, "sendrawtransaction", []interface{}{signed})
}

// TxHash returns the id of a signed transaction: its double SHA-256 in reversed byte order.
func (c *Counterparty) TxHash(signed string) (string, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(signed, "0x"))
	if err != nil || len(b) == 0 {
		return "", fmt.Errorf("%w: invalid signed transaction", codec.ErrUnsupportedEncoding)
	}

	return chainhash.DoubleHashH(b).String(), nil
}

func (c *Counterparty) execString(ctx context.Context, daemon, command string, params interface{}) (string, error) {
	res, err := c.exec(ctx, daemon, command, params, false)
	if err != nil {
		return "", err
	}

	s, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s answered %T", types.ErrUnexpectedResponse, command, res)
	}

	return s, nil
}
