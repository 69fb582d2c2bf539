// Package ethereum implements the blockchain layer of ethereum networks. Node commands go to the eth-service
// daemon, transactions are decoded, signed and hashed locally.
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/block/types"
	"github.com/tarancss/chainkit/lib/codec"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/rpc"
)

// Service is the only daemon of the layer.
const Service = "eth-service"

// Ethereum ERC20 token methodID (keccak-256 of the function name and arguments)
const (
	ERC20transfer256     = "a9059cbb" // transfer(address,uint256)
	ERC20transferFrom256 = "23b872dd" // transferFrom(address,address,uint256)
	ERC20transfer        = "6cb927d8" // transfer(address,uint)
	ERC20transferFrom    = "a978501e" // transferFrom(address,address,uint)
)

// TrxPending is the status of transactions decoded from blocks.
const TrxPending uint8 = 0

// Ethereum implements the ethereum blockchain layer.
type Ethereum struct {
	ex      types.Executor
	o       types.Options
	chainID *big.Int
	log     *zap.Logger
}

// New returns the layer. Transactions are signed for o.ChainID, mainnet when not set.
func New(ex types.Executor, o types.Options) *Ethereum {
	if o.Native == "" {
		o.Native = "ETH"
	}

	if o.ChainID <= 0 {
		o.ChainID = 1
	}

	return &Ethereum{ex: ex, o: o, chainID: big.NewInt(o.ChainID), log: logging.OrNop(o.Log).Named("ethereum")}
}

func (e *Ethereum) Kind() types.Kind { return types.Ethereum }

func (e *Ethereum) Daemons() []string { return []string{Service} }

func (e *Ethereum) Close() {}

func (e *Ethereum) exec(ctx context.Context, command string, params interface{}) (interface{}, error) {
	return e.ex.Exec(ctx, Service, command, params, rpc.Options{Log: e.o.LogCalls})
}

// GetServerState always reports block 0: the eth-service daemon has no running info command.
func (e *Ethereum) GetServerState(context.Context, bool) (types.ServerState, error) {
	return types.ServerState{Raw: map[string]interface{}{"last_block": 0}}, nil
}

// GetBlock returns the block the eth-service daemon answers for hash.
func (e *Ethereum) GetBlock(ctx context.Context, hash string) (interface{}, error) {
	return e.exec(ctx, "getBlock", map[string]interface{}{"blockNumber": hash})
}

// GetBlockInfo returns the block at index decoded as a types.Block.
func (e *Ethereum) GetBlockInfo(ctx context.Context, index uint64) (interface{}, error) {
	res, err := e.exec(ctx, "getBlock", map[string]interface{}{"blockNumber": index})
	if err != nil {
		return nil, err
	}

	b, err := DecodeBlock(res)
	if err != nil {
		return nil, err
	}

	if b.Tx, err = DecodeTxs(res); err != nil {
		return nil, err
	}

	return b, nil
}

func (e *Ethereum) GetRawTransaction(context.Context, string, bool) (interface{}, error) {
	return map[string]interface{}{}, nil
}

func (e *Ethereum) GetLastTransactions(context.Context) ([]interface{}, error) {
	return []interface{}{}, nil
}

// DecodeRawTx decodes a binary encoded transaction. The sender is included when the transaction is signed.
func (e *Ethereum) DecodeRawTx(_ context.Context, raw string) (map[string]interface{}, error) {
	tx, err := unmarshalTx(raw)
	if err != nil {
		return nil, err
	}

	m := map[string]interface{}{
		"hash":     tx.Hash().Hex(),
		"type":     tx.Type(),
		"nonce":    tx.Nonce(),
		"gas":      tx.Gas(),
		"gasPrice": tx.GasPrice().String(),
		"value":    tx.Value().String(),
		"input":    hexutil.Encode(tx.Data()),
	}

	if to := tx.To(); to != nil {
		m["to"] = to.Hex()
	}

	if from, ok := e.sender(tx); ok {
		m["from"] = from
	}

	return m, nil
}

// GetAssetInfoFromTx decodes a raw transaction. ERC20 transfers are protocol transactions of the token contract,
// anything else is a transfer of the native currency. Transaction hashes are not supported.
func (e *Ethereum) GetAssetInfoFromTx(_ context.Context, tx string, isHash bool) (codec.Result, error) {
	if isHash {
		return codec.Result{}, fmt.Errorf("%w: asset info from transaction hash", types.ErrNotSupported)
	}

	t, err := unmarshalTx(tx)
	if err != nil {
		r := codec.Result{Outcome: codec.Malformed, Err: err}

		return r, err
	}

	src, _ := e.sender(t)

	var dst string
	if t.To() != nil {
		dst = t.To().Hex()
	}

	if tr, ok := parseTransfer(hexutil.Encode(t.Data())); ok && dst != "" {
		if tr.From == "" {
			tr.From = src
		}

		qty, _ := new(big.Int).SetString(strings.TrimPrefix(tr.Value, "0x"), 16)
		if qty == nil {
			qty = new(big.Int)
		}

		return codec.Result{Outcome: codec.Decoded, Tx: codec.DecodedTransaction{
			Source:      tr.From,
			Destination: tr.To,
			Asset:       dst,
			Quantity:    qty,
			Type:        codec.Send,
		}}, nil
	}

	return codec.Result{Outcome: codec.NotProtocol, Tx: codec.DecodedTransaction{
		Source:      src,
		Destination: dst,
		Asset:       e.o.Native,
		Quantity:    new(big.Int).Set(t.Value()),
		Type:        codec.Send,
	}}, nil
}

func (e *Ethereum) GetAssetTxsFromBlocks(context.Context, []string, []uint64) ([]codec.Message, error) {
	return nil, types.ErrNotSupported
}

func (e *Ethereum) GetBalances(context.Context, []string, []string) ([]types.Balance, error) {
	return []types.Balance{}, nil
}

// Send asks eth-service for the unsigned transaction of a transfer.
func (e *Ethereum) Send(ctx context.Context, req types.SendRequest) (string, error) {
	if req.Quantity == nil || req.Quantity.Sign() <= 0 {
		return "", fmt.Errorf("invalid quantity %v", req.Quantity)
	}

	return e.execString(ctx, "createSendTx",
		[]interface{}{req.Source, req.Destination, req.Asset, req.Quantity.String()})
}

// SignRawTx signs a binary encoded transaction with the hex private key and returns it binary encoded.
func (e *Ethereum) SignRawTx(_ context.Context, raw, key string) (string, error) {
	tx, err := unmarshalTx(raw)
	if err != nil {
		return "", err
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(key, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(e.chainID), pk)
	if err != nil {
		return "", fmt.Errorf("cannot sign transaction: %w", err)
	}

	b, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("cannot encode transaction: %w", err)
	}

	return hexutil.Encode(b), nil
}

// SendRawTx submits a signed transaction through eth-service.
func (e *Ethereum) SendRawTx(ctx context.Context, signed string) (string, error) {
	return e.execString(ctx, "sendTx", []interface{}{signed})
}

// TxHash returns the keccak-256 hash of a signed transaction.
func (e *Ethereum) TxHash(signed string) (string, error) {
	tx, err := unmarshalTx(signed)
	if err != nil {
		return "", err
	}

	return tx.Hash().Hex(), nil
}

func (e *Ethereum) sender(tx *ethtypes.Transaction) (string, bool) {
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(e.chainID), tx)
	if err != nil {
		return "", false
	}

	return from.Hex(), true
}

func (e *Ethereum) execString(ctx context.Context, command string, params interface{}) (string, error) {
	res, err := e.exec(ctx, command, params)
	if err != nil {
		return "", err
	}

	s, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s answered %T", types.ErrUnexpectedResponse, command, res)
	}

	return s, nil
}

func unmarshalTx(raw string) (*ethtypes.Transaction, error) {
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}

	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrUnsupportedEncoding, err)
	}

	tx := new(ethtypes.Transaction)
	if err = tx.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrUnsupportedEncoding, err)
	}

	return tx, nil
}

// transfer is an ERC20 transfer read from a transaction input. From is empty for transfer calls.
type transfer struct {
	From, To, Value string
}

// parseTransfer reads the ERC20 transfer or transferFrom call encoded in input. Values keep an even number of hex
// digits with the leading zeroes trimmed.
func parseTransfer(input string) (transfer, bool) {
	if len(input) <= 10 {
		return transfer{}, false
	}

	var tr transfer

	switch input[2:10] {
	case ERC20transfer, ERC20transfer256:
		if len(input) < 138 {
			return transfer{}, false
		}
		// addresses come after 24 padded 0s
		tr.To = common.HexToAddress(input[10+24 : 74]).Hex()
		tr.Value = trimValue(input[74:138])
	case ERC20transferFrom, ERC20transferFrom256:
		if len(input) < 202 {
			return transfer{}, false
		}
		tr.From = common.HexToAddress(input[10+24 : 74]).Hex()
		tr.To = common.HexToAddress(input[74+24 : 138]).Hex()
		tr.Value = trimValue(input[138:202])
	default:
		return transfer{}, false
	}

	return tr, true
}

func trimValue(v string) string {
	j := 0
	for j < len(v) && v[j] == '0' {
		j++
	}

	if j%2 == 1 {
		j--
	}

	return "0x" + v[j:]
}

// DecodeBlock returns a struct with the values from the block data, without transactions.
func DecodeBlock(t interface{}) (b types.Block, err error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		return b, types.ErrBlockDecode
	}

	if b.Hash, ok = m["hash"].(string); !ok {
		return b, types.ErrNoHash
	}

	if b.PHash, ok = m["parentHash"].(string); !ok {
		return b, types.ErrNoParentHash
	}

	if b.Number, ok = m["number"].(string); !ok {
		return b, types.ErrNoBlockNumber
	}

	if b.TS, ok = m["timestamp"].(string); !ok {
		return b, types.ErrNoTS
	}

	return b, nil
}

// DecodeTxs returns the transactions of the block data. Contract creations are returned with their hash only.
func DecodeTxs(t interface{}) ([]types.Trans, error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		return nil, types.ErrNoTrx
	}

	list, ok := m["transactions"].([]interface{})
	if !ok {
		return nil, types.ErrNoTrx
	}

	txs := make([]types.Trans, len(list))

	for i, item := range list {
		switch tx := item.(type) {
		case string:
			txs[i].Hash = tx // only transaction hashes
		case map[string]interface{}:
			if err := decodeTx(tx, &txs[i]); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: transaction %d is %T", types.ErrBlockDecode, i, item)
		}
	}

	return txs, nil
}

func decodeTx(obj map[string]interface{}, tx *types.Trans) error {
	var ok bool

	if tx.Block, ok = obj["blockNumber"].(string); !ok {
		return types.ErrNoBlockNumber
	}

	if tx.Hash, ok = obj["hash"].(string); !ok {
		return types.ErrNoTrxHash
	}

	if tx.To, ok = obj["to"].(string); !ok {
		return nil // contract creation
	}

	input, ok := obj["input"].(string)
	if !ok {
		return types.ErrNoTrxInput
	}

	if from, ok := obj["from"].(string); ok {
		tx.From = from
	} else {
		return types.ErrNoTrxFrom
	}

	if len(input) > 10 && isTransferMethod(input[2:10]) {
		tr, ok := parseTransfer(input)
		if !ok {
			return types.ErrTrxWrongLen
		}

		// the token is the contract called
		tx.Token = tx.To
		tx.To, tx.Value = strings.ToLower(tr.To), tr.Value

		if tr.From != "" {
			tx.From = strings.ToLower(tr.From)
		}
	} else {
		if tx.Value, ok = obj["value"].(string); !ok {
			return types.ErrNoTrxValue
		}

		tx.Data = input
	}

	if tx.Gas, ok = obj["gas"].(string); !ok {
		return types.ErrNoTrxGasUsed
	}

	price, ok := obj["gasPrice"].(string)
	if !ok {
		return types.ErrNoTrxGasPrice
	}

	var err error
	if tx.Price, err = strconv.ParseUint(price, 0, 64); err != nil {
		return fmt.Errorf("%w: %v", types.ErrNoTrxGasPrice, err)
	}

	tx.Status = TrxPending // known from the receipt only

	return nil
}

func isTransferMethod(id string) bool {
	switch id {
	case ERC20transfer, ERC20transfer256, ERC20transferFrom, ERC20transferFrom256:
		return true
	}

	return false
}
