package codec

import (
	stdjson "encoding/json"
	"math/big"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/tarancss/chainkit/lib/util"
)

// numbers keeps JSON numbers as json.Number so 64-bit quantities are not rounded.
var numbers = jsoniter.Config{UseNumber: true}.Froze()

// Message is a protocol message selected from a block.
type Message struct {
	Category   string                 `json:"category"`
	Command    string                 `json:"command"`
	Asset      string                 `json:"asset"`
	BlockIndex uint64                 `json:"block_index"`
	Bindings   map[string]interface{} `json:"bindings"`
	Envelope   map[string]interface{} `json:"envelope"` // message as received
}

// FilterBlocks returns the messages of blocks (as answered by get_blocks) that concern any of assets, in block and
// message order. Malformed blocks and messages are skipped.
func FilterBlocks(blocks []interface{}, assets []string) []Message {
	var msgs []Message

	for _, b := range blocks {
		block, ok := b.(map[string]interface{})
		if !ok {
			continue
		}

		blockIndex := toUint64(block["block_index"])
		list, _ := block["_messages"].([]interface{})

		for _, m := range list {
			env, ok := m.(map[string]interface{})
			if !ok {
				continue
			}

			bindings := parseBindings(env["bindings"])
			if bindings == nil {
				continue
			}

			msg := Message{
				Bindings:   bindings,
				Envelope:   env,
				BlockIndex: blockIndex,
			}
			msg.Category, _ = env["category"].(string)
			msg.Command, _ = env["command"].(string)

			if bi, ok := env["block_index"]; ok {
				msg.BlockIndex = toUint64(bi)
			}

			if asset, ok := selects(msg.Category, msg.Command, bindings, assets); ok {
				msg.Asset = asset
				msgs = append(msgs, msg)
			}
		}
	}

	return msgs
}

// selects applies the inclusion rule of the message category and returns the asset the message is about.
func selects(category, command string, b map[string]interface{}, assets []string) (string, bool) {
	str := func(k string) (string, bool) {
		s, ok := b[k].(string)

		return s, ok
	}

	switch category {
	case "order_matches":
		if fwd, ok := str("forward_asset"); ok && util.In(assets, fwd) {
			return fwd, true
		}

		if bwd, ok := str("backward_asset"); ok && util.In(assets, bwd) {
			return bwd, true
		}

		return "", command == "update"
	case "orders":
		give, ok := str("give_asset")
		if command == "insert" && ok && !util.In(assets, give) {
			return "", false
		}

		return give, true
	case "dividends":
		_, hasQty := b["quantity_per_unit"]
		status, _ := str("status")
		asset, ok := str("dividend_asset")

		return asset, hasQty && status == "valid" && ok && util.In(assets, asset)
	}

	asset, ok := str("asset")

	return asset, ok && util.In(assets, asset)
}

// parseBindings accepts bindings as a JSON string or an already decoded object. It returns nil for empty or
// non-object bindings.
func parseBindings(v interface{}) map[string]interface{} {
	var b map[string]interface{}

	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}

		var parsed interface{}
		if err := numbers.UnmarshalFromString(t, &parsed); err != nil {
			return nil
		}

		b, _ = parsed.(map[string]interface{})
	case map[string]interface{}:
		b = make(map[string]interface{}, len(t))
		for k, val := range t {
			b[k] = val
		}
	}

	if len(b) == 0 {
		return nil
	}

	for k, val := range b {
		if strings.Contains(k, "quantity") {
			if q, ok := toBigInt(val); ok {
				b[k] = q
			}
		}
	}

	return b
}

func toBigInt(v interface{}) (*big.Int, bool) {
	switch t := v.(type) {
	case stdjson.Number:
		return new(big.Int).SetString(t.String(), 10)
	case float64:
		if t == float64(int64(t)) {
			return big.NewInt(int64(t)), true
		}
	case int64:
		return big.NewInt(t), true
	case *big.Int:
		return t, true
	}

	return nil, false
}

func toUint64(v interface{}) uint64 {
	switch t := v.(type) {
	case stdjson.Number:
		n, _ := strconv.ParseUint(t.String(), 10, 64)

		return n
	case float64:
		return uint64(t)
	case string:
		n, _ := strconv.ParseUint(t, 10, 64)

		return n
	}

	return 0
}
