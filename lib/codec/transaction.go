package codec

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// DecodedTransaction is the asset movement carried by a transaction.
type DecodedTransaction struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Asset       string   `json:"asset"`
	Quantity    *big.Int `json:"quantity"`
	Type        TxType   `json:"type"`
}

// Outcome tells how a transaction was decoded.
type Outcome int

const (
	// Decoded is a protocol transaction.
	Decoded Outcome = iota
	// NotProtocol is a plain native currency transfer, decoded from the transaction outputs.
	NotProtocol
	// Malformed could not be decoded. Err tells why.
	Malformed
)

func (o Outcome) String() string {
	return [...]string{"decoded", "not-protocol", "malformed"}[o]
}

// Result is the outcome of decoding one transaction.
type Result struct {
	Outcome Outcome
	Tx      DecodedTransaction
	Err     error
}

func malformed(err error) Result {
	return Result{Outcome: Malformed, Err: err}
}

// FromTxInfo decodes the answer of the protocol daemon get_tx_info command:
// [source, destination, btc_amount, fee, data].
func FromTxInfo(info []interface{}) Result {
	if len(info) < 5 { //nolint:gomnd // tx info fields
		return malformed(fmt.Errorf("%w: tx info has %d fields", ErrUnsupportedEncoding, len(info)))
	}

	data, ok := info[4].(string)
	if !ok {
		return malformed(fmt.Errorf("%w: tx info data is %T", ErrUnsupportedEncoding, info[4]))
	}

	p, err := DecodePayload(data)
	if err != nil {
		return malformed(err)
	}

	src, _ := info[0].(string)
	dst, _ := info[1].(string)

	return Result{Outcome: Decoded, Tx: DecodedTransaction{
		Source:      src,
		Destination: dst,
		Asset:       p.Asset,
		Quantity:    p.Quantity,
		Type:        p.Type,
	}}
}

// FromPlainTransfer decodes a node decoded transaction (decoderawtransaction) as a transfer of the native
// currency. The first pay-to-address or multisig output is the destination and the next one with a different
// address is the source. The quantity is not computed and stays 0.
func FromPlainTransfer(decoded map[string]interface{}, native string) Result {
	vouts, ok := decoded["vout"].([]interface{})
	if !ok {
		return malformed(fmt.Errorf("%w: decoded transaction has no outputs", ErrUnsupportedEncoding))
	}

	var src, dst string

	for _, v := range vouts {
		out, _ := v.(map[string]interface{})
		spk, _ := out["scriptPubKey"].(map[string]interface{})

		if t, _ := spk["type"].(string); t != "pubkeyhash" && t != "multisig" {
			continue
		}

		addr := outputAddress(spk)

		switch {
		case addr == "":
		case dst == "":
			dst = addr
		case src == "" && addr != dst:
			src = addr
		}
	}

	return Result{Outcome: NotProtocol, Tx: DecodedTransaction{
		Source:      src,
		Destination: dst,
		Asset:       native,
		Quantity:    new(big.Int),
		Type:        Send,
	}}
}

// outputAddress renders the addresses of a script. Several addresses are written as N_addr1_..._addrN_N.
func outputAddress(spk map[string]interface{}) string {
	var addrs []string

	if list, ok := spk["addresses"].([]interface{}); ok {
		for _, a := range list {
			if s, ok := a.(string); ok && s != "" {
				addrs = append(addrs, s)
			}
		}
	} else if s, ok := spk["address"].(string); ok && s != "" {
		addrs = append(addrs, s)
	}

	switch len(addrs) {
	case 0:
		return ""
	case 1:
		return addrs[0]
	}

	n := strconv.Itoa(len(addrs))

	return n + "_" + strings.Join(addrs, "_") + "_" + n
}
