// Package codec decodes the Counterparty transaction protocol: asset identifiers, transaction payloads and the
// messages carried by blocks. Everything in this package is pure; no I/O is performed.
package codec

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	assetHexLen  = 16 // 8 bytes
	maxNameChars = 12
)

var (
	base26 = big.NewInt(26)
	// namedLimit is the first value rendered as a numeric asset (26^12).
	namedLimit = new(big.Int).Exp(base26, big.NewInt(maxNameChars), nil)
	maxAssetID = new(big.Int).SetUint64(^uint64(0))
)

// Errors returned
var (
	ErrUnsupportedEncoding    = errors.New("unsupported payload encoding")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
	ErrInvalidAsset           = errors.New("invalid asset name")
)

// DecodeAssetID decodes the 8-byte hex asset field of a payload into its asset name.
func DecodeAssetID(raw string) (string, error) {
	if len(raw) != assetHexLen {
		return "", fmt.Errorf("%w: asset id %q", ErrUnsupportedEncoding, raw)
	}

	n, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return "", fmt.Errorf("%w: asset id %q", ErrUnsupportedEncoding, raw)
	}

	return AssetName(n), nil
}

// AssetName renders an asset id. Values below 26^12 are named assets written in base 26 with the letters A-Z,
// larger values are numeric assets written as "A" followed by the decimal value.
func AssetName(id *big.Int) string {
	if id.Sign() < 0 {
		return ""
	}

	if id.Cmp(namedLimit) >= 0 {
		return "A" + id.String()
	}

	n := new(big.Int).Set(id)
	m := new(big.Int)

	var b []byte
	for {
		n.DivMod(n, base26, m)
		b = append(b, alphabet[m.Int64()])

		if n.Sign() == 0 {
			break
		}
	}

	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}

	return string(b)
}

// EncodeAsset returns the asset id of a named or numeric asset. Names with a leading "A" other than "A" itself are
// rejected because they never result from decoding.
func EncodeAsset(name string) (*big.Int, error) {
	if name == "" {
		return nil, ErrInvalidAsset
	}

	if len(name) > 1 && name[0] == 'A' && isDigits(name[1:]) {
		n, ok := new(big.Int).SetString(name[1:], 10)
		if !ok || n.Cmp(namedLimit) < 0 || n.Cmp(maxAssetID) > 0 || name[1] == '0' {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, name)
		}

		return n, nil
	}

	if len(name) > maxNameChars || (len(name) > 1 && name[0] == 'A') {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, name)
	}

	n := new(big.Int)
	for _, c := range name {
		i := strings.IndexRune(alphabet, c)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, name)
		}

		n.Mul(n, base26).Add(n, big.NewInt(int64(i)))
	}

	return n, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}
