package codec

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// TxType is the command type code of a protocol payload.
type TxType uint32

// Known transaction types. Dividend payloads are not decoded: their asset field is ambiguous.
const (
	Send     TxType = 0
	Issuance TxType = 20
	Dividend TxType = 50
)

func (t TxType) String() string {
	switch t {
	case Send:
		return "send"
	case Issuance:
		return "issuance"
	case Dividend:
		return "dividend"
	}

	return "type(" + strconv.FormatUint(uint64(t), 10) + ")"
}

// UnknownTypeError is returned for payloads whose type code is not decoded.
type UnknownTypeError struct {
	Code uint32
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown transaction type %d", e.Code)
}

// Is makes errors.Is(err, ErrUnknownTransactionType) hold.
func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownTransactionType
}

// Payload is a decoded protocol payload.
type Payload struct {
	Type     TxType
	AssetID  *big.Int
	Asset    string
	Quantity *big.Int
}

const (
	typeHexLen     = 8
	quantityHexLen = 16
	payloadHexLen  = typeHexLen + assetHexLen + quantityHexLen
)

// DecodePayload decodes the hex data of a protocol transaction: a 4-byte type, an 8-byte asset id and an 8-byte
// quantity, all big-endian. A 0x prefix is accepted and bytes after the quantity are ignored.
func DecodePayload(data string) (Payload, error) {
	data = strings.TrimPrefix(strings.TrimPrefix(data, "0x"), "0X")
	if len(data) < payloadHexLen {
		return Payload{}, fmt.Errorf("%w: payload too short (%d hex digits)", ErrUnsupportedEncoding, len(data))
	}

	data = data[:payloadHexLen]
	if _, err := hex.DecodeString(data); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
	}

	code, _ := strconv.ParseUint(data[:typeHexLen], 16, 32)

	t := TxType(code)
	if t != Send && t != Issuance {
		return Payload{}, &UnknownTypeError{Code: uint32(code)}
	}

	id, _ := new(big.Int).SetString(data[typeHexLen:typeHexLen+assetHexLen], 16)
	qty, _ := new(big.Int).SetString(data[typeHexLen+assetHexLen:], 16)

	return Payload{Type: t, AssetID: id, Asset: AssetName(id), Quantity: qty}, nil
}
