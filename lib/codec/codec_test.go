package codec

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"
)

func TestAssetName(t *testing.T) {
	cases := []struct {
		raw  string
		name string
	}{
		{"0000000000000000", "A"},
		{"0000000000000001", "B"},
		{"0000000000000019", "Z"},
		{"000000000000001a", "BA"},
		{"000000000000001b", "BB"},
		{"00000000000174a4", "FLDC"},
		{"0000001c61620c4b", "PEPECASH"},
		{"01530821671b0fff", "ZZZZZZZZZZZZ"},
		{"01530821671b1000", "A95428956661682176"},
		{"ffffffffffffffff", "A18446744073709551615"},
	}
	for _, c := range cases {
		got, err := DecodeAssetID(c.raw)
		if err != nil || got != c.name {
			t.Errorf("DecodeAssetID(%s) = %s, %v; want %s", c.raw, got, err, c.name)
		}
	}

	for _, raw := range []string{"", "00", "000000000000000g", "00000000000000000"} {
		if _, err := DecodeAssetID(raw); !errors.Is(err, ErrUnsupportedEncoding) {
			t.Errorf("DecodeAssetID(%q) expected ErrUnsupportedEncoding, got %v", raw, err)
		}
	}
}

func TestAssetRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	values := []*big.Int{big.NewInt(0), big.NewInt(25), big.NewInt(26), new(big.Int).Sub(namedLimit, big.NewInt(1))}
	for i := 0; i < 1000; i++ {
		values = append(values, new(big.Int).Rand(r, namedLimit))
	}

	for _, n := range values {
		name := AssetName(n)
		if len(name) < 1 || len(name) > 12 || isDigits(name[1:]) && len(name) > 1 {
			t.Fatalf("AssetName(%s) = %s is not a named asset", n, name)
		}
		back, err := EncodeAsset(name)
		if err != nil || back.Cmp(n) != 0 {
			t.Fatalf("EncodeAsset(%s) = %v, %v; want %s", name, back, err, n)
		}
	}

	for i := 0; i < 100; i++ {
		n := new(big.Int).Add(namedLimit, new(big.Int).Rand(r, new(big.Int).Sub(maxAssetID, namedLimit)))
		name := AssetName(n)
		if name != "A"+n.String() {
			t.Fatalf("AssetName(%s) = %s", n, name)
		}
		back, err := EncodeAsset(name)
		if err != nil || back.Cmp(n) != 0 {
			t.Fatalf("EncodeAsset(%s) = %v, %v", name, back, err)
		}
	}
}

func TestEncodeAssetInvalid(t *testing.T) {
	for _, name := range []string{"", "AB", "abc", "XCP1", "ABCDEFGHIJKLMN", "A100", "A018446744073709551615",
		"A18446744073709551616", "BCDEFGHIJKLMN"} {
		if _, err := EncodeAsset(name); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("EncodeAsset(%q) expected ErrInvalidAsset, got %v", name, err)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	cases := []struct {
		data  string
		typ   TxType
		asset string
		qty   string
	}{
		{"000000000000001c61620c4b0000000005f5e100", Send, "PEPECASH", "100000000"},
		{"0x000000000000001c61620c4b0000000005f5e100", Send, "PEPECASH", "100000000"},
		{"0000001400000000000174a4ffffffffffffffff", Issuance, "FLDC", "18446744073709551615"},
		{"0000000001530821671b1000000000000000000a00ff", Send, "A95428956661682176", "10"},
	}
	for _, c := range cases {
		p, err := DecodePayload(c.data)
		if err != nil {
			t.Errorf("DecodePayload(%s): %v", c.data, err)
			continue
		}
		if p.Type != c.typ || p.Asset != c.asset || p.Quantity.String() != c.qty {
			t.Errorf("DecodePayload(%s) = %v %s %s", c.data, p.Type, p.Asset, p.Quantity)
		}
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	for _, code := range []string{"00000001", "00000032", "ffffffff", "00000015"} {
		_, err := DecodePayload(code + "0000000000000001" + "0000000000000001")
		var ute *UnknownTypeError
		if !errors.Is(err, ErrUnknownTransactionType) || !errors.As(err, &ute) {
			t.Errorf("code %s: expected UnknownTypeError, got %v", code, err)
		}
	}

	for _, data := range []string{"", "0x", "00000000", "00000000zz00000000000001000000000000000a"} {
		if _, err := DecodePayload(data); !errors.Is(err, ErrUnsupportedEncoding) {
			t.Errorf("DecodePayload(%q) expected ErrUnsupportedEncoding, got %v", data, err)
		}
	}
}

func TestFromTxInfo(t *testing.T) {
	info := []interface{}{"1Src", "1Dst", 5430, 10000, "000000000000001c61620c4b0000000005f5e100"}
	r := FromTxInfo(info)
	if r.Outcome != Decoded || r.Tx.Source != "1Src" || r.Tx.Destination != "1Dst" || r.Tx.Asset != "PEPECASH" ||
		r.Tx.Quantity.Int64() != 100000000 || r.Tx.Type != Send {
		t.Errorf("unexpected result %+v", r)
	}

	cases := [][]interface{}{
		nil,
		{"a", "b", 0, 0},
		{"a", "b", 0, 0, 12},
		{"a", "b", 0, 0, "00000032000000000000000100000000000000001"},
	}
	for i, c := range cases {
		if r := FromTxInfo(c); r.Outcome != Malformed || r.Err == nil {
			t.Errorf("case %d: expected malformed, got %+v", i, r)
		}
	}
}

func TestFromPlainTransfer(t *testing.T) {
	out := func(typ string, addrs ...interface{}) interface{} {
		return map[string]interface{}{"scriptPubKey": map[string]interface{}{"type": typ, "addresses": addrs}}
	}
	decoded := map[string]interface{}{"vout": []interface{}{
		out("nulldata"),
		out("pubkeyhash", "1Dst"),
		out("pubkeyhash", "1Dst"),
		out("multisig", "1A", "1B"),
		out("pubkeyhash", "1Last"),
		map[string]interface{}{"scriptPubKey": map[string]interface{}{"type": "pubkeyhash", "address": "1Other"}},
	}}

	r := FromPlainTransfer(decoded, "BTC")
	if r.Outcome != NotProtocol {
		t.Fatalf("unexpected outcome %v", r.Outcome)
	}
	if r.Tx.Destination != "1Dst" || r.Tx.Source != "2_1A_1B_2" || r.Tx.Asset != "BTC" ||
		r.Tx.Quantity.Sign() != 0 || r.Tx.Type != Send {
		t.Errorf("unexpected tx %+v", r.Tx)
	}

	single := map[string]interface{}{"vout": []interface{}{
		map[string]interface{}{"scriptPubKey": map[string]interface{}{"type": "pubkeyhash", "address": "1Only"}},
	}}
	if r = FromPlainTransfer(single, "BTC"); r.Tx.Destination != "1Only" || r.Tx.Source != "" {
		t.Errorf("unexpected tx %+v", r.Tx)
	}

	if r = FromPlainTransfer(map[string]interface{}{}, "BTC"); r.Outcome != Malformed {
		t.Errorf("expected malformed, got %v", r.Outcome)
	}
}
