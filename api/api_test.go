package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tarancss/hd"

	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/block/types"
	"github.com/tarancss/chainkit/lib/codec"
	"github.com/tarancss/chainkit/lib/msg"
	"github.com/tarancss/chainkit/lib/rpc"
)

const (
	net    = "testnet"
	seed   = "642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24df73e1a2e7056359b6db61e179ff45e5ada51d14f07b30becb6d92b961d35df4"
	hdAddr = "0xf4cefc8d1afaa51d5a5e7f57d214b60429ca4378"
)

// layer answers the operations used by the API. The rest of block.Layer is not implemented.
type layer struct {
	block.Layer

	kind types.Kind
	down bool
}

func (l *layer) Kind() types.Kind { return l.kind }

func (l *layer) GetServerState(_ context.Context, ignore bool) (types.ServerState, error) {
	if l.down {
		return types.ServerState{}, &rpc.UpstreamError{Classification: rpc.Classification{Service: "7d2b", Command: "GRI", Code: -1}}
	}

	if ignore {
		return types.ServerState{}, nil
	}

	return types.ServerState{LastBlock: 800000}, nil
}

func (l *layer) GetAssetInfoFromTx(_ context.Context, tx string, isHash bool) (codec.Result, error) {
	if !isHash && tx == "zz" {
		return codec.Result{Outcome: codec.Malformed, Err: codec.ErrUnsupportedEncoding}, codec.ErrUnsupportedEncoding
	}

	return codec.Result{Outcome: codec.Decoded, Tx: codec.DecodedTransaction{
		Source: "1A", Destination: "1B", Asset: "PEPECASH", Quantity: big.NewInt(1000), Type: codec.Send,
	}}, nil
}

func (l *layer) GetAssetTxsFromBlocks(_ context.Context, assets []string, blocks []uint64) ([]codec.Message, error) {
	msgs := make([]codec.Message, 0, len(blocks))
	for _, b := range blocks {
		msgs = append(msgs, codec.Message{Category: "sends", Command: "insert", Asset: assets[0], BlockIndex: b})
	}

	return msgs, nil
}

func (l *layer) GetBalances(_ context.Context, assets, wallets []string) ([]types.Balance, error) {
	if len(assets) == 0 {
		assets = []string{"XCP", "FLDC"}
	}

	bals := make([]types.Balance, 0, len(assets))
	for _, a := range assets {
		bals = append(bals, types.Balance{Address: wallets[0], Asset: a, Quantity: big.NewInt(5)})
	}

	return bals, nil
}

func (l *layer) Send(_ context.Context, req types.SendRequest) (string, error) {
	return "raw:" + req.Source + ">" + req.Destination + ":" + req.Quantity.String() + req.Asset, nil
}

// broker records the messages published by the API.
type broker struct {
	mu     sync.Mutex
	reqs   []msg.Request
	bcs    []msg.BroadcastReq
	events chan msg.Event
	fail   bool
}

func (b *broker) Setup() error { return nil }
func (b *broker) Close() error { return nil }

func (b *broker) SendRequest(_ string, r msg.Request) error {
	if b.fail {
		return errors.New("broker down")
	}

	b.mu.Lock()
	b.reqs = append(b.reqs, r)
	b.mu.Unlock()

	return nil
}

func (b *broker) SendBroadcast(_ string, r msg.BroadcastReq) error {
	b.mu.Lock()
	b.bcs = append(b.bcs, r)
	b.mu.Unlock()

	return nil
}

func (b *broker) GetEvents(_ string, mut *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	out := make(chan msg.Event)

	go func() {
		for ev := range b.events {
			out <- ev
			mut.Lock()
		}
	}()

	return out, make(chan error), nil
}

func (b *broker) GetReqs(string, *sync.Mutex) (<-chan msg.Request, <-chan error, error) {
	return nil, nil, nil
}

func (b *broker) GetBroadcasts(string, *sync.Mutex) (<-chan msg.BroadcastReq, <-chan error, error) {
	return nil, nil, nil
}

func (b *broker) SendEvents(string, []msg.Event) error { return nil }

func newAPI(t *testing.T, mb *broker) *API {
	t.Helper()

	s, err := hex.DecodeString(seed)
	if err != nil {
		t.Fatal(err)
	}

	hdw, err := hd.Init(s)
	if err != nil {
		t.Fatalf("Error initialising HD wallet:%v", err)
	}

	return New(mb, map[string]block.Layer{
		net: &layer{kind: types.Counterparty}, "eth": &layer{kind: types.Ethereum}, "down": &layer{down: true},
	}, hdw, nil, nil)
}

func makeRequest(t *testing.T, h http.Handler, method, uri, body string) (int, Response) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(method, uri, rd))

	var res Response

	err := json.NewDecoder(bytes.NewReader(rw.Body.Bytes())).Decode(&res)
	if err != nil && rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("cannot decode response %q: %v", rw.Body.String(), err)
	}

	return rw.Code, res
}

// TestAPI runs the API against a fake layer and broker.
func TestAPI(t *testing.T) {
	mb := &broker{}
	h := newAPI(t, mb).Router()

	cases := []struct {
		name   string
		method string
		uri    string
		obj    string
		status int
		errExp string
		body   string // expected body, or a substring of it when prefixed with ~
	}{
		{"home", http.MethodGet, "/", "", http.StatusOK, "", "Hello, this is your blockchain middleware!"},
		{"networks_0", http.MethodGet, "/networks", "", http.StatusOK, "", `["down","eth","testnet"]`},
		{"networks_1", http.MethodPost, "/networks", "", http.StatusMethodNotAllowed, "", ""},
		{"state_0", http.MethodGet, "/state", "", http.StatusBadRequest, ErrMissingNet.Error(), ""},
		{"state_1", http.MethodGet, "/state?net=mainnet", "", http.StatusNotFound, ErrNoNet.Error(), ""},
		{"state_2", http.MethodGet, "/state?net=testnet&net=down", "", http.StatusBadRequest, ErrMissingNet.Error(), ""},
		{"state_3", http.MethodGet, "/state?net=testnet", "", http.StatusOK, "", `{"last_block":800000}`},
		{"state_4", http.MethodGet, "/state?net=testnet&ignore=true", "", http.StatusOK, "", `{"last_block":0}`},
		{"state_5", http.MethodGet, "/state?net=down", "", http.StatusBadGateway, "~GRI", ""},
		{"tx_0", http.MethodGet, "/tx/abcd?net=testnet", "", http.StatusOK, "", `~"outcome":"decoded"`},
		{"tx_1", http.MethodGet, "/tx/abcd?net=testnet", "", http.StatusOK, "", `~"quantity":1000`},
		{"decode_0", http.MethodPost, "/decode?net=testnet", `{"raw":"zz"}`, http.StatusOK, "", `~"outcome":"malformed"`},
		{"decode_1", http.MethodPost, "/decode?net=testnet", `{}`, http.StatusBadRequest, ErrBadRequest.Error(), ""},
		{"blocks_0", http.MethodGet, "/blocks?net=testnet&asset=XCP&from=10&to=11", "", http.StatusOK, "", `~"block_index":11`},
		{"blocks_1", http.MethodGet, "/blocks?net=testnet&asset=XCP&from=11&to=10", "", http.StatusBadRequest, ErrRange.Error(), ""},
		{"blocks_2", http.MethodGet, "/blocks?net=testnet&asset=XCP&from=0&to=1000", "", http.StatusBadRequest, ErrRange.Error(), ""},
		{"blocks_3", http.MethodGet, "/blocks?net=testnet&from=0&to=1", "", http.StatusBadRequest, ErrBadRequest.Error(), ""},
		{"balances_0", http.MethodGet, "/balances/1A?net=testnet&asset=XCP", "", http.StatusOK, "", `[{"address":"1A","asset":"XCP","quantity":5}]`},
		{"balances_1", http.MethodGet, "/balances/1A?net=testnet", "", http.StatusOK, "", `~"asset":"FLDC"`},
		{"address_0", http.MethodGet, "/address?wallet=2&change=external&id=1", "", http.StatusOK, "", hdAddr},
		{"address_1", http.MethodPost, "/address?wallet=2&change=external&id=1", "", http.StatusMethodNotAllowed, "", ""},
		{"address_2", http.MethodGet, "/address?wallet=2&id=1", "", http.StatusBadRequest, ErrBadRequest.Error(), ""},
		{"address_3", http.MethodGet, "/address?wallet=2&change=2&id=1", "", http.StatusBadRequest, ErrChange.Error(), ""},
		{"listen_0", http.MethodPost, "/listen/XCP", "", http.StatusBadRequest, ErrMissingNet.Error(), ""},
		{"listen_1", http.MethodGet, "/listen/XCP?net=testnet", "", http.StatusMethodNotAllowed, "", ""},
		{"listen_2", http.MethodPost, "/listen/XCP?net=testnet", "", http.StatusAccepted, "", ""},
		{"listen_3", http.MethodDelete, "/listen/XCP?net=testnet", "", http.StatusAccepted, "", ""},
		{"txreq_0", http.MethodPost, "/tx/abcd?net=testnet", "", http.StatusAccepted, "", ""},
		{"send_0", http.MethodPut, "/send", "", http.StatusMethodNotAllowed, "", ""},
		{"send_1", http.MethodPost, "/send", `{"net":"mainnet"}`, http.StatusNotFound, ErrNoNet.Error(), ""},
		{"send_2", http.MethodPost, "/send", `{"net":"testnet","quantity":"-1"}`, http.StatusBadRequest, ErrQuantity.Error(), ""},
		{"send_3", http.MethodPost, "/send", `{"net":"testnet","quantity":"1","asset":"XCP"}`, http.StatusBadRequest, ErrBadRequest.Error(), ""},
		{"send_4", http.MethodPost, "/send", `{"net":"testnet","source":"1A","destination":"1B","asset":"XCP","quantity":"10"}`, http.StatusAccepted, "", `~"raw":"raw:1A>1B:10XCP"`},
		{"send_5", http.MethodPost, "/send", `{"net":"eth","hd":{"wallet":2,"change":0,"id":1},"destination":"0xb1","asset":"ETH","quantity":"7"}`, http.StatusAccepted, "", "~" + hdAddr},
		{"send_6", http.MethodPost, "/send", `{"net":"testnet","hd":{"wallet":2,"change":0,"id":1},"destination":"1B","asset":"XCP","quantity":"7"}`, http.StatusNotImplemented, ErrHDLayer.Error(), ""},
		{"send_7", http.MethodPost, "/send", `{"net":"testnet","source":"1A","destination":"1B","asset":"<b>&","quantity":"1"}`, http.StatusAccepted, "", `~"raw":"raw:1A>1B:1<b>&"`},
		{"events_0", http.MethodGet, "/events?net=testnet", "", http.StatusOK, "", "[]"},
	}

	for _, c := range cases {
		s, res := makeRequest(t, h, c.method, c.uri, c.obj)

		switch {
		case s != c.status:
			t.Errorf("[%s] Error in StatusCode:%d expected:%d (%+v)", c.name, s, c.status, res)
		case strings.HasPrefix(c.errExp, "~") && !strings.Contains(res.Error, c.errExp[1:]):
			t.Errorf("[%s] Error in response:%s expected:%s", c.name, res.Error, c.errExp)
		case !strings.HasPrefix(c.errExp, "~") && res.Error != c.errExp:
			t.Errorf("[%s] Error in response:%s expected:%s", c.name, res.Error, c.errExp)
		case strings.HasPrefix(c.body, "~") && !strings.Contains(res.Body, c.body[1:]):
			t.Errorf("[%s] Error in body:%s expected:%s", c.name, res.Body, c.body)
		case !strings.HasPrefix(c.body, "~") && res.Body != c.body:
			t.Errorf("[%s] Error in body:%s expected:%s", c.name, res.Body, c.body)
		}
	}

	// messages published to the explorer and the broadcaster
	if len(mb.reqs) != 3 || mb.reqs[0].Act != msg.LISTEN || mb.reqs[1].Act != msg.UNLISTEN ||
		mb.reqs[2].Type != msg.TX || mb.reqs[2].Obj != "abcd" {
		t.Errorf("unexpected requests %+v", mb.reqs)
	}

	// HD transfers carry the address coordinates, never a key
	hdk := msg.HDKey{Wallet: 2, Change: hd.External, ID: 1}
	if len(mb.bcs) != 3 || mb.bcs[0].HD != nil || mb.bcs[0].ID == "" || mb.bcs[1].HD == nil ||
		*mb.bcs[1].HD != hdk || !strings.HasPrefix(mb.bcs[1].Raw, "raw:"+hdAddr) {
		t.Errorf("unexpected broadcasts %+v", mb.bcs)
	}

	if body, _ := json.Marshal(mb.bcs[1]); strings.Contains(string(body), "key") {
		t.Errorf("broadcast request carries a key: %s", body)
	}
}

func TestDryRun(t *testing.T) {
	mb := &broker{}
	h := newAPI(t, mb).Router()

	DryRun = true
	defer func() { DryRun = false }()

	s, res := makeRequest(t, h, http.MethodPost, "/send",
		`{"net":"testnet","source":"1A","destination":"1B","asset":"XCP","quantity":"10"}`)
	if s != http.StatusOK || strings.Contains(res.Body, `"id"`) || len(mb.bcs) != 0 {
		t.Errorf("transaction broadcast in dry run: %d %+v", s, res)
	}
}

func TestBrokerFailure(t *testing.T) {
	h := newAPI(t, &broker{fail: true}).Router()

	if s, res := makeRequest(t, h, http.MethodPost, "/listen/XCP?net=testnet", ""); s != http.StatusBadRequest ||
		res.Error != "broker down" {
		t.Errorf("unexpected response %d %+v", s, res)
	}
}

// TestManageEvents checks the events consumed are kept per network, up to the last maxEvents.
func TestManageEvents(t *testing.T) {
	mb := &broker{events: make(chan msg.Event)}
	a := New(mb, map[string]block.Layer{net: &layer{}}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.ManageEvents(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < maxEvents+5; i++ {
		mb.events <- msg.Event{Net: net, Type: msg.BROADCAST, Outcome: &msg.Outcome{ID: string(rune('a' + i%26))}}
	}
	// the previous events are kept once the next one is delivered
	mb.events <- msg.Event{Net: net, Type: msg.TRANS, Hash: "last"}
	close(mb.events)

	evs := a.Events(net)
	if len(evs) != maxEvents || evs[0].Type != msg.BROADCAST {
		t.Errorf("unexpected events %d", len(evs))
	}

	h := a.Router()
	if s, res := makeRequest(t, h, http.MethodGet, "/address?wallet=1&change=0&id=0", ""); s != http.StatusBadRequest ||
		res.Error != ErrNoHD.Error() {
		t.Errorf("unexpected response %d %+v", s, res)
	}
}
