package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/tarancss/hd"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/block"
	"github.com/tarancss/chainkit/lib/block/types"
	"github.com/tarancss/chainkit/lib/codec"
	"github.com/tarancss/chainkit/lib/msg"
	"github.com/tarancss/chainkit/lib/rpc"
)

var json = jsoniter.Config{EscapeHTML: false, SortMapKeys: true, ValidateJsonRawMessage: true}.Froze()

// DryRun is a bool used to control sending transactions to the blockchain. When true, the transactions are built and
// returned but not broadcast.
var DryRun = false //nolint:gochecknoglobals // consider adding this to config

// Blocks scanned by a single request.
const maxBlocks = 1000

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrChange     = errors.New("invalid change: has to be either 0 /1 or external / change")
	ErrMissingNet = errors.New("undefined blockchain - missing query: ?net=<blockchain>")
	ErrNoNet      = errors.New("network not available")
	ErrNoHD       = errors.New("HD wallet not configured")
	ErrRange      = fmt.Errorf("invalid block range: from <= to and at most %d blocks", maxBlocks)
	ErrQuantity   = errors.New("invalid quantity")
	ErrHDLayer    = fmt.Errorf("%w: HD wallet transfers on this layer", types.ErrNotSupported)
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// reply writes body as the JSON response, or err with the status it maps to.
func (a *API) reply(rw http.ResponseWriter, r *http.Request, status int, body interface{}, err error) {
	var res Response

	if err != nil {
		res.Error = err.Error()
		status = errStatus(err)
	} else if s, ok := body.(string); ok {
		res.Body = s
	} else {
		tmp, _ := json.Marshal(body)
		res.Body = string(tmp)
	}

	a.log.Info("httpreq", zap.String("from", r.RemoteAddr), zap.String("uri", r.RequestURI),
		zap.Int("status", status), zap.Error(err))

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

func errStatus(err error) int {
	var ue *rpc.UpstreamError

	switch {
	case errors.Is(err, ErrNoNet):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.As(err, &ue), errors.Is(err, rpc.ErrConfigurationMissing), errors.Is(err, types.ErrLastBlockUnavailable):
		return http.StatusBadGateway
	}

	return http.StatusBadRequest
}

// layer returns the network queried and its layer.
func (a *API) layer(r *http.Request) (string, block.Layer, error) {
	net := r.URL.Query()["net"]
	if len(net) != 1 { // we only allow 1 net per request
		return "", nil, ErrMissingNet
	}

	l, ok := a.bc[net[0]]
	if !ok {
		return "", nil, ErrNoNet
	}

	return net[0], l, nil
}

// homeHandler just replies a welcome message to the client.
func (a *API) homeHandler(rw http.ResponseWriter, r *http.Request) {
	a.reply(rw, r, http.StatusOK, "Hello, this is your blockchain middleware!", nil)
}

// networksHandler replies the networks available.
func (a *API) networksHandler(rw http.ResponseWriter, r *http.Request) {
	nets := make([]string, 0, len(a.bc))
	for net := range a.bc {
		nets = append(nets, net)
	}

	sort.Strings(nets)

	a.reply(rw, r, http.StatusOK, nets, nil)
}

// stateHandler replies the state of the protocol daemon. With ?ignore=true the last block is not required.
func (a *API) stateHandler(rw http.ResponseWriter, r *http.Request) {
	_, l, err := a.layer(r)
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	ignore, _ := strconv.ParseBool(r.URL.Query().Get("ignore"))
	state, err := l.GetServerState(r.Context(), ignore)
	a.reply(rw, r, http.StatusOK, state, err)
}

// txResult is the decoding of a transaction replied to clients.
type txResult struct {
	Outcome string                   `json:"outcome"`
	Tx      codec.DecodedTransaction `json:"tx"`
	Error   string                   `json:"error,omitempty"`
}

func newTxResult(r codec.Result) txResult {
	res := txResult{Outcome: r.Outcome.String(), Tx: r.Tx}
	if r.Err != nil {
		res.Error = r.Err.Error()
	}

	return res
}

// decodeErr drops the error of malformed transactions, replied within the result.
func decodeErr(r codec.Result, err error) error {
	if r.Outcome == codec.Malformed && r.Err != nil {
		return nil
	}

	return err
}

// txHandler decodes the asset movement of the transaction hash.
func (a *API) txHandler(rw http.ResponseWriter, r *http.Request) {
	_, l, err := a.layer(r)
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	res, err := l.GetAssetInfoFromTx(r.Context(), mux.Vars(r)["hash"], true)
	a.reply(rw, r, http.StatusOK, newTxResult(res), decodeErr(res, err))
}

// txRequestHandler asks the explorer to decode the transaction hash and publish it as an event.
func (a *API) txRequestHandler(rw http.ResponseWriter, r *http.Request) {
	net, _, err := a.layer(r)
	if err == nil {
		err = a.mb.SendRequest(net, msg.Request{Net: net, Type: msg.TX, Obj: mux.Vars(r)["hash"], Act: msg.LISTEN})
	}

	a.reply(rw, r, http.StatusAccepted, "", err)
}

// decodeHandler decodes a raw transaction given as {"raw": "<hex>"}.
func (a *API) decodeHandler(rw http.ResponseWriter, r *http.Request) {
	_, l, err := a.layer(r)
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	var req struct {
		Raw string `json:"raw"`
	}
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil || req.Raw == "" {
		a.reply(rw, r, 0, nil, ErrBadRequest)

		return
	}

	res, err := l.GetAssetInfoFromTx(r.Context(), req.Raw, false)
	a.reply(rw, r, http.StatusOK, newTxResult(res), decodeErr(res, err))
}

// blocksHandler replies the protocol messages about the assets queried found in the blocks from..to.
func (a *API) blocksHandler(rw http.ResponseWriter, r *http.Request) {
	_, l, err := a.layer(r)
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	q := r.URL.Query()

	from, errF := strconv.ParseUint(q.Get("from"), 10, 64)
	to, errT := strconv.ParseUint(q.Get("to"), 10, 64)

	if errF != nil || errT != nil || from > to || to-from >= maxBlocks {
		a.reply(rw, r, 0, nil, ErrRange)

		return
	}

	if len(q["asset"]) == 0 {
		a.reply(rw, r, 0, nil, ErrBadRequest)

		return
	}

	blocks := make([]uint64, 0, to-from+1)
	for b := from; b <= to; b++ {
		blocks = append(blocks, b)
	}

	msgs, err := l.GetAssetTxsFromBlocks(r.Context(), q["asset"], blocks)
	a.reply(rw, r, http.StatusOK, msgs, err)
}

// balancesHandler replies the balances of the address, of the assets queried or all of them.
func (a *API) balancesHandler(rw http.ResponseWriter, r *http.Request) {
	_, l, err := a.layer(r)
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	bals, err := l.GetBalances(r.Context(), r.URL.Query()["asset"], []string{mux.Vars(r)["address"]})
	a.reply(rw, r, http.StatusOK, bals, err)
}

func parseChange(s string) (uint8, error) {
	switch s {
	case "0", "external":
		return hd.External, nil
	case "1", "change":
		return hd.Change, nil
	}

	return 0, ErrChange
}

// address returns the hex encoded HD wallet address. Its key never leaves the process.
func (a *API) address(k msg.HDKey) (string, error) {
	if a.hd == nil {
		return "", ErrNoHD
	}

	a.hdM.Lock()
	defer a.hdM.Unlock()

	baddr, _, _, err := a.hd.Address(k.Wallet, k.Change, k.ID)
	if err != nil {
		return "", err
	}

	return "0x" + hex.EncodeToString(baddr), nil
}

// hdAddrHandler replies the HD wallet address requested: ?wallet=<n>&change=<external|change>&id=<n>.
func (a *API) hdAddrHandler(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var k msg.HDKey

	wallet, errW := strconv.ParseUint(q.Get("wallet"), 0, 32)
	id, errI := strconv.ParseUint(q.Get("id"), 0, 32)

	if errW != nil || errI != nil || q.Get("change") == "" {
		a.reply(rw, r, 0, nil, ErrBadRequest)

		return
	}

	change, err := parseChange(q.Get("change"))
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	k.Wallet, k.Change, k.ID = uint32(wallet), change, uint32(id)

	addr, err := a.address(k)
	a.reply(rw, r, http.StatusOK, addr, err)
}

// listenHandler sends a request to the explorer to start (POST) or stop (DELETE) tracking an asset. A request
// accepted status will be replied or an error otherwise.
func (a *API) listenHandler(rw http.ResponseWriter, r *http.Request) {
	net, _, err := a.layer(r)
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	req := msg.Request{Net: net, Type: msg.ASSET, Obj: mux.Vars(r)["asset"], Act: msg.LISTEN}
	if r.Method == http.MethodDelete {
		req.Act = msg.UNLISTEN
	}

	a.reply(rw, r, http.StatusAccepted, "", a.mb.SendRequest(net, req))
}

// TxReq is a transfer request. When HD is given, the transfer is sent from that HD wallet address and the broadcaster
// signs it with the key of the address; otherwise Source is required and the transaction is signed by the
// broadcaster's signing queue. HD wallet addresses are ethereum addresses, so HD transfers need an ethereum layer.
type TxReq struct {
	Net         string     `json:"net"`
	HD          *msg.HDKey `json:"hd,omitempty"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Asset       string     `json:"asset"`
	Quantity    string     `json:"quantity"` // base units, decimal
}

// TxRes is replied to transfer requests. ID identifies the outcome event of the broadcast.
type TxRes struct {
	ID  string `json:"id,omitempty"`
	Raw string `json:"raw"`
}

// sendHandler builds a transfer and publishes it to the broadcaster. The outcome is published as an event with the
// id replied.
func (a *API) sendHandler(rw http.ResponseWriter, r *http.Request) {
	var req TxReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.reply(rw, r, 0, nil, ErrBadRequest)

		return
	}

	l, ok := a.bc[req.Net]
	if !ok {
		a.reply(rw, r, 0, nil, ErrNoNet)

		return
	}

	qty, ok := new(big.Int).SetString(req.Quantity, 10)
	if !ok || qty.Sign() <= 0 {
		a.reply(rw, r, 0, nil, ErrQuantity)

		return
	}

	var err error

	if req.HD != nil {
		if l.Kind() != types.Ethereum {
			a.reply(rw, r, 0, nil, ErrHDLayer)

			return
		}

		if req.Source, err = a.address(*req.HD); err != nil {
			a.reply(rw, r, 0, nil, err)

			return
		}
	}

	if req.Source == "" || req.Destination == "" || req.Asset == "" {
		a.reply(rw, r, 0, nil, ErrBadRequest)

		return
	}

	var res TxRes

	res.Raw, err = l.Send(r.Context(), types.SendRequest{
		Source: req.Source, Destination: req.Destination, Asset: req.Asset, Quantity: qty,
	})
	if err != nil || DryRun {
		a.reply(rw, r, http.StatusOK, res, err)

		return
	}

	res.ID = uuid.NewString()
	err = a.mb.SendBroadcast(req.Net, msg.BroadcastReq{ID: res.ID, Net: req.Net, Raw: res.Raw, HD: req.HD})
	a.reply(rw, r, http.StatusAccepted, res, err)
}

// eventsHandler replies the latest events of the network.
func (a *API) eventsHandler(rw http.ResponseWriter, r *http.Request) {
	net, _, err := a.layer(r)
	if err != nil {
		a.reply(rw, r, 0, nil, err)

		return
	}

	a.reply(rw, r, http.StatusOK, a.Events(net), nil)
}
