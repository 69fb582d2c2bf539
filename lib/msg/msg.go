// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"

	"github.com/tarancss/chainkit/lib/codec"
)

// Types of object for explorer requests.
const (
	EXIT  = -1
	ASSET = 0
	TX    = 1
)

// Actions to be applied to objects for explorer requests.
const (
	LISTEN   = 0
	UNLISTEN = 1
)

// Request defines the message the API publishes to the explorer to track an asset or to decode a transaction.
type Request struct {
	Net  string `json:"net"`
	Type int    `json:"type"` // type of object
	Obj  string `json:"obj"`  // asset name or transaction hash
	Act  int    `json:"act"`  // action to be applied
}

// HDKey selects an address of the HD wallet.
type HDKey struct {
	Wallet uint32 `json:"wallet"`
	Change uint8  `json:"change"`
	ID     uint32 `json:"id"`
}

// BroadcastReq asks the broadcaster to sign and submit a raw transaction. When HD is given, the broadcaster signs with
// the key of that address of its own HD wallet; otherwise the signing queue signs.
type BroadcastReq struct {
	ID  string `json:"id"`
	Net string `json:"net"`
	Raw string `json:"raw"`
	HD  *HDKey `json:"hd,omitempty"`
}

// Types of event
const (
	MESSAGE   = "msg" // protocol message about a tracked asset
	TRANS     = "tx"  // decoded transaction
	BROADCAST = "bc"  // broadcast outcome
)

// Outcome of a broadcast request.
type Outcome struct {
	ID     string `json:"id"`
	Hash   string `json:"hash,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Event is published by the explorer and the broadcaster. Only the field of its type is set.
type Event struct {
	Net     string                    `json:"net"`
	Type    string                    `json:"type"`
	Hash    string                    `json:"hash,omitempty"`
	Message *codec.Message            `json:"message,omitempty"`
	Tx      *codec.DecodedTransaction `json:"tx,omitempty"`
	Outcome *Outcome                  `json:"outcome,omitempty"`
}

// Key returns the object the event is about, used to route it.
func (e Event) Key() string {
	switch {
	case e.Message != nil:
		return e.Message.Asset
	case e.Outcome != nil:
		return e.Outcome.ID
	}

	return e.Hash
}

// MsgBroker is implemented by the message brokers. Consumers receive the messages one at a time: the Mutex given is
// locked by the broker after delivering a message and the message is only acknowledged when the consumer unlocks it.
type MsgBroker interface { //nolint:revive // stutter
	Setup() error
	Close() error

	// methods for the API service
	SendRequest(net string, r Request) error
	SendBroadcast(net string, b BroadcastReq) error
	GetEvents(net string, mut *sync.Mutex) (<-chan Event, <-chan error, error)

	// methods for the explorer service
	GetReqs(net string, mut *sync.Mutex) (<-chan Request, <-chan error, error)

	// methods for the broadcaster service
	GetBroadcasts(net string, mut *sync.Mutex) (<-chan BroadcastReq, <-chan error, error)

	// methods for the explorer and broadcaster services
	SendEvents(net string, evs []Event) error
}
