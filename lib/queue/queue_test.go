package queue

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/rpc"
	"github.com/tarancss/chainkit/lib/rpc/jsonrpc"
)

// layer signs by appending "-signed" and fails to send when sendErr is set.
type layer struct {
	sendErr error
	sent    []string
}

func (l *layer) SignRawTx(_ context.Context, raw, key string) (string, error) {
	if key == "" {
		return "", errors.New("no key")
	}

	return raw + "-signed", nil
}

func (l *layer) SendRawTx(_ context.Context, signed string) (string, error) {
	l.sent = append(l.sent, signed)

	return "sent", l.sendErr
}

func (l *layer) TxHash(signed string) (string, error) { return "hash(" + signed + ")", nil }

type call struct {
	command string
	params  map[string]interface{}
}

// signingQueue answers enqueue, get and archive. statuses are the successive statuses of the queued transaction.
type signingQueue struct {
	mu         sync.Mutex
	calls      []call
	statuses   []string
	archiveQty int
	fail       map[string]int // transport failures before answering, per command
}

func (s *signingQueue) Exec(_ context.Context, daemon, command string, params interface{},
	_ rpc.Options) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if daemon != "mr-queue" {
		return nil, rpc.ErrUnknownDaemon
	}

	p, _ := params.(map[string]interface{})
	s.calls = append(s.calls, call{command, p})

	if s.fail[command] > 0 {
		s.fail[command]--

		return nil, rpc.Classify(daemon, command, errors.New("connection refused"), nil)
	}

	switch command {
	case "enqueue":
		return map[string]interface{}{"status": "OK", "id": stdjson.Number("42")}, nil
	case "get":
		status := s.statuses[0]
		if len(s.statuses) > 1 {
			s.statuses = s.statuses[1:]
		}

		return []interface{}{
			map[string]interface{}{"id": stdjson.Number("41"), "status": "S", "signed_tx_data": "other"},
			map[string]interface{}{"id": stdjson.Number("42"), "status": status, "signed_tx_data": "remote-signed"},
		}, nil
	case "archive":
		return map[string]interface{}{"qty": stdjson.Number(fmt.Sprint(s.archiveQty))}, nil
	}

	return nil, fmt.Errorf("unexpected command %s", command)
}

func (s *signingQueue) commands() []string {
	var cmds []string
	for _, c := range s.calls {
		cmds = append(cmds, c.command)
	}

	return cmds
}

func (s *signingQueue) archived() []map[string]interface{} {
	var txs []map[string]interface{}

	for _, c := range s.calls {
		if c.command == "archive" {
			txs = append(txs, c.params["txs"].([]interface{})[0].(map[string]interface{}))
		}
	}

	return txs
}

func newQueue(l Layer, s *signingQueue, throw bool) *Queue {
	q := New(l, s, &Config{HostID: "host", AppKey: "app", PrivateKeyID: "pk", DecryptionKey: "dec",
		ThrowArchiveErrors: throw, Attempts: 3, Wait: time.Millisecond}, nil)
	q.retry = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), callRetries)
	}

	return q
}

func TestBroadcastLocal(t *testing.T) {
	l := &layer{}
	q := New(l, nil, FromConfig(config.QueueDefault), nil)

	qt, err := q.Broadcast(context.Background(), "raw", "key")
	if err != nil || qt.Hash != "hash(raw-signed)" || qt.Status != Broadcast || qt.ID != "" {
		t.Errorf("unexpected broadcast %+v %v", qt, err)
	}

	l.sendErr = errors.New("rejected")
	if _, err = q.BroadcastTx(context.Background(), "raw", "key"); !errors.Is(err, l.sendErr) {
		t.Errorf("expected send error, got %v", err)
	}
}

func TestBroadcastSigned(t *testing.T) {
	l := &layer{}
	s := &signingQueue{statuses: []string{"Q", "Q", "S"}, archiveQty: 1}
	q := newQueue(l, s, true)

	qt, err := q.Broadcast(context.Background(), "raw", "")
	if err != nil || qt.Hash != "hash(remote-signed)" || qt.ID != "42" || qt.Status != ArchiveSucceeded {
		t.Fatalf("unexpected broadcast %+v %v", qt, err)
	}

	want := []string{"enqueue", "get", "get", "get", "archive"}
	if got := s.commands(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("unexpected calls %v", got)
	}

	if len(l.sent) != 1 || l.sent[0] != "remote-signed" {
		t.Errorf("unexpected submitted transactions %v", l.sent)
	}

	a := s.archived()
	if len(a) != 1 || a[0]["status"] != "S" || a[0]["tx_hash"] != "hash(remote-signed)" || a[0]["id"] != "42" {
		t.Errorf("unexpected archive %v", a)
	}

	enq := s.calls[0].params
	if enq["pk_id"] != "pk" || enq["dec_key"] != "dec" || enq["tx_data"] != "raw" || enq["host_id"] != "host" {
		t.Errorf("unexpected enqueue params %v", enq)
	}
}

func TestBroadcastNotSigned(t *testing.T) {
	for _, status := range []string{"F", "X"} {
		l := &layer{}
		s := &signingQueue{statuses: []string{"Q", status}, archiveQty: 1}

		hash, err := newQueue(l, s, true).BroadcastTx(context.Background(), "raw", "")
		if !errors.Is(err, ErrQueueProtocol) || hash != "" {
			t.Errorf("status %s: expected ErrQueueProtocol, got %s %v", status, hash, err)
		}

		if len(s.archived()) != 0 || len(l.sent) != 0 {
			t.Errorf("status %s: transaction submitted or archived", status)
		}
	}
}

func TestBroadcastPending(t *testing.T) {
	s := &signingQueue{statuses: []string{"Q"}, archiveQty: 1}

	_, err := newQueue(&layer{}, s, true).Broadcast(context.Background(), "raw", "")
	if !errors.Is(err, ErrQueueProtocol) {
		t.Errorf("expected ErrQueueProtocol, got %v", err)
	}

	if n := len(s.calls); n != 4 { // enqueue and 3 polls
		t.Errorf("unexpected calls %v", s.commands())
	}
}

func TestBroadcastSendFailure(t *testing.T) {
	cases := []struct {
		throw      bool
		archiveQty int
		archiveErr bool
		state      Status
	}{
		{true, 1, false, ArchiveFailed},
		{true, 0, true, Signed},
		{false, 0, false, Signed},
	}
	for i, c := range cases {
		l := &layer{sendErr: errors.New("rejected")}
		s := &signingQueue{statuses: []string{"S"}, archiveQty: c.archiveQty}

		qt, err := newQueue(l, s, c.throw).Broadcast(context.Background(), "raw", "")
		if !errors.Is(err, l.sendErr) || errors.Is(err, ErrArchiveFailure) != c.archiveErr || qt.Status != c.state {
			t.Errorf("case %d: unexpected result %+v %v", i, qt, err)
		}

		if a := s.archived(); len(a) != 1 || a[0]["status"] != "F" || a[0]["comment"] != "rejected" {
			t.Errorf("case %d: unexpected archive %v", i, a)
		}
	}
}

func TestBroadcastArchiveFailure(t *testing.T) {
	s := &signingQueue{statuses: []string{"S"}, archiveQty: 2}

	qt, err := newQueue(&layer{}, s, true).Broadcast(context.Background(), "raw", "")
	if !errors.Is(err, ErrArchiveFailure) || qt.Hash != "hash(remote-signed)" || qt.Status != Broadcast {
		t.Errorf("unexpected result %+v %v", qt, err)
	}

	s = &signingQueue{statuses: []string{"S"}, archiveQty: 2}

	hash, err := newQueue(&layer{}, s, false).BroadcastTx(context.Background(), "raw", "")
	if err != nil || hash != "hash(remote-signed)" {
		t.Errorf("unexpected result %s %v", hash, err)
	}
}

func TestRequestIDs(t *testing.T) {
	s := &signingQueue{statuses: []string{"S"}, archiveQty: 1, fail: map[string]int{"enqueue": 2}}

	if _, err := newQueue(&layer{}, s, true).Broadcast(context.Background(), "raw", ""); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	enq := s.calls[:3]
	for i, c := range enq {
		if c.command != "enqueue" || c.params[jsonrpc.RequestCountParam] != i+1 ||
			c.params[jsonrpc.RequestIDParam] != enq[0].params[jsonrpc.RequestIDParam] {
			t.Errorf("attempt %d: unexpected params %v", i, c.params)
		}
	}

	if s.calls[3].params[jsonrpc.RequestIDParam] == enq[0].params[jsonrpc.RequestIDParam] {
		t.Errorf("request id reused by another call")
	}

	// transport failures are retried a bounded number of times
	s = &signingQueue{statuses: []string{"S"}, archiveQty: 1, fail: map[string]int{"enqueue": 10}}
	if _, err := newQueue(&layer{}, s, true).Broadcast(context.Background(), "raw", ""); err == nil {
		t.Errorf("expected error after exhausting retries")
	}

	if n := len(s.calls); n != callRetries+1 {
		t.Errorf("expected %d attempts, got %d", callRetries+1, n)
	}
}

func TestFromConfig(t *testing.T) {
	if FromConfig(config.QueueDefault) != nil {
		t.Errorf("signing queue enabled without private key id")
	}

	c := config.QueueDefault
	c.PrivateKeyID = "pk"

	if qc := FromConfig(c); qc == nil || qc.Wait != 2*time.Second || qc.Daemon != "mr-queue" || !qc.ThrowArchiveErrors {
		t.Errorf("unexpected config %+v", qc)
	}
}
