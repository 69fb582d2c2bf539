// Package queue broadcasts transactions: they are signed locally by the blockchain layer or by the remote signing
// queue service, submitted, and their outcome archived in the signing queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/rpc"
	"github.com/tarancss/chainkit/lib/rpc/jsonrpc"
)

// Errors returned
var (
	ErrQueueProtocol  = errors.New("unexpected signing queue response")
	ErrArchiveFailure = errors.New("cannot archive transaction")
)

// Statuses of the signing queue entries
const (
	RemoteOK     = "OK"
	RemoteQueued = "Q"
	RemoteSigned = "S"
	RemoteFailed = "F"
)

// Status of a broadcast transaction.
type Status int

// Statuses
const (
	Queued Status = iota
	Signed
	Broadcast
	ArchiveFailed
	ArchiveSucceeded
)

func (s Status) String() string {
	return [...]string{"queued", "signed", "broadcast", "archive-failed", "archive-succeeded"}[s]
}

// QueuedTransaction is a transaction going through the broadcast. ID is the signing queue id, empty when signed
// locally.
type QueuedTransaction struct {
	ID     string `json:"id,omitempty"`
	Raw    string `json:"raw"`
	Signed string `json:"signed,omitempty"`
	Hash   string `json:"hash,omitempty"`
	Status Status `json:"status"`
}

// Layer is the part of a blockchain layer used to broadcast.
type Layer interface {
	SignRawTx(ctx context.Context, raw, key string) (string, error)
	SendRawTx(ctx context.Context, signed string) (string, error)
	TxHash(signed string) (string, error)
}

// Executor executes the signing queue commands.
type Executor interface {
	Exec(ctx context.Context, daemon, command string, params interface{}, o rpc.Options) (interface{}, error)
}

// Config of the signing queue.
type Config struct {
	Daemon             string
	HostID             string
	AppKey             string
	PrivateKeyID       string
	DecryptionKey      string
	ThrowArchiveErrors bool
	Attempts           int           // polls of the signed transaction
	Wait               time.Duration // between polls
}

// FromConfig returns the signing queue configuration, nil when the signing queue is not used.
func FromConfig(c config.QueueConfig) *Config {
	if !c.Enabled() {
		return nil
	}

	return &Config{
		Daemon:             c.Daemon,
		HostID:             c.HostID,
		AppKey:             c.AppKey,
		PrivateKeyID:       c.PrivateKeyID,
		DecryptionKey:      c.DecryptionKey,
		ThrowArchiveErrors: c.ThrowArchiveErrors,
		Attempts:           c.Attempts,
		Wait:               c.Wait(),
	}
}

// Queue broadcasts transactions. It is safe for concurrent use.
type Queue struct {
	layer Layer
	ex    Executor
	c     *Config
	log   *zap.Logger

	// retry returns the backoff of the transport failures of one call.
	retry func() backoff.BackOff
}

// Transport retries of every signing queue call.
const callRetries = 3

// New returns a queue signing with layer, or with the signing queue reached through ex when c is not nil.
func New(layer Layer, ex Executor, c *Config, log *zap.Logger) *Queue {
	if c != nil {
		cc := *c
		if cc.Daemon == "" {
			cc.Daemon = config.QueueDefault.Daemon
		}

		if cc.Attempts <= 0 {
			cc.Attempts = 1
		}

		c = &cc
	}

	return &Queue{
		layer: layer,
		ex:    ex,
		c:     c,
		log:   logging.OrNop(log).Named("queue"),
		retry: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), callRetries)
		},
	}
}

// BroadcastTx signs and submits raw and returns its hash. key is the private key used to sign locally.
func (q *Queue) BroadcastTx(ctx context.Context, raw, key string) (string, error) {
	qt, err := q.Broadcast(ctx, raw, key)

	return qt.Hash, err
}

// Broadcast signs and submits raw. After a successful broadcast the hash is set even when archiving fails.
func (q *Queue) Broadcast(ctx context.Context, raw, key string) (QueuedTransaction, error) {
	qt := QueuedTransaction{Raw: raw, Status: Queued}

	var err error

	if q.c == nil {
		if qt.Signed, err = q.layer.SignRawTx(ctx, raw, key); err != nil {
			return qt, err
		}
	} else {
		if qt.ID, err = q.enqueue(ctx, raw); err != nil {
			return qt, err
		}

		if qt.Signed, err = q.signed(ctx, qt.ID); err != nil {
			return qt, err
		}
	}

	qt.Status = Signed

	if _, err = q.layer.SendRawTx(ctx, qt.Signed); err != nil {
		q.log.Error("broadcast failed", zap.String("queueId", qt.ID), zap.Error(err))

		if q.c == nil {
			return qt, err
		}

		if aerr := q.archive(ctx, qt.ID, RemoteFailed, err.Error(), ""); aerr != nil {
			q.log.Error("cannot archive failed transaction", zap.String("queueId", qt.ID), zap.Error(aerr))

			if q.c.ThrowArchiveErrors {
				return qt, errors.Join(err, aerr)
			}

			return qt, err
		}

		qt.Status = ArchiveFailed

		return qt, err
	}

	qt.Status = Broadcast

	if qt.Hash, err = q.layer.TxHash(qt.Signed); err != nil {
		return qt, err
	}

	if q.c == nil {
		return qt, nil
	}

	if err = q.archive(ctx, qt.ID, RemoteSigned, "Broadcasted successfully", qt.Hash); err != nil {
		q.log.Error("cannot archive transaction", zap.String("queueId", qt.ID), zap.String("hash", qt.Hash),
			zap.Error(err))

		if q.c.ThrowArchiveErrors {
			return qt, err
		}

		return qt, nil
	}

	qt.Status = ArchiveSucceeded

	return qt, nil
}

func (q *Queue) enqueue(ctx context.Context, raw string) (string, error) {
	res, err := q.call(ctx, "enqueue", map[string]interface{}{
		"host_id": q.c.HostID,
		"app_key": q.c.AppKey,
		"pk_id":   q.c.PrivateKeyID,
		"dec_key": q.c.DecryptionKey,
		"tx_data": raw,
	})
	if err != nil {
		return "", err
	}

	m, ok := res.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: enqueue answered %T", ErrQueueProtocol, res)
	}

	if status, _ := m["status"].(string); status != RemoteOK {
		return "", fmt.Errorf("%w: enqueue status %v", ErrQueueProtocol, m["status"])
	}

	id := idString(m["id"])
	if id == "" {
		return "", fmt.Errorf("%w: enqueue answered no id", ErrQueueProtocol)
	}

	return id, nil
}

var errPending = errors.New("transaction pending")

// signed polls the queue until the transaction id is signed.
func (q *Queue) signed(ctx context.Context, id string) (string, error) {
	var signed string

	op := func() error {
		res, err := q.call(ctx, "get", map[string]interface{}{"host_id": q.c.HostID, "app_key": q.c.AppKey})
		if err != nil {
			return backoff.Permanent(err)
		}

		list, ok := res.([]interface{})
		if !ok {
			return backoff.Permanent(fmt.Errorf("%w: get answered %T", ErrQueueProtocol, res))
		}

		for _, item := range list {
			tx, _ := item.(map[string]interface{})
			if tx == nil || idString(tx["id"]) != id {
				continue
			}

			switch status, _ := tx["status"].(string); status {
			case RemoteSigned:
				if signed, _ = tx["signed_tx_data"].(string); signed == "" {
					return backoff.Permanent(fmt.Errorf("%w: transaction %s signed without data", ErrQueueProtocol, id))
				}

				return nil
			case RemoteQueued:
				return errPending
			default:
				return backoff.Permanent(fmt.Errorf("%w: transaction %s not signed (status %q)", ErrQueueProtocol,
					id, status))
			}
		}

		return fmt.Errorf("%w: signed transaction %s not found", ErrQueueProtocol, id)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(q.c.Wait), uint64(q.c.Attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, errPending) {
			return "", fmt.Errorf("%w: transaction %s not signed after %d polls", ErrQueueProtocol, id, q.c.Attempts)
		}

		return "", err
	}

	return signed, nil
}

func (q *Queue) archive(ctx context.Context, id, status, comment, hash string) error {
	res, err := q.call(ctx, "archive", map[string]interface{}{
		"host_id": q.c.HostID,
		"app_key": q.c.AppKey,
		"txs": []interface{}{map[string]interface{}{
			"id":      id,
			"status":  status,
			"comment": comment,
			"tx_hash": hash,
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveFailure, err)
	}

	m, _ := res.(map[string]interface{})
	if idString(m["qty"]) != "1" {
		return fmt.Errorf("%w: %w: archive answered %v", ErrArchiveFailure, ErrQueueProtocol, res)
	}

	return nil
}

// call executes command on the signing queue. Every attempt carries the same request id and its attempt number.
// Failures without an upstream code are retried.
func (q *Queue) call(ctx context.Context, command string, params map[string]interface{}) (interface{}, error) {
	requestID := uuid.NewString()
	count := 0

	var res interface{}

	op := func() error {
		count++

		p := make(map[string]interface{}, len(params)+2)
		for k, v := range params {
			p[k] = v
		}

		p[jsonrpc.RequestIDParam] = requestID
		p[jsonrpc.RequestCountParam] = count

		var err error
		if res, err = q.ex.Exec(ctx, q.c.Daemon, command, p, rpc.Options{}); err != nil {
			if transient(err) {
				q.log.Warn("signing queue call failed", zap.String("command", command),
					zap.String("requestId", requestID), zap.Int("attempt", count), zap.Error(err))

				return err
			}

			return backoff.Permanent(err)
		}

		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(q.retry(), ctx)); err != nil {
		return nil, err
	}

	return res, nil
}

// transient reports whether err is a transport failure: the daemon did not answer a JSON-RPC error code.
func transient(err error) bool {
	var ue *rpc.UpstreamError

	return errors.As(err, &ue) && ue.Code == -1
}

// idString renders queue ids, answered as strings or numbers.
func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}
