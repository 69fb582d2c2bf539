// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/logging"
	"github.com/tarancss/chainkit/lib/msg"
)

// numbers keep message quantities exact
var json = jsoniter.Config{UseNumber: true, EscapeHTML: false}.Froze()

// Exchanges
const (
	Requests   = "ar" // explorer requests, published by the API
	Broadcasts = "br" // broadcast requests, published by the API
	Events     = "ee" // events, published by the explorer and the broadcaster
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	mu   sync.Mutex // guards ch
	ch   *amqp.Channel
	log  *zap.Logger
}

// New instantiates a new amqp broker.
func New(uri string, log *zap.Logger) (*Amqp, error) {
	r := &Amqp{log: logging.OrNop(log).Named("amqp")}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, err
	}

	r.log.Info("connected")

	return r, nil
}

// Connect dials the broker until it answers or wait has elapsed, and declares the exchanges. Brokers started
// together with the services usually take a few seconds to accept connections.
func Connect(uri string, wait time.Duration, log *zap.Logger) (*Amqp, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = wait

	r, err := backoff.RetryNotifyWithData(func() (*Amqp, error) {
		return New(uri, log)
	}, b, func(err error, d time.Duration) {
		logging.OrNop(log).Warn("broker not ready", zap.Duration("retryIn", d), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}

	if err = r.Setup(); err != nil {
		_ = r.Close()

		return nil, err
	}

	return r, nil
}

// Setup declares the message broker exchanges:
//
// - ar ("asset requests"): the API publishes explorer requests to this exchange
//
// - br ("broadcast requests"): the API publishes transactions to broadcast to this exchange
//
// - ee ("explorer events"): the explorer and the broadcaster publish events to this exchange
func (r *Amqp) Setup() error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	for _, ex := range []string{Requests, Broadcasts, Events} {
		if err = channel.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return err
		}
	}

	return nil
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Error("cannot close channel", zap.Error(err))
		}

		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

func (r *Amqp) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		var err error
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, err
		}
	}

	return r.ch, nil
}

func (r *Amqp) publish(exchange, key, header string, v interface{}) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}

	m := amqp.Publishing{
		Headers:     amqp.Table{"x-obj-name": header},
		Body:        doc,
		ContentType: "application/json",
	}

	if err = ch.Publish(exchange, key, false, false, m); err != nil {
		r.log.Error("cannot publish", zap.String("exchange", exchange), zap.String("key", key), zap.Error(err))
	}

	return err
}

// SendEvents publishes events to the "ee" exchange with routing key net.type.object
func (r *Amqp) SendEvents(net string, evs []msg.Event) error {
	for _, e := range evs {
		if err := r.publish(Events, net+"."+e.Type+"."+e.Key(), net+"."+e.Key(), e); err != nil {
			return err
		}
	}

	return nil
}

// SendRequest publishes a new explorer request to the "ar" exchange
func (r *Amqp) SendRequest(net string, req msg.Request) error {
	return r.publish(Requests, net+"."+strconv.Itoa(req.Type)+"."+req.Obj, net+"."+req.Obj, req)
}

// SendBroadcast publishes a broadcast request to the "br" exchange
func (r *Amqp) SendBroadcast(net string, b msg.BroadcastReq) error {
	return r.publish(Broadcasts, net+".tx."+b.ID, net+"."+b.ID, b)
}

// consume declares the queue of net bound to exchange and decodes each delivery as a T, pushing the results to
// the returned channel. The delivery is acknowledged once the consumer unlocks mut.
func consume[T any](r *Amqp, exchange, net string, mut *sync.Mutex) (<-chan T, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}

	queue := exchange + net
	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = ch.QueueBind(queue, net+".*.*", exchange, false, nil); err != nil {
		return nil, nil, err
	}

	deliveries, err := ch.Consume(queue, exchange+"-"+net, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan T)
	errs := make(chan error)

	go func() {
		defer close(out)

		for d := range deliveries {
			var v T
			if err := json.Unmarshal(d.Body, &v); err != nil {
				errs <- err

				_ = d.Nack(false, false)

				continue
			}

			out <- v
			mut.Lock() // wait for the consumer to finish processing the message

			if err := d.Ack(false); err != nil {
				r.log.Error("cannot acknowledge", zap.String("queue", queue), zap.Error(err))
			}
		}
	}()

	return out, errs, nil
}

// GetEvents consumes events of net from the "ee" exchange.
func (r *Amqp) GetEvents(net string, mut *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	return consume[msg.Event](r, Events, net, mut)
}

// GetReqs consumes explorer requests of net from the "ar" exchange.
func (r *Amqp) GetReqs(net string, mut *sync.Mutex) (<-chan msg.Request, <-chan error, error) {
	return consume[msg.Request](r, Requests, net, mut)
}

// GetBroadcasts consumes broadcast requests of net from the "br" exchange.
func (r *Amqp) GetBroadcasts(net string, mut *sync.Mutex) (<-chan msg.BroadcastReq, <-chan error, error) {
	return consume[msg.BroadcastReq](r, Broadcasts, net, mut)
}
