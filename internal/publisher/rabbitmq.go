package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

var (
	ErrSenderClosed = errors.New("audit sender is closed")
	errNacked       = errors.New("broker rejected the message")
	errUnroutable   = errors.New("broker returned the message as unroutable")
)

// Topology names the exchange, queues and routing keys of the audit channel.
type Topology struct {
	Exchange        string
	Queue           string
	ErrorQueue      string
	RoutingKey      string
	ErrorRoutingKey string
}

// RabbitMQ publishes audit envelopes to a direct exchange. Channels are kept
// in confirm mode in a shared pool; the connection is redialed on demand
// after the broker drops it.
type RabbitMQ struct {
	url      string
	exchange string

	mu       sync.Mutex
	conn     *amqp.Connection
	closed   bool
	channels chan *confirmChannel
}

// confirmChannel is a channel in confirm mode together with its listener
// for mandatory messages the broker could not route.
type confirmChannel struct {
	*amqp.Channel
	returns chan amqp.Return
}

func NewRabbitMQ(url, exchange string, poolSize int) (*RabbitMQ, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	r := &RabbitMQ{
		url:      url,
		exchange: exchange,
		channels: make(chan *confirmChannel, poolSize),
	}
	if _, err := r.connection(); err != nil {
		return nil, err
	}

	log.WithField("exchange", exchange).Info("Audit RabbitMQ publisher created successfully")
	return r, nil
}

func (r *RabbitMQ) connection() (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSenderClosed
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	if r.conn != nil {
		log.Warn("RabbitMQ connection was lost, reconnected")
	}
	r.conn = conn
	return conn, nil
}

func (r *RabbitMQ) acquire() (*confirmChannel, error) {
	for {
		select {
		case ch := <-r.channels:
			if !ch.IsClosed() {
				return ch, nil
			}
			continue
		default:
		}
		break
	}

	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	// One publish is in flight per channel, so one slot holds any return.
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	return &confirmChannel{Channel: ch, returns: returns}, nil
}

// returned reports a message the broker handed back instead of routing. The
// broker sends the return before the confirm, so it is already buffered once
// the confirm arrives.
func returned(returns <-chan amqp.Return) error {
	select {
	case ret, ok := <-returns:
		if !ok {
			return nil
		}
		return fmt.Errorf("%w: %d %s (%s/%s)", errUnroutable, ret.ReplyCode, ret.ReplyText, ret.Exchange, ret.RoutingKey)
	default:
		return nil
	}
}

// release returns a channel to the pool. A channel whose last publish did not
// settle cleanly is discarded since pending confirms would mix with the next
// publish.
func (r *RabbitMQ) release(ch *confirmChannel, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !healthy || ch.IsClosed() {
		_ = ch.Close()
		return
	}
	select {
	case r.channels <- ch:
	default:
		_ = ch.Close()
	}
}

// Send publishes a persistent JSON message and waits for the broker confirm.
// Messages are mandatory: one that no queue is bound for comes back as an
// error instead of being acked and dropped. Safe for concurrent use.
func (r *RabbitMQ) Send(ctx context.Context, msg Envelope) error {
	ch, err := r.acquire()
	if err != nil {
		return err
	}
	_ = returned(ch.returns)

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, r.exchange, msg.RoutingKey, true, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Body:          msg.Body,
	})
	if err != nil {
		r.release(ch, false)
		return fmt.Errorf("failed to publish to %s/%s: %w", r.exchange, msg.RoutingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		r.release(ch, false)
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	unroutable := returned(ch.returns)
	r.release(ch, true)

	if !acked {
		return errNacked
	}
	return unroutable
}

// DeclareTopology declares the direct exchange, the durable error queue and
// the primary queue dead-lettering to the error routing key. Redeclaring an
// existing topology with the same arguments is a no-op on the broker.
func (r *RabbitMQ) DeclareTopology(t Topology) error {
	conn, err := r.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	if _, err := ch.QueueDeclare(t.ErrorQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.ErrorQueue, err)
	}
	if err := ch.QueueBind(t.ErrorQueue, t.ErrorRoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.ErrorQueue, err)
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, primaryQueueArgs(t)); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.Queue, err)
	}

	log.WithFields(log.Fields{
		"exchange":    t.Exchange,
		"queue":       t.Queue,
		"error_queue": t.ErrorQueue,
	}).Info("Audit broker topology declared")
	return nil
}

func primaryQueueArgs(t Topology) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.Exchange,
		"x-dead-letter-routing-key": t.ErrorRoutingKey,
	}
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrSenderClosed
	}
	r.closed = true
	log.Info("Closing audit RabbitMQ publisher...")

	var result *multierror.Error
	for {
		select {
		case ch := <-r.channels:
			if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				result = multierror.Append(result, err)
			}
			continue
		default:
		}
		break
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
