package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the bus uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection is the subset of *amqp.Connection the bus uses.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a broker connection. name is reported to the broker as the client connection name.
type Dialer func(url, name string) (Connection, error)

var (
	ErrSessionClosed = errors.New("broker session closed")
	ErrPublishNacked = errors.New("broker nacked publish")
)

// DialAMQP is the production Dialer.
func DialAMQP(url, name string) (Connection, error) {
	props := amqp.NewConnectionProperties()
	if name != "" {
		props.SetClientConnectionName(name)
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// RabbitMQ is one connection plus one channel, owned by a single publisher or consumer.
// It is never repaired: once Done is closed the whole session is thrown away.
type RabbitMQ struct {
	conn     Connection
	Channel  Channel
	confirms chan amqp.Confirmation

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func NewRabbitMQ(dial Dialer, uri, name string) (*RabbitMQ, error) {
	conn, err := dial(uri, name)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		Channel: ch,
		done:    make(chan struct{}),
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go rmq.watch(connClosed, chClosed)

	return rmq, nil
}

func (r *RabbitMQ) watch(connClosed, chClosed chan *amqp.Error) {
	var amqpErr *amqp.Error
	select {
	case amqpErr = <-connClosed:
	case amqpErr = <-chClosed:
	}

	r.mu.Lock()
	if amqpErr != nil {
		r.err = fmt.Errorf("%w: %s", ErrSessionClosed, amqpErr.Error())
	} else {
		r.err = ErrSessionClosed
	}
	r.mu.Unlock()

	r.closeOnce.Do(func() { close(r.done) })
}

// Done is closed as soon as the connection or the channel goes away.
func (r *RabbitMQ) Done() <-chan struct{} {
	return r.done
}

func (r *RabbitMQ) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		return ErrSessionClosed
	}
	return r.err
}

// EnableConfirms puts the channel in confirm mode. Publishes are then
// tracked one at a time by PublishConfirmed.
func (r *RabbitMQ) EnableConfirms() error {
	if err := r.Channel.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	r.confirms = r.Channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

// PublishConfirmed publishes msg and, in confirm mode, blocks until the broker
// acks it. Callers must not publish concurrently on the same session.
func (r *RabbitMQ) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	if err := r.Channel.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return err
	}
	if r.confirms == nil {
		return nil
	}

	select {
	case confirm, ok := <-r.confirms:
		if !ok {
			return r.Err()
		}
		if !confirm.Ack {
			return fmt.Errorf("%w: delivery tag %d", ErrPublishNacked, confirm.DeliveryTag)
		}
		return nil
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel, then the connection. Failures are logged, never returned:
// either handle may already be gone.
func (r *RabbitMQ) Close(logger logging.Logger) {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			logger.Warn(logging.RabbitMQ, logging.Shutdown, "failed to close channel", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			logger.Warn(logging.RabbitMQ, logging.Shutdown, "failed to close connection", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}
