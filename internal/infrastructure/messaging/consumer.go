package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/tracing"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errDeliveriesClosed = errors.New("delivery stream closed")

type ConsumerConfig struct {
	URL      string
	Exchange string
	Queue    QueueSpec
	Prefetch int
	// RetryDelay is the fixed pause between connection attempts.
	RetryDelay time.Duration
	// MaxRedeliveries caps transient retries per message. Zero requeues forever.
	MaxRedeliveries int
	DeadLetter      bool
	ConsumerTag     string
}

// Message is one delivery as seen by a Handler.
type Message struct {
	Queue       string
	RoutingKey  string
	Body        []byte
	Redelivered bool
	Headers     amqp.Table
	MessageID   string
}

// RetryCount is how many times the runtime has already republished this message.
func (m Message) RetryCount() int {
	return retryCount(m.Headers)
}

// Handler processes one message. Returning nil acks it, an error wrapping
// contracts.ErrMalformedPayload rejects it, and any other error requeues it.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type Consumer struct {
	cfg     ConsumerConfig
	handler Handler
	logger  logging.Logger
	opts    options
	state   stateHolder
}

func NewConsumer(cfg ConsumerConfig, handler Handler, logger logging.Logger, opts ...Option) *Consumer {
	if cfg.Exchange == "" {
		cfg.Exchange = EventsExchange
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "socialbook-" + cfg.Queue.Name
	}

	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		opts:    newOptions(opts),
	}
}

func (c *Consumer) State() State {
	return c.state.Load()
}

func (c *Consumer) Healthy() bool {
	return c.State() == StateConnected
}

func (c *Consumer) Queue() string {
	return c.cfg.Queue.Name
}

func (c *Consumer) component() string {
	return "consumer:" + c.cfg.Queue.Name
}

func (c *Consumer) topology() Topology {
	topo := Topology{
		Exchange: ExchangeSpec{Name: c.cfg.Exchange, Kind: amqp.ExchangeTopic},
		Queues:   []QueueSpec{c.cfg.Queue},
	}
	if c.cfg.DeadLetter {
		topo = topo.WithDeadLetter()
	}
	return topo
}

// Run consumes until ctx is cancelled, reconnecting after every broker failure.
// It returns nil once the session is shut down.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.state.Store(StateDisconnected)

	for {
		if ctx.Err() != nil {
			c.state.Store(StateClosing)
			return nil
		}

		c.state.Store(StateConnecting)
		session, deliveries, err := c.connect()
		if err != nil {
			c.state.Store(StateDisconnected)
			c.opts.metrics.IncReconnect(c.component())
			c.logger.Warn(logging.RabbitMQ, logging.Reconnect, "consumer failed to connect", map[logging.ExtraKey]any{
				logging.Queue:        c.cfg.Queue.Name,
				logging.ErrorMessage: err.Error(),
				logging.RetryIn:      c.cfg.RetryDelay.String(),
			})
			if !c.wait(ctx) {
				c.state.Store(StateClosing)
				return nil
			}
			continue
		}

		c.state.Store(StateConnected)
		c.opts.metrics.SetConnected(c.component(), true)
		c.logger.Info(logging.RabbitMQ, logging.Consume, "consumer connected", map[logging.ExtraKey]any{
			logging.Queue:    c.cfg.Queue.Name,
			logging.Exchange: c.cfg.Exchange,
		})

		err = c.consume(ctx, session, deliveries)
		c.opts.metrics.SetConnected(c.component(), false)

		if ctx.Err() != nil {
			c.state.Store(StateClosing)
			session.Close(c.logger)
			c.logger.Info(logging.RabbitMQ, logging.Shutdown, "consumer stopped", map[logging.ExtraKey]any{
				logging.Queue: c.cfg.Queue.Name,
			})
			return nil
		}

		c.state.Store(StateDisconnected)
		session.Close(c.logger)
		c.opts.metrics.IncReconnect(c.component())
		c.logger.Warn(logging.RabbitMQ, logging.Reconnect, "consumer connection lost", map[logging.ExtraKey]any{
			logging.Queue:        c.cfg.Queue.Name,
			logging.ErrorMessage: err.Error(),
			logging.RetryIn:      c.cfg.RetryDelay.String(),
		})
		if !c.wait(ctx) {
			c.state.Store(StateClosing)
			return nil
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.RetryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Consumer) connect() (*RabbitMQ, <-chan amqp.Delivery, error) {
	session, err := NewRabbitMQ(c.opts.dial, c.cfg.URL, c.cfg.ConsumerTag)
	if err != nil {
		return nil, nil, err
	}

	// A capped retry acks the original only after its copy is confirmed.
	if c.cfg.MaxRedeliveries > 0 {
		if err := session.EnableConfirms(); err != nil {
			session.Close(c.logger)
			return nil, nil, err
		}
	}

	deliveries, err := c.setup(session.Channel)
	if err != nil {
		session.Close(c.logger)
		return nil, nil, err
	}
	return session, deliveries, nil
}

func (c *Consumer) setup(ch Channel) (<-chan amqp.Delivery, error) {
	topo := c.topology()
	if err := DeclareExchange(ch, topo); err != nil {
		return nil, err
	}
	if err := DeclareQueue(ch, topo, c.cfg.Queue); err != nil {
		return nil, err
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		c.cfg.Queue.Name, // queue
		c.cfg.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", c.cfg.Queue.Name, err)
	}
	return deliveries, nil
}

func (c *Consumer) consume(ctx context.Context, session *RabbitMQ, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-session.Done():
			return session.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(ctx, session, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, session *RabbitMQ, d amqp.Delivery) {
	start := c.opts.now()

	msg := Message{
		Queue:       c.cfg.Queue.Name,
		RoutingKey:  originalRoutingKey(d),
		Body:        d.Body,
		Redelivered: d.Redelivered,
		Headers:     d.Headers,
		MessageID:   d.MessageId,
	}

	msgCtx := tracing.Extract(ctx, d.Headers)
	msgCtx, span := c.opts.tracer.Start(msgCtx, "consume "+msg.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", msg.Queue),
			attribute.String("messaging.rabbitmq.destination.routing_key", msg.RoutingKey),
			attribute.String("messaging.message.id", msg.MessageID),
		),
	)
	defer span.End()

	err := c.invoke(msgCtx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	outcome := c.settle(msgCtx, session, d, msg, err)
	c.opts.metrics.ObserveConsume(msg.Queue, outcome, c.opts.now().Sub(start))
}

func (c *Consumer) invoke(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, msg)
}

func (c *Consumer) settle(ctx context.Context, session *RabbitMQ, d amqp.Delivery, msg Message, err error) string {
	extra := map[logging.ExtraKey]any{
		logging.Queue:       msg.Queue,
		logging.RoutingKey:  msg.RoutingKey,
		logging.MessageID:   msg.MessageID,
		logging.Redelivered: msg.Redelivered,
	}

	switch Classify(err) {
	case Ack:
		c.logger.Debug(logging.RabbitMQ, logging.Consume, "message processed", extra)
		c.settleErr(d.Ack(false), extra)
		return "ack"

	case Reject:
		extra[logging.ErrorMessage] = err.Error()
		c.logger.Error(logging.RabbitMQ, logging.Consume, "rejecting malformed message", extra)
		c.settleErr(d.Nack(false, false), extra)
		return "reject"
	}

	extra[logging.ErrorMessage] = err.Error()

	if c.cfg.MaxRedeliveries <= 0 {
		c.logger.Warn(logging.RabbitMQ, logging.Consume, "handler failed, requeueing message", extra)
		c.settleErr(d.Nack(false, true), extra)
		return "requeue"
	}

	retries := msg.RetryCount()
	extra[logging.RetryCount] = retries
	if retries >= c.cfg.MaxRedeliveries {
		c.logger.Error(logging.RabbitMQ, logging.Consume, "redelivery limit reached, dead-lettering message", extra)
		c.settleErr(d.Nack(false, false), extra)
		return "dead_letter"
	}

	if perr := c.republish(ctx, session, d, msg, retries+1); perr != nil {
		extra[logging.Reason] = perr.Error()
		c.logger.Warn(logging.RabbitMQ, logging.Consume, "retry republish failed, requeueing message", extra)
		c.settleErr(d.Nack(false, true), extra)
		return "requeue"
	}

	c.logger.Warn(logging.RabbitMQ, logging.Consume, "handler failed, message scheduled for retry", extra)
	c.settleErr(d.Ack(false), extra)
	return "requeue"
}

// republish sends a copy straight back to the queue through the default exchange
// and waits for the broker to confirm it.
func (c *Consumer) republish(ctx context.Context, session *RabbitMQ, d amqp.Delivery, msg Message, count int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryCountHeader] = int32(count)
	headers[OriginalRoutingKeyHeader] = msg.RoutingKey

	contentType := d.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	return session.PublishConfirmed(ctx, "", msg.Queue, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Headers:      headers,
		Body:         d.Body,
	})
}

func (c *Consumer) settleErr(err error, extra map[logging.ExtraKey]any) {
	if err == nil {
		return
	}
	fields := make(map[logging.ExtraKey]any, len(extra)+1)
	for k, v := range extra {
		fields[k] = v
	}
	fields[logging.Reason] = err.Error()
	c.logger.Error(logging.RabbitMQ, logging.Consume, "failed to settle message", fields)
}

func originalRoutingKey(d amqp.Delivery) string {
	if key, ok := d.Headers[OriginalRoutingKeyHeader].(string); ok && key != "" {
		return key
	}
	return d.RoutingKey
}

func retryCount(headers amqp.Table) int {
	switch v := headers[RetryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}
