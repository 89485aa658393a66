package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/tracing"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const publisherComponent = "publisher"

var ErrPublisherClosed = errors.New("publisher closed")

type PublisherConfig struct {
	URL            string
	Exchange       string
	RetryDelay     time.Duration
	ConnectionName string
	// Topology defaults to DefaultTopology(Exchange).
	Topology *Topology
}

type SkipReason string

const (
	ReasonChannelNotReady SkipReason = "channel_not_ready"
	ReasonEncodeFailed    SkipReason = "encode_failed"
	ReasonPublishFailed   SkipReason = "publish_failed"
	ReasonInvalidPayload  SkipReason = "invalid_payload"
)

// PublishResult reports what happened to one Publish call. Publishing is
// best effort: callers inspect the result, they never receive an error.
type PublishResult struct {
	Published bool
	Reason    SkipReason
	MessageID string
	Err       error
}

func (r PublishResult) Skipped() bool { return !r.Published }

func (r PublishResult) String() string {
	if r.Published {
		return "published"
	}
	return "skipped: " + string(r.Reason)
}

// Publisher sends events to the topic exchange over a single lazily (re)built session.
type Publisher struct {
	cfg    PublisherConfig
	topo   Topology
	logger logging.Logger
	opts   options

	connectMu sync.Mutex
	mu        sync.Mutex
	session   *RabbitMQ
	closed    bool
	state     stateHolder
}

func NewPublisher(cfg PublisherConfig, logger logging.Logger, opts ...Option) *Publisher {
	if cfg.Exchange == "" {
		cfg.Exchange = EventsExchange
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.ConnectionName == "" {
		cfg.ConnectionName = "socialbook-publisher"
	}

	topo := DefaultTopology(cfg.Exchange)
	if cfg.Topology != nil {
		topo = *cfg.Topology
	}

	return &Publisher{
		cfg:    cfg,
		topo:   topo,
		logger: logger,
		opts:   newOptions(opts),
	}
}

func (p *Publisher) State() State {
	return p.state.Load()
}

func (p *Publisher) Topology() Topology {
	return p.topo
}

// Connect builds a session and declares the topology. It is a no-op while a session is live.
func (p *Publisher) Connect(ctx context.Context) error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return ErrPublisherClosed
	case p.session != nil:
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	p.state.Store(StateConnecting)

	session, err := NewRabbitMQ(p.opts.dial, p.cfg.URL, p.cfg.ConnectionName)
	if err != nil {
		p.markDisconnected()
		return err
	}

	if err := Declare(session.Channel, p.topo); err != nil {
		session.Close(p.logger)
		p.markDisconnected()
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		session.Close(p.logger)
		return ErrPublisherClosed
	}
	p.session = session
	p.state.Store(StateConnected)
	p.mu.Unlock()

	p.opts.metrics.SetConnected(publisherComponent, true)
	p.logger.Info(logging.RabbitMQ, logging.Startup, "publisher connected", map[logging.ExtraKey]any{
		logging.Exchange: p.cfg.Exchange,
	})

	go p.watch(session)

	return nil
}

// Start connects once and keeps reconnecting in the background until ctx is done.
// A broker that is down at startup is not fatal.
func (p *Publisher) Start(ctx context.Context) {
	if err := p.Connect(ctx); err != nil {
		p.logger.Warn(logging.RabbitMQ, logging.Startup, "publisher could not connect, events will be skipped until it does", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
			logging.RetryIn:      p.cfg.RetryDelay.String(),
		})
	}

	go p.maintain(ctx)
}

func (p *Publisher) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RetryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if p.isClosed() {
			return
		}
		if p.State() == StateConnected {
			continue
		}

		if err := p.Connect(ctx); err != nil {
			if errors.Is(err, ErrPublisherClosed) {
				return
			}
			p.opts.metrics.IncReconnect(publisherComponent)
			p.logger.Warn(logging.RabbitMQ, logging.Reconnect, "publisher reconnect failed", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
				logging.RetryIn:      p.cfg.RetryDelay.String(),
			})
		}
	}
}

func (p *Publisher) watch(session *RabbitMQ) {
	<-session.Done()
	if p.invalidate(session) {
		p.logger.Warn(logging.RabbitMQ, logging.Reconnect, "publisher session lost", map[logging.ExtraKey]any{
			logging.ErrorMessage: session.Err().Error(),
		})
	}
}

// invalidate drops session if it is still the current one.
func (p *Publisher) invalidate(session *RabbitMQ) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != session {
		return false
	}
	p.session = nil
	if !p.closed {
		p.state.Store(StateDisconnected)
	}
	p.opts.metrics.SetConnected(publisherComponent, false)
	return true
}

func (p *Publisher) current() *RabbitMQ {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *Publisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Publisher) markDisconnected() {
	p.state.Store(StateDisconnected)
	p.opts.metrics.SetConnected(publisherComponent, false)
}

// Publish serializes payload as JSON and sends it persistently under routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) PublishResult {
	session := p.current()
	if session == nil {
		p.logger.Warn(logging.RabbitMQ, logging.Publish, "channel not ready; skipping publish", map[logging.ExtraKey]any{
			logging.RoutingKey: routingKey,
		})
		return p.skip(routingKey, ReasonChannelNotReady, nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error(logging.RabbitMQ, logging.Publish, "failed to encode event", map[logging.ExtraKey]any{
			logging.RoutingKey:   routingKey,
			logging.ErrorMessage: err.Error(),
		})
		return p.skip(routingKey, ReasonEncodeFailed, err)
	}

	ctx, span := p.opts.tracer.Start(ctx, "publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.cfg.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		),
	)
	defer span.End()

	messageID := uuid.NewString()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    p.opts.now().UTC(),
		Headers:      tracing.Inject(ctx, nil),
		Body:         body,
	}

	if err := session.Channel.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")

		if p.invalidate(session) {
			session.Close(p.logger)
		}
		p.logger.Warn(logging.RabbitMQ, logging.Publish, "failed to publish event", map[logging.ExtraKey]any{
			logging.RoutingKey:   routingKey,
			logging.MessageID:    messageID,
			logging.ErrorMessage: err.Error(),
		})
		return p.skip(routingKey, ReasonPublishFailed, fmt.Errorf("publish %s: %w", routingKey, err))
	}

	p.opts.metrics.ObservePublish(routingKey, "published")
	p.logger.Debug(logging.RabbitMQ, logging.Publish, "event published", map[logging.ExtraKey]any{
		logging.RoutingKey: routingKey,
		logging.MessageID:  messageID,
	})

	return PublishResult{Published: true, MessageID: messageID}
}

func (p *Publisher) skip(routingKey string, reason SkipReason, err error) PublishResult {
	p.opts.metrics.ObservePublish(routingKey, string(reason))
	return PublishResult{Reason: reason, Err: err}
}

// Close shuts the session down. It is safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.state.Store(StateClosing)
	session := p.session
	p.session = nil
	p.mu.Unlock()

	if session != nil {
		session.Close(p.logger)
	}

	p.state.Store(StateDisconnected)
	p.opts.metrics.SetConnected(publisherComponent, false)
	p.logger.Info(logging.RabbitMQ, logging.Shutdown, "publisher closed", nil)
}
