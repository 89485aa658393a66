// Package amqptest provides an in-memory broker that speaks the messaging
// Connection and Channel seams, with topic routing, manual acks and fault injection.
package amqptest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultWindow = 256

// ErrForced is the close reason used by DropConnections.
var ErrForced = &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true}

type Published struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

type QueueStats struct {
	Ready     int
	Unacked   int
	Consumers int
	Acked     int
	Rejected  int
	Requeued  int
}

type message struct {
	exchange    string
	routingKey  string
	pub         amqp.Publishing
	redelivered bool
}

type binding struct {
	queue    string
	key      string
	exchange string
}

type queue struct {
	name      string
	args      amqp.Table
	ready     []message
	consumers []*consumer
	next      int
	stats     QueueStats
}

type consumer struct {
	ch         *Channel
	tag        string
	autoAck    bool
	inflight   int
	deliveries chan amqp.Delivery
}

type inflight struct {
	queue    *queue
	consumer *consumer
	msg      message
}

// Broker is safe for concurrent use. Its zero value is not usable; call New.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]string
	queues    map[string]*queue
	bindings  []binding
	conns     map[*Connection]struct{}
	published []Published
	dropped   []Published
	dials     int

	dialErr    error
	channelErr error
	declareErr error
	publishErr error

	nackPublishes bool
}

func New() *Broker {
	return &Broker{
		exchanges: map[string]string{},
		queues:    map[string]*queue{},
		conns:     map[*Connection]struct{}{},
	}
}

// Dial satisfies messaging.Dialer.
func (b *Broker) Dial(url, name string) (messaging.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}

	conn := &Connection{broker: b, name: name}
	b.conns[conn] = struct{}{}
	return conn, nil
}

func (b *Broker) Dialer() messaging.Dialer {
	return b.Dial
}

// SetDialErr makes every dial fail with err until it is reset with nil.
func (b *Broker) SetDialErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

func (b *Broker) SetChannelErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelErr = err
}

// SetDeclareErr makes exchange and queue declarations fail with err.
func (b *Broker) SetDeclareErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declareErr = err
}

func (b *Broker) SetPublishErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// SetNackPublishes makes channels in confirm mode nack every publish. Nacked
// messages are not routed.
func (b *Broker) SetNackPublishes(nack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nackPublishes = nack
}

// DropConnections closes every live connection as if the broker went away.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.conns {
		conn.closeLocked(ErrForced)
	}
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// OpenConnections counts connections that have not been closed.
func (b *Broker) OpenConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *Broker) ExchangeKind(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kind, ok := b.exchanges[name]
	return kind, ok
}

func (b *Broker) Exchanges() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.exchanges))
	for name := range b.exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Broker) QueueArgs(name string) amqp.Table {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q.args
	}
	return nil
}

// Bindings returns the routing keys bound to queue on exchange.
func (b *Broker) Bindings(queueName, exchange string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for _, bd := range b.bindings {
		if bd.queue == queueName && bd.exchange == exchange {
			keys = append(keys, bd.key)
		}
	}
	return keys
}

func (b *Broker) BindingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

func (b *Broker) Stats(queueName string) QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return QueueStats{}
	}
	stats := q.stats
	stats.Ready = len(q.ready)
	stats.Consumers = len(q.consumers)
	for _, c := range q.consumers {
		stats.Unacked += c.inflight
	}
	return stats
}

// Messages returns the bodies waiting in queue, oldest first.
func (b *Broker) Messages(queueName string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	bodies := make([][]byte, 0, len(q.ready))
	for _, m := range q.ready {
		bodies = append(bodies, m.pub.Body)
	}
	return bodies
}

func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// Dropped lists messages rejected without requeue from queues that have no dead-letter exchange.
func (b *Broker) Dropped() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.dropped...)
}

// Publish routes a message as if a client had published it.
func (b *Broker) Publish(exchange, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: key, Msg: msg})
	return b.routeLocked(exchange, key, msg)
}

func (b *Broker) routeLocked(exchange, key string, msg amqp.Publishing) error {
	if exchange == "" {
		if q, ok := b.queues[key]; ok {
			b.enqueueLocked(q, message{exchange: exchange, routingKey: key, pub: msg})
		}
		return nil
	}

	kind, ok := b.exchanges[exchange]
	if !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no exchange '%s'", exchange)}
	}

	seen := map[string]bool{}
	for _, bd := range b.bindings {
		if bd.exchange != exchange || seen[bd.queue] {
			continue
		}

		var match bool
		switch kind {
		case amqp.ExchangeFanout:
			match = true
		case amqp.ExchangeTopic:
			match = messaging.MatchTopic(bd.key, key)
		default:
			match = bd.key == key
		}
		if !match {
			continue
		}

		seen[bd.queue] = true
		if q, ok := b.queues[bd.queue]; ok {
			b.enqueueLocked(q, message{exchange: exchange, routingKey: key, pub: msg})
		}
	}
	return nil
}

func (b *Broker) enqueueLocked(q *queue, m message) {
	m.pub.Headers = copyTable(m.pub.Headers)
	q.ready = append(q.ready, m)
	b.dispatchLocked(q)
}

func (b *Broker) requeueLocked(q *queue, m message) {
	m.redelivered = true
	q.ready = append([]message{m}, q.ready...)
	q.stats.Requeued++
}

func (b *Broker) deadLetterLocked(q *queue, m message) {
	q.stats.Rejected++
	if dlx, ok := q.args["x-dead-letter-exchange"].(string); ok && dlx != "" {
		_ = b.routeLocked(dlx, m.routingKey, m.pub)
		return
	}
	b.dropped = append(b.dropped, Published{Exchange: m.exchange, RoutingKey: m.routingKey, Msg: m.pub})
}

func (b *Broker) dispatchLocked(q *queue) {
	for len(q.ready) > 0 {
		c := q.pick()
		if c == nil {
			return
		}

		m := q.ready[0]
		q.ready = q.ready[1:]

		ch := c.ch
		ch.nextTag++
		tag := ch.nextTag

		d := amqp.Delivery{
			Acknowledger: ch,
			Headers:      copyTable(m.pub.Headers),
			ContentType:  m.pub.ContentType,
			DeliveryMode: m.pub.DeliveryMode,
			MessageId:    m.pub.MessageId,
			Timestamp:    m.pub.Timestamp,
			ConsumerTag:  c.tag,
			DeliveryTag:  tag,
			Redelivered:  m.redelivered,
			Exchange:     m.exchange,
			RoutingKey:   m.routingKey,
			Body:         m.pub.Body,
		}

		if !c.autoAck {
			c.inflight++
			ch.unacked[tag] = &inflight{queue: q, consumer: c, msg: m}
		} else {
			q.stats.Acked++
		}
		c.deliveries <- d
	}
}

// pick returns the next consumer, round robin, with room in its prefetch window.
func (q *queue) pick() *consumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		c := q.consumers[(q.next+i)%n]
		if c.inflight < c.ch.window() && len(c.deliveries) < cap(c.deliveries) {
			q.next = (q.next + i + 1) % n
			return c
		}
	}
	return nil
}

type Connection struct {
	broker   *Broker
	name     string
	closed   bool
	channels []*Channel
	notify   []chan *amqp.Error
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) Channel() (messaging.Channel, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	if b.channelErr != nil {
		return nil, b.channelErr
	}

	ch := &Channel{conn: c, broker: b, unacked: map[uint64]*inflight{}}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Connection) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked(nil)
	return nil
}

func (c *Connection) closeLocked(reason *amqp.Error) {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked(reason)
	}
	notifyLocked(c.notify, reason)
	c.notify = nil
	delete(c.broker.conns, c)
}

// Channel implements messaging.Channel and amqp.Acknowledger.
type Channel struct {
	conn      *Connection
	broker    *Broker
	closed    bool
	prefetch  int
	nextTag   uint64
	consumers []*consumer
	unacked   map[uint64]*inflight
	notify    []chan *amqp.Error

	confirming bool
	publishSeq uint64
	confirms   []chan amqp.Confirmation
}

var (
	_ messaging.Channel = (*Channel)(nil)
	_ amqp.Acknowledger = (*Channel)(nil)
)

func (ch *Channel) window() int {
	if ch.prefetch <= 0 {
		return defaultWindow
	}
	return ch.prefetch
}

func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if b.declareErr != nil {
		return b.declareErr
	}
	if existing, ok := b.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg 'type' for exchange '%s'", name)}
	}
	b.exchanges[name] = kind
	return nil
}

func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if b.declareErr != nil {
		return amqp.Queue{}, b.declareErr
	}

	q, ok := b.queues[name]
	if ok {
		if !sameArgs(q.args, args) {
			return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s'", name)}
		}
	} else {
		q = &queue{name: name, args: copyTable(args)}
		b.queues[name] = q
	}

	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.queues[name]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no queue '%s'", name)}
	}
	if _, ok := b.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no exchange '%s'", exchange)}
	}

	bd := binding{queue: name, key: key, exchange: exchange}
	for _, existing := range b.bindings {
		if existing == bd {
			return nil
		}
	}
	b.bindings = append(b.bindings, bd)
	return nil
}

func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *Channel) Consume(queueName, tag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no queue '%s'", queueName)}
	}

	c := &consumer{
		ch:         ch,
		tag:        tag,
		autoAck:    autoAck,
		deliveries: make(chan amqp.Delivery, ch.window()),
	}
	ch.consumers = append(ch.consumers, c)
	q.consumers = append(q.consumers, c)
	b.dispatchLocked(q)

	return c.deliveries, nil
}

func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if b.publishErr != nil {
		return b.publishErr
	}
	if ch.confirming && b.nackPublishes {
		ch.confirmLocked(false)
		return nil
	}

	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: key, Msg: msg})
	if err := b.routeLocked(exchange, key, msg); err != nil {
		return err
	}
	if ch.confirming {
		ch.confirmLocked(true)
	}
	return nil
}

// Confirm puts the channel in confirm mode. Every later publish is acked on
// the NotifyPublish listeners unless SetNackPublishes is on.
func (ch *Channel) Confirm(noWait bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirming = true
	return nil
}

func (ch *Channel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		close(confirm)
		return confirm
	}
	ch.confirms = append(ch.confirms, confirm)
	return confirm
}

// confirmLocked drops the confirmation for listeners with a full buffer.
func (ch *Channel) confirmLocked(ack bool) {
	ch.publishSeq++
	for _, r := range ch.confirms {
		select {
		case r <- amqp.Confirmation{DeliveryTag: ch.publishSeq, Ack: ack}:
		default:
		}
	}
}

func (ch *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *Channel) Close() error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked(nil)
	return nil
}

func (ch *Channel) closeLocked(reason *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true
	b := ch.broker

	touched := map[*queue]bool{}
	for _, c := range ch.consumers {
		for _, q := range b.queues {
			for i, qc := range q.consumers {
				if qc == c {
					q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
					touched[q] = true
					break
				}
			}
		}
		for len(c.deliveries) > 0 {
			<-c.deliveries
		}
		close(c.deliveries)
	}
	ch.consumers = nil

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	// Requeued in reverse so the oldest delivery ends up first.
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	for _, tag := range tags {
		inf := ch.unacked[tag]
		b.requeueLocked(inf.queue, inf.msg)
		touched[inf.queue] = true
	}
	ch.unacked = map[uint64]*inflight{}

	notifyLocked(ch.notify, reason)
	ch.notify = nil
	for _, r := range ch.confirms {
		close(r)
	}
	ch.confirms = nil

	for q := range touched {
		b.dispatchLocked(q)
	}
}

func (ch *Channel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, func(b *Broker, inf *inflight) {
		inf.queue.stats.Acked++
	})
}

func (ch *Channel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.settle(tag, multiple, func(b *Broker, inf *inflight) {
		if requeue {
			b.requeueLocked(inf.queue, inf.msg)
			return
		}
		b.deadLetterLocked(inf.queue, inf.msg)
	})
}

func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

func (ch *Channel) settle(tag uint64, multiple bool, apply func(*Broker, *inflight)) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	tags := []uint64{tag}
	if multiple {
		tags = tags[:0]
		for t := range ch.unacked {
			if t <= tag {
				tags = append(tags, t)
			}
		}
		sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	}

	touched := map[*queue]bool{}
	for _, t := range tags {
		inf, ok := ch.unacked[t]
		if !ok {
			return &amqp.Error{Code: amqp.PreconditionFailed, Reason: fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", t)}
		}
		delete(ch.unacked, t)
		inf.consumer.inflight--
		apply(b, inf)
		touched[inf.queue] = true
	}

	for q := range touched {
		b.dispatchLocked(q)
	}
	return nil
}

func notifyLocked(receivers []chan *amqp.Error, reason *amqp.Error) {
	for _, r := range receivers {
		if reason != nil {
			select {
			case r <- reason:
			default:
			}
		}
		close(r)
	}
}

func copyTable(t amqp.Table) amqp.Table {
	if t == nil {
		return nil
	}
	out := make(amqp.Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func sameArgs(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met after %s: %s", timeout, fmt.Sprintf(format, args...))
	}
}

// IsForced reports whether err is the close reason DropConnections uses.
func IsForced(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.ConnectionForced
}
