package messaging

import (
	"fmt"
	"strings"

	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

type ExchangeSpec struct {
	Name string
	Kind string
}

type QueueSpec struct {
	Name     string
	Bindings []string
}

// DeadLetterSpec names the fanout exchange and queue that collect rejected messages.
type DeadLetterSpec struct {
	Exchange string
	Queue    string
}

type Topology struct {
	Exchange   ExchangeSpec
	Queues     []QueueSpec
	DeadLetter *DeadLetterSpec
}

func DefaultTopology(exchange string) Topology {
	if exchange == "" {
		exchange = EventsExchange
	}

	return Topology{
		Exchange: ExchangeSpec{Name: exchange, Kind: amqp.ExchangeTopic},
		Queues: []QueueSpec{
			{Name: NotificationsQueue, Bindings: []string{contracts.EventReviewCreated}},
			{Name: RecommendationsQueue, Bindings: []string{contracts.EventReviewCreated}},
			{Name: ImportsQueue, Bindings: []string{contracts.EventImportRequested}},
			{Name: FeedFanoutQueue, Bindings: []string{contracts.EventReviewCreated}},
			{Name: CommentNotificationsQueue, Bindings: []string{contracts.EventReviewCommented}},
			{Name: CommentEmailsQueue, Bindings: []string{contracts.EventReviewCommented}},
		},
	}
}

// WithDeadLetter returns a copy of t that routes rejected messages to the default dead-letter pair.
func (t Topology) WithDeadLetter() Topology {
	t.DeadLetter = &DeadLetterSpec{Exchange: DeadLetterExchange, Queue: DeadLetterQueue}
	return t
}

func (t Topology) Queue(name string) (QueueSpec, bool) {
	for _, q := range t.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueSpec{}, false
}

// QueuesFor lists the queues a message published with routingKey lands in.
func (t Topology) QueuesFor(routingKey string) []string {
	var names []string
	for _, q := range t.Queues {
		for _, pattern := range q.Bindings {
			if MatchTopic(pattern, routingKey) {
				names = append(names, q.Name)
				break
			}
		}
	}
	return names
}

// MatchTopic applies topic exchange rules: "*" matches one word, "#" zero or more.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

// Declare declares the exchange, every queue and every binding. Redeclaring an
// identical topology is a no-op on the broker.
func Declare(ch Channel, topo Topology) error {
	if err := DeclareExchange(ch, topo); err != nil {
		return err
	}
	for _, q := range topo.Queues {
		if err := DeclareQueue(ch, topo, q); err != nil {
			return err
		}
	}
	return nil
}

// DeclareExchange declares the events exchange and, when configured, the dead-letter pair.
func DeclareExchange(ch Channel, topo Topology) error {
	kind := topo.Exchange.Kind
	if kind == "" {
		kind = amqp.ExchangeTopic
	}
	if err := ch.ExchangeDeclare(topo.Exchange.Name, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", topo.Exchange.Name, err)
	}

	if topo.DeadLetter == nil {
		return nil
	}

	dl := topo.DeadLetter
	if err := ch.ExchangeDeclare(dl.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange %s: %w", dl.Exchange, err)
	}
	if _, err := ch.QueueDeclare(dl.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %s: %w", dl.Queue, err)
	}
	if err := ch.QueueBind(dl.Queue, "", dl.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %s: %w", dl.Queue, err)
	}
	return nil
}

// DeclareQueue declares one durable queue and binds it to each of its routing keys.
func DeclareQueue(ch Channel, topo Topology, q QueueSpec) error {
	var args amqp.Table
	if topo.DeadLetter != nil {
		args = amqp.Table{"x-dead-letter-exchange": topo.DeadLetter.Exchange}
	}

	if _, err := ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
	}

	for _, key := range q.Bindings {
		if err := ch.QueueBind(q.Name, key, topo.Exchange.Name, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, key, err)
		}
	}
	return nil
}
