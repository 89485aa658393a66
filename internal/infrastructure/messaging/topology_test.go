package messaging_test

import (
	"reflect"
	"testing"

	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging/amqptest"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"review.created", "review.created", true},
		{"review.created", "review.commented", false},
		{"review.*", "review.commented", true},
		{"review.*", "review", false},
		{"review.*", "review.comment.reply", false},
		{"review.#", "review", true},
		{"review.#", "review.comment.reply", true},
		{"#", "import.requested", true},
		{"#.requested", "import.requested", true},
		{"*.requested", "bulk.import.requested", false},
		{"#.reply", "review.comment.reply", true},
	}

	for _, tt := range tests {
		if got := messaging.MatchTopic(tt.pattern, tt.key); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestDefaultTopology_Routing(t *testing.T) {
	topo := messaging.DefaultTopology("")

	if topo.Exchange.Name != messaging.EventsExchange || topo.Exchange.Kind != amqp.ExchangeTopic {
		t.Fatalf("unexpected exchange %+v", topo.Exchange)
	}

	got := topo.QueuesFor("review.created")
	want := []string{messaging.NotificationsQueue, messaging.RecommendationsQueue, messaging.FeedFanoutQueue}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("review.created routes to %v, want %v", got, want)
	}

	got = topo.QueuesFor("import.requested")
	if !reflect.DeepEqual(got, []string{messaging.ImportsQueue}) {
		t.Errorf("import.requested routes to %v", got)
	}

	got = topo.QueuesFor("review.commented")
	want = []string{messaging.CommentNotificationsQueue, messaging.CommentEmailsQueue}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("review.commented routes to %v, want %v", got, want)
	}

	if got := topo.QueuesFor("booklist.shared"); len(got) != 0 {
		t.Errorf("expected no queue for an unbound key, got %v", got)
	}

	if _, ok := topo.Queue(messaging.ImportsQueue); !ok {
		t.Error("expected imports queue in default topology")
	}
	if _, ok := topo.Queue("socialbook.unknown"); ok {
		t.Error("expected lookup of unknown queue to fail")
	}
}

func TestDeclare_Idempotent(t *testing.T) {
	broker := amqptest.New()
	conn, err := broker.Dial("amqp://test", "topology")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("Channel failed: %v", err)
	}

	topo := messaging.DefaultTopology(messaging.EventsExchange)
	for i := 0; i < 2; i++ {
		if err := messaging.Declare(ch, topo); err != nil {
			t.Fatalf("Declare #%d failed: %v", i+1, err)
		}
	}

	if got := broker.Exchanges(); !reflect.DeepEqual(got, []string{messaging.EventsExchange}) {
		t.Errorf("expected one exchange, got %v", got)
	}
	if got := len(broker.Queues()); got != len(topo.Queues) {
		t.Errorf("expected %d queues, got %d", len(topo.Queues), got)
	}
	if got := broker.BindingCount(); got != len(topo.Queues) {
		t.Errorf("expected %d bindings, got %d", len(topo.Queues), got)
	}
	if kind, _ := broker.ExchangeKind(messaging.EventsExchange); kind != amqp.ExchangeTopic {
		t.Errorf("expected topic exchange, got %q", kind)
	}
}

func TestDeclare_DeadLetter(t *testing.T) {
	broker := amqptest.New()
	conn, _ := broker.Dial("amqp://test", "topology")
	ch, _ := conn.Channel()

	topo := messaging.DefaultTopology("").WithDeadLetter()
	if err := messaging.Declare(ch, topo); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}

	if kind, ok := broker.ExchangeKind(messaging.DeadLetterExchange); !ok || kind != amqp.ExchangeFanout {
		t.Errorf("expected fanout dead-letter exchange, got %q (declared=%v)", kind, ok)
	}

	args := broker.QueueArgs(messaging.ImportsQueue)
	if args["x-dead-letter-exchange"] != messaging.DeadLetterExchange {
		t.Errorf("expected dead-letter argument on queue, got %v", args)
	}
	if args := broker.QueueArgs(messaging.DeadLetterQueue); len(args) != 0 {
		t.Errorf("dead-letter queue must not dead-letter itself, got %v", args)
	}

	// Redeclaring an existing queue with different arguments is refused, as on RabbitMQ.
	if err := messaging.Declare(ch, messaging.DefaultTopology("")); err == nil {
		t.Error("expected redeclare without dead-letter arguments to fail")
	}
}
