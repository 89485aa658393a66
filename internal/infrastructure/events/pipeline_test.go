package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging/amqptest"
)

type pipeline struct {
	broker    *amqptest.Broker
	publisher *ReviewPublisher
	ctx       context.Context
	cancel    context.CancelFunc
	done      []chan error
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	broker := amqptest.New()
	pub := messaging.NewPublisher(messaging.PublisherConfig{
		URL:        "amqp://test",
		RetryDelay: 10 * time.Millisecond,
	}, logging.NewNop(), messaging.WithDialer(broker.Dialer()))
	if err := pub.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		broker:    broker,
		publisher: NewReviewPublisher(pub, logging.NewNop()),
		cancel:    cancel,
	}

	t.Cleanup(func() {
		cancel()
		for _, done := range p.done {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Error("consumer did not stop")
			}
		}
		pub.Close()
	})

	p.ctx = ctx
	return p
}

func (p *pipeline) run(t *testing.T, queue string, handler messaging.Handler) *messaging.Consumer {
	t.Helper()

	spec, ok := messaging.DefaultTopology("").Queue(queue)
	if !ok {
		t.Fatalf("unknown queue %s", queue)
	}

	c := messaging.NewConsumer(messaging.ConsumerConfig{
		URL:        "amqp://test",
		Queue:      spec,
		Prefetch:   1,
		RetryDelay: 10 * time.Millisecond,
	}, handler, logging.NewNop(), messaging.WithDialer(p.broker.Dialer()))

	done := make(chan error, 1)
	p.done = append(p.done, done)
	go func() { done <- c.Run(p.ctx) }()

	amqptest.Eventually(t, time.Second, c.Healthy, "consumer on %s connected", queue)
	return c
}

func TestPipeline_CommentNotifiesAndEmails(t *testing.T) {
	p := newPipeline(t)

	repo := &fakeRepo{}
	mail := &fakeMailer{}
	p.run(t, messaging.CommentNotificationsQueue, NewNotificationConsumer(repo, logging.NewNop()))
	p.run(t, messaging.CommentEmailsQueue, NewEmailConsumer(smtpConfig(), mail, fakeDirectory{err: errors.New("identity provider unavailable")}, logging.NewNop()))

	result := p.publisher.PublishReviewCommented(context.Background(), contracts.ReviewCommented{
		TargetUser: "alex",
		User:       "mila",
		Message:    "hi",
		ReviewID:   "r1",
		CommentID:  "c1",
	})
	if !result.Published {
		t.Fatalf("expected publish, got %s", result)
	}

	amqptest.Eventually(t, time.Second, func() bool {
		return len(repo.stored()) == 1 && len(mail.emails()) == 1
	}, "notification stored and email sent")

	n := repo.stored()[0]
	if n.User != "alex" || n.Actor != "mila" || n.Message != "hi" || n.ReviewID != "r1" || n.CommentID != "c1" || n.Read {
		t.Errorf("unexpected notification %+v", n)
	}

	email := mail.emails()[0]
	if email.To != "ops@socialbook.local" {
		t.Errorf("expected fallback recipient, got %q", email.To)
	}
	want := `{"targetUser":"alex","user":"mila","message":"hi","reviewId":"r1","commentId":"c1"}`
	if email.Body != want {
		t.Errorf("expected raw payload body %s, got %s", want, email.Body)
	}
}

func TestPipeline_ImportOnlyReachesImportQueue(t *testing.T) {
	p := newPipeline(t)

	repo := &fakeRepo{}
	mail := &fakeMailer{}
	imports := &recorder{}
	p.run(t, messaging.CommentNotificationsQueue, NewNotificationConsumer(repo, logging.NewNop()))
	p.run(t, messaging.CommentEmailsQueue, NewEmailConsumer(smtpConfig(), mail, nil, logging.NewNop()))
	p.run(t, messaging.ImportsQueue, imports)

	if !p.publisher.EnqueueImport(context.Background(), contracts.ImportRequested{Query: "Dune"}).Published {
		t.Fatal("expected import to be published")
	}

	amqptest.Eventually(t, time.Second, func() bool { return imports.count() == 1 }, "import consumed")

	if repo.createCalls() != 0 || len(mail.emails()) != 0 {
		t.Errorf("comment consumers must not see imports: %d writes, %d emails", repo.createCalls(), len(mail.emails()))
	}
	for _, queue := range []string{messaging.NotificationsQueue, messaging.RecommendationsQueue, messaging.FeedFanoutQueue} {
		if got := p.broker.Stats(queue).Ready; got != 0 {
			t.Errorf("expected %s to stay empty, got %d", queue, got)
		}
	}
}

func TestPipeline_TransientFailureStoresOnce(t *testing.T) {
	p := newPipeline(t)

	repo := &fakeRepo{failures: []error{errors.New("mongo: no reachable servers")}}
	p.run(t, messaging.CommentNotificationsQueue, NewNotificationConsumer(repo, logging.NewNop()))

	p.publisher.PublishReviewCommented(context.Background(), contracts.ReviewCommented{TargetUser: "alex", User: "mila", ReviewID: "r1", CommentID: "c1"})

	amqptest.Eventually(t, time.Second, func() bool {
		return p.broker.Stats(messaging.CommentNotificationsQueue).Acked == 1
	}, "message acked after one redelivery")

	if repo.createCalls() != 2 {
		t.Errorf("expected exactly one retry, got %d attempts", repo.createCalls())
	}
	if len(repo.stored()) != 1 {
		t.Errorf("expected one stored notification, got %d", len(repo.stored()))
	}
}

func TestPipeline_MalformedIsDroppedNotRetried(t *testing.T) {
	p := newPipeline(t)

	repo := &fakeRepo{}
	p.run(t, messaging.CommentNotificationsQueue, NewNotificationConsumer(repo, logging.NewNop()))

	// Raw bytes that bypass the typed publisher.
	if err := p.broker.Publish(messaging.EventsExchange, contracts.EventReviewCommented, amqpText("not json")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	amqptest.Eventually(t, time.Second, func() bool {
		return p.broker.Stats(messaging.CommentNotificationsQueue).Rejected == 1
	}, "malformed message rejected")

	if repo.createCalls() != 0 {
		t.Error("expected no write for a malformed message")
	}
	if got := p.broker.Stats(messaging.CommentNotificationsQueue).Requeued; got != 0 {
		t.Errorf("expected no requeue, got %d", got)
	}
}
