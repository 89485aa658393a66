package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	"github.com/hilthontt/socialbook/internal/infrastructure/identity"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.NewFromZap(zap.New(core)), logs
}

func commentMessage(body string) messaging.Message {
	return messaging.Message{
		Queue:      messaging.CommentNotificationsQueue,
		RoutingKey: contracts.EventReviewCommented,
		Body:       []byte(body),
		MessageID:  "m1",
	}
}

func TestNotificationConsumer_StoresNotification(t *testing.T) {
	repo := &fakeRepo{}
	c := NewNotificationConsumer(repo, logging.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	err := c.Handle(context.Background(), commentMessage(`{"targetUser":"alex","user":"mila","message":"hi","reviewId":"r1","commentId":"c1"}`))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	stored := repo.stored()
	if len(stored) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(stored))
	}
	n := stored[0]
	if n.User != "alex" || n.Actor != "mila" || n.Message != "hi" || n.ReviewID != "r1" || n.CommentID != "c1" || n.Read {
		t.Errorf("unexpected notification %+v", n)
	}
	if !n.CreatedAt.Equal(now) {
		t.Errorf("expected server timestamp %v, got %v", now, n.CreatedAt)
	}
}

func TestNotificationConsumer_NoTargetUserIsNoop(t *testing.T) {
	repo := &fakeRepo{}
	c := NewNotificationConsumer(repo, logging.NewNop())

	if err := c.Handle(context.Background(), commentMessage(`{"user":"mila","message":"hi"}`)); err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if repo.createCalls() != 0 {
		t.Errorf("expected no write, got %d", repo.createCalls())
	}
}

func TestNotificationConsumer_Malformed(t *testing.T) {
	c := NewNotificationConsumer(&fakeRepo{}, logging.NewNop())

	for _, body := range []string{`not json`, `[1,2]`, `"alex"`, `{"targetUser":42}`} {
		err := c.Handle(context.Background(), commentMessage(body))
		if messaging.Classify(err) != messaging.Reject {
			t.Errorf("body %s: expected reject, got %v", body, err)
		}
	}
}

func TestNotificationConsumer_StoreFailureIsTransient(t *testing.T) {
	repo := &fakeRepo{failures: []error{errors.New("server selection timeout")}}
	c := NewNotificationConsumer(repo, logging.NewNop())

	err := c.Handle(context.Background(), commentMessage(`{"targetUser":"alex","user":"mila"}`))
	if messaging.Classify(err) != messaging.Requeue {
		t.Errorf("expected requeue, got %v", err)
	}
}

func smtpConfig() configs.SMTPConfig {
	return configs.SMTPConfig{Host: "smtp.local", Port: 587, From: "no-reply@socialbook.local", To: "ops@socialbook.local"}
}

func TestEmailConsumer_MissingSMTPConfigAcks(t *testing.T) {
	logger, logs := newObservedLogger()
	m := &fakeMailer{}
	c := NewEmailConsumer(configs.SMTPConfig{Host: "smtp.local"}, m, nil, logger)

	if err := c.Handle(context.Background(), commentMessage(`{"targetUser":"alex"}`)); err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if len(m.emails()) != 0 {
		t.Error("expected no email without an operator address")
	}

	entries := logs.FilterMessage("missing SMTP config").All()
	if len(entries) != 1 || entries[0].ContextMap()[string(logging.Payload)] != `{"targetUser":"alex"}` {
		t.Errorf("expected payload to be logged, got %v", entries)
	}
}

func TestEmailConsumer_MalformedWithoutSMTP(t *testing.T) {
	logger, logs := newObservedLogger()
	m := &fakeMailer{}
	c := NewEmailConsumer(configs.SMTPConfig{}, m, nil, logger)

	if err := c.Handle(context.Background(), commentMessage(`not json`)); messaging.Classify(err) != messaging.Reject {
		t.Errorf("expected reject, got %v", err)
	}
	if len(m.emails()) != 0 {
		t.Error("expected no email for a malformed body")
	}
	if logs.FilterMessage("missing SMTP config").Len() != 0 {
		t.Error("expected malformed body to be rejected before the SMTP check")
	}
}

func TestEmailConsumer_ResolvesRecipient(t *testing.T) {
	m := &fakeMailer{}
	dir := fakeDirectory{users: map[string]identity.User{"alex": {Username: "alex", Email: "alex@example.com"}}}
	c := NewEmailConsumer(smtpConfig(), m, dir, logging.NewNop())

	body := `{"targetUser":"alex","user":"mila","message":"hi"}`
	if err := c.Handle(context.Background(), commentMessage(body)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	sent := m.emails()
	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	if sent[0].To != "alex@example.com" || sent[0].From != "no-reply@socialbook.local" || sent[0].Subject != EmailSubject || sent[0].Body != body {
		t.Errorf("unexpected email %+v", sent[0])
	}
}

func TestEmailConsumer_FallsBackToOperatorAddress(t *testing.T) {
	cases := map[string]identity.UserDirectory{
		"no directory":   nil,
		"lookup error":   fakeDirectory{err: errors.New("connection refused")},
		"user not found": fakeDirectory{users: map[string]identity.User{}},
		"no email":       fakeDirectory{users: map[string]identity.User{"alex": {Username: "alex"}}},
	}

	for name, dir := range cases {
		t.Run(name, func(t *testing.T) {
			m := &fakeMailer{}
			c := NewEmailConsumer(smtpConfig(), m, dir, logging.NewNop())

			if err := c.Handle(context.Background(), commentMessage(`{"targetUser":"alex"}`)); err != nil {
				t.Fatalf("Handle failed: %v", err)
			}
			if sent := m.emails(); len(sent) != 1 || sent[0].To != "ops@socialbook.local" {
				t.Errorf("expected fallback recipient, got %+v", sent)
			}
		})
	}
}

func TestEmailConsumer_SendFailureIsTransient(t *testing.T) {
	c := NewEmailConsumer(smtpConfig(), &fakeMailer{err: errors.New("421 try again later")}, nil, logging.NewNop())

	err := c.Handle(context.Background(), commentMessage(`{"targetUser":"alex"}`))
	if messaging.Classify(err) != messaging.Requeue {
		t.Errorf("expected requeue, got %v", err)
	}
}

func TestEmailConsumer_MalformedWithSMTP(t *testing.T) {
	c := NewEmailConsumer(smtpConfig(), &fakeMailer{}, nil, logging.NewNop())

	if err := c.Handle(context.Background(), commentMessage(`oops`)); messaging.Classify(err) != messaging.Reject {
		t.Errorf("expected reject, got %v", err)
	}
}

func TestLogConsumer(t *testing.T) {
	logger, logs := newObservedLogger()
	c := NewLogConsumer(logger)

	msg := messaging.Message{Queue: messaging.RecommendationsQueue, RoutingKey: contracts.EventReviewCreated, Body: []byte(`{"user":"mila","book":"Dune"}`)}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if logs.FilterMessage(`[socialbook.recommendations] {"user":"mila","book":"Dune"}`).Len() != 1 {
		t.Errorf("expected payload log line, got %v", logs.All())
	}

	for _, body := range []string{`{"user":"mila","book":"Dune","rating":"4.5"}`, `{"user":"mila","created_at":1700000000}`} {
		msg.Body = []byte(body)
		if err := c.Handle(context.Background(), msg); err != nil {
			t.Errorf("body %s: expected ack for a well-formed object, got %v", body, err)
		}
	}

	for _, body := range []string{`42`, `not json`} {
		msg.Body = []byte(body)
		if err := c.Handle(context.Background(), msg); messaging.Classify(err) != messaging.Reject {
			t.Errorf("body %s: expected reject, got %v", body, err)
		}
	}
}

func TestReviewPublisher(t *testing.T) {
	fake := &fakePublisher{}
	p := NewReviewPublisher(fake, logging.NewNop())
	ctx := context.Background()

	if !p.PublishReviewCommented(ctx, contracts.ReviewCommented{TargetUser: "alex", User: "mila", ReviewID: "r1"}).Published {
		t.Error("expected comment event to be published")
	}
	if !p.EnqueueImport(ctx, contracts.ImportRequested{Query: "Dune"}).Published {
		t.Error("expected import to be published")
	}
	if !p.PublishReviewCreated(ctx, contracts.ReviewCreated{User: "mila", Book: "Dune", Rating: 5}).Published {
		t.Error("expected review event to be published")
	}

	want := []string{contracts.EventReviewCommented, contracts.EventImportRequested, contracts.EventReviewCreated}
	for i, key := range want {
		if fake.keys[i] != key {
			t.Errorf("publish %d: expected %s, got %s", i, key, fake.keys[i])
		}
	}

	result := p.EnqueueImport(ctx, contracts.ImportRequested{})
	if result.Published || result.Reason != messaging.ReasonInvalidPayload || result.Err == nil {
		t.Errorf("expected invalid payload skip, got %+v", result)
	}
	if len(fake.keys) != 3 {
		t.Errorf("invalid events must not reach the publisher, got %d publishes", len(fake.keys))
	}
}
