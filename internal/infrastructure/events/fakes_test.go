package events

import (
	"context"
	"sync"

	"github.com/hilthontt/socialbook/internal/domain"
	"github.com/hilthontt/socialbook/internal/infrastructure/identity"
	"github.com/hilthontt/socialbook/internal/infrastructure/mailer"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeRepo struct {
	mu       sync.Mutex
	items    []domain.Notification
	failures []error
	calls    int
}

func (r *fakeRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		if err != nil {
			return err
		}
	}

	for _, existing := range r.items {
		if n.CommentID != "" && existing.User == n.User && existing.CommentID == n.CommentID {
			return nil
		}
	}
	r.items = append(r.items, *n)
	return nil
}

func (r *fakeRepo) ListByUser(_ context.Context, user string, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Notification
	for _, n := range r.items {
		if n.User == user {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkRead(context.Context, string, string) (*domain.Notification, error) {
	return nil, domain.ErrNotificationNotFound
}

func (r *fakeRepo) EnsureIndexes(context.Context) error { return nil }

func (r *fakeRepo) stored() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.items...)
}

func (r *fakeRepo) createCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Email
	err  error
}

func (m *fakeMailer) Send(_ context.Context, email mailer.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) emails() []mailer.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Email(nil), m.sent...)
}

type fakeDirectory struct {
	users map[string]identity.User
	err   error
}

func (d fakeDirectory) FindUserByUsername(_ context.Context, username string) (*identity.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[username]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return &u, nil
}

type fakePublisher struct {
	keys     []string
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, key string, payload any) messaging.PublishResult {
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return messaging.PublishResult{Published: true, MessageID: "id"}
}

type recorder struct {
	mu       sync.Mutex
	messages []messaging.Message
}

func (r *recorder) Handle(_ context.Context, msg messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func amqpText(body string) amqp.Publishing {
	return amqp.Publishing{ContentType: "text/plain", DeliveryMode: amqp.Persistent, Body: []byte(body)}
}
