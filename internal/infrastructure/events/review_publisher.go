package events

import (
	"context"

	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
)

// EventPublisher is satisfied by *messaging.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) messaging.PublishResult
}

type validatable interface {
	contracts.Event
	Validate() error
}

// ReviewPublisher emits the review lifecycle events. Like the underlying
// publisher it never fails the caller: results only report what happened.
type ReviewPublisher struct {
	publisher EventPublisher
	logger    logging.Logger
}

func NewReviewPublisher(publisher EventPublisher, logger logging.Logger) *ReviewPublisher {
	return &ReviewPublisher{
		publisher: publisher,
		logger:    logger,
	}
}

func (p *ReviewPublisher) PublishReviewCreated(ctx context.Context, event contracts.ReviewCreated) messaging.PublishResult {
	return p.publish(ctx, event)
}

func (p *ReviewPublisher) PublishReviewCommented(ctx context.Context, event contracts.ReviewCommented) messaging.PublishResult {
	return p.publish(ctx, event)
}

func (p *ReviewPublisher) EnqueueImport(ctx context.Context, event contracts.ImportRequested) messaging.PublishResult {
	return p.publish(ctx, event)
}

func (p *ReviewPublisher) publish(ctx context.Context, event validatable) messaging.PublishResult {
	if err := event.Validate(); err != nil {
		p.logger.Warn(logging.Validation, logging.Publish, "invalid event payload; skipping publish", map[logging.ExtraKey]any{
			logging.RoutingKey:   event.RoutingKey(),
			logging.ErrorMessage: err.Error(),
		})
		return messaging.PublishResult{Reason: messaging.ReasonInvalidPayload, Err: err}
	}

	return p.publisher.Publish(ctx, event.RoutingKey(), event)
}
