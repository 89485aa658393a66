package events

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/socialbook/internal/domain"
	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
)

// NotificationConsumer turns review.commented events into stored notifications.
type NotificationConsumer struct {
	repo   domain.NotificationRepository
	logger logging.Logger
	now    func() time.Time
}

var _ messaging.Handler = (*NotificationConsumer)(nil)

func NewNotificationConsumer(repo domain.NotificationRepository, logger logging.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (c *NotificationConsumer) Handle(ctx context.Context, msg messaging.Message) error {
	payload, err := contracts.DecodeCommented(msg.Body)
	if err != nil {
		return err
	}

	notification, ok := domain.NewNotification(domain.CommentNotice{
		TargetUser: payload.TargetUser,
		Actor:      payload.User,
		Message:    payload.Message,
		ReviewID:   payload.ReviewID,
		CommentID:  payload.CommentID,
	}, c.now())
	if !ok {
		c.logger.Debug(logging.MongoDB, logging.Insert, "event has no target user; nothing to notify", map[logging.ExtraKey]any{
			logging.Queue:     msg.Queue,
			logging.MessageID: msg.MessageID,
		})
		return nil
	}

	if err := c.repo.Create(ctx, notification); err != nil {
		c.logger.Error(logging.MongoDB, logging.Insert, "failed to store notification", map[logging.ExtraKey]any{
			logging.TargetUser:   notification.User,
			logging.MessageID:    msg.MessageID,
			logging.ErrorMessage: err.Error(),
		})
		return fmt.Errorf("store notification: %w", err)
	}

	c.logger.Info(logging.MongoDB, logging.Insert, "notification stored", map[logging.ExtraKey]any{
		logging.TargetUser: notification.User,
		logging.MessageID:  msg.MessageID,
	})
	return nil
}
