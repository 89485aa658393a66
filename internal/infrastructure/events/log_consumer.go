package events

import (
	"context"
	"fmt"

	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
)

// LogConsumer records every event on its queue. It stands in for analytics and
// recommendation processing.
type LogConsumer struct {
	logger logging.Logger
}

var _ messaging.Handler = (*LogConsumer)(nil)

func NewLogConsumer(logger logging.Logger) *LogConsumer {
	return &LogConsumer{
		logger: logger,
	}
}

// Handle only requires a JSON object. Field types are not checked.
func (c *LogConsumer) Handle(_ context.Context, msg messaging.Message) error {
	event, err := contracts.DecodeRaw(msg.RoutingKey, msg.Body)
	if err != nil {
		return err
	}

	c.logger.Info(logging.RabbitMQ, logging.Consume, fmt.Sprintf("[%s] %s", msg.Queue, msg.Body), map[logging.ExtraKey]any{
		logging.Queue:      msg.Queue,
		logging.RoutingKey: event.RoutingKey(),
		logging.MessageID:  msg.MessageID,
	})
	return nil
}
