package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	"github.com/hilthontt/socialbook/internal/infrastructure/events"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"github.com/hilthontt/socialbook/internal/infrastructure/validate"
	"github.com/spf13/cobra"
)

var errNotPublished = errors.New("event was not published")

func newPublishCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <routing-key> <json>",
		Short: "Publish one event on the events exchange",
		Example: `  eventctl publish review.commented '{"targetUser":"mila","user":"alex","reviewId":"r1"}'
  eventctl publish import.requested '{"query":"dune"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, c, args[0], args[1])
		},
	}
}

func runPublish(cmd *cobra.Command, c *cli, routingKey, body string) error {
	if err := validate.Field("routing key", validate.RoutingKey())(routingKey); err != nil {
		return err
	}

	event, err := contracts.Decode(routingKey, []byte(body))
	if err != nil {
		return err
	}

	container, err := c.container()
	if err != nil {
		return err
	}
	defer container.Close(cmd.Context())

	publisher := container.NewPublisher()
	defer publisher.Close()

	out := cmd.OutOrStdout()
	if queues := publisher.Topology().QueuesFor(routingKey); len(queues) > 0 {
		fmt.Fprintf(out, "routes to: %s\n", strings.Join(queues, ", "))
	} else {
		fmt.Fprintf(out, "routes to: no queue is bound to %s\n", routingKey)
	}

	if err := publisher.Connect(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	reviews := events.NewReviewPublisher(publisher, container.Logger)
	result := publishEvent(cmd.Context(), reviews, publisher, event)
	fmt.Fprintf(out, "result: %s\n", result)
	if result.MessageID != "" {
		fmt.Fprintf(out, "message id: %s\n", result.MessageID)
	}

	if result.Skipped() {
		if result.Err != nil {
			return fmt.Errorf("%w: %v", errNotPublished, result.Err)
		}
		return errNotPublished
	}
	return nil
}

// publishEvent validates known events through the review publisher and sends
// anything else as decoded.
func publishEvent(ctx context.Context, reviews *events.ReviewPublisher, publisher *messaging.Publisher, event contracts.Event) messaging.PublishResult {
	switch e := event.(type) {
	case contracts.ReviewCreated:
		return reviews.PublishReviewCreated(ctx, e)
	case contracts.ReviewCommented:
		return reviews.PublishReviewCommented(ctx, e)
	case contracts.ImportRequested:
		return reviews.EnqueueImport(ctx, e)
	case contracts.Raw:
		return publisher.Publish(ctx, e.Key, e.Fields)
	default:
		return publisher.Publish(ctx, event.RoutingKey(), event)
	}
}
