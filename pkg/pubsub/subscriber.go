package pubsub

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

// Receive streams messages from subscription into handle until ctx ends.
// Failed messages are nacked for redelivery; after maxAttempts deliveries, or
// on a non-retryable error, they are acked and dropped.
func (c *Client) Receive(ctx context.Context, subscription string, maxAttempts int, handle outbox.Handler) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if handle == nil {
		return errors.New("handler is required")
	}
	fullName := resourceName(c.projectID, "subscriptions", subscription)
	if fullName == "" {
		return fmt.Errorf("subscription %q not configured", subscription)
	}

	sub := c.client.Subscriber(fullName)
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := outbox.Message{Key: m.OrderingKey, Data: m.Data, Attributes: m.Attributes}
		err := handle(ctx, msg)
		switch settle(err, deliveryAttempt(m), maxAttempts) {
		case ack:
			m.Ack()
		case drop:
			if c.logg != nil {
				c.logg.Error(c.logg.WithFields(ctx, map[string]any{
					"subscription": subscription,
					"message_id":   m.ID,
					"event_type":   m.Attributes["event_type"],
				}), "pubsub.message_dropped", err)
			}
			m.Ack()
		default:
			m.Nack()
		}
	})
}

type outcome int

const (
	ack outcome = iota
	drop
	retry
)

func settle(err error, attempt, maxAttempts int) outcome {
	if err == nil {
		return ack
	}
	var nonRetryable registry.NonRetryableError
	if errors.As(err, &nonRetryable) {
		return drop
	}
	if maxAttempts > 0 && attempt >= maxAttempts {
		return drop
	}
	return retry
}

// deliveryAttempt is only populated when the subscription has a dead letter
// policy. Zero means unknown.
func deliveryAttempt(m *pubsub.Message) int {
	if m == nil || m.DeliveryAttempt == nil {
		return 0
	}
	return *m.DeliveryAttempt
}
