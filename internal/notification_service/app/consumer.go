package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/RuiRamos84/aintar-payments/internal/platform/messagebroker"
)

// EventSubject is the fan-out subject notification producers publish to.
const EventSubject = "notifications.events"

// Consumer subscribes to the notification event subject and feeds the store.
// Delivery is at-least-once; the store's dedup rules absorb redelivery.
type Consumer struct {
	broker messagebroker.Broker
	store  *Store
	logger *slog.Logger
}

func NewConsumer(broker messagebroker.Broker, store *Store, logger *slog.Logger) *Consumer {
	return &Consumer{
		broker: broker,
		store:  store,
		logger: logger.With("component", "notification_consumer"),
	}
}

// Start subscribes with the given queue group. The subscription is torn down
// when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, queueGroup string) (messagebroker.Subscription, error) {
	handler := func(msg messagebroker.Message) {
		var event IngestEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.ErrorContext(ctx, "Failed to deserialize notification event",
				"error", err, "subject", msg.Subject, "data", string(msg.Data))
			return
		}

		record, err := c.store.Ingest(ctx, event)
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to ingest notification event",
				"error", err, "principal_id", event.PrincipalID)
			return
		}
		if record == nil {
			// Suppressed duplicate; already counted by the store.
			return
		}
	}

	return c.broker.Subscribe(ctx, EventSubject, queueGroup, handler)
}
