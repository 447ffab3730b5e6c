package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is the broker-agnostic view of a delivered message.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is a teardown handle for an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the publish/subscribe surface the services depend on.
// NATSClient implements it; tests substitute mocks.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, queueGroup string, handler func(msg Message)) (Subscription, error)
	Close()
}

// NATSClient wraps a core NATS connection.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSClient connects to NATS with reconnection handlers wired to the logger.
// natsURL example: "nats://localhost:4222"
func NewNATSClient(natsURL string, appName string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	return &NATSClient{conn: nc, logger: logger.With("component", "nats_client")}, nil
}

func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates a queue subscription (or a plain one when queueGroup is
// empty) and unsubscribes automatically when ctx is cancelled.
func (c *NATSClient) Subscribe(ctx context.Context, subject string, queueGroup string, handler func(msg Message)) (Subscription, error) {
	natsHandler := func(m *nats.Msg) {
		handler(Message{Subject: m.Subject, Data: m.Data})
	}

	var sub *nats.Subscription
	var err error
	if queueGroup != "" {
		sub, err = c.conn.QueueSubscribe(subject, queueGroup, natsHandler)
	} else {
		sub, err = c.conn.Subscribe(subject, natsHandler)
	}
	if err != nil {
		return nil, fmt.Errorf("nats subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to unsubscribe on context cancellation", "subject", subject, "error", err)
		}
	}()

	c.logger.Info("NATS subscription established", "subject", subject, "queue_group", queueGroup)
	return sub, nil
}

// Close drains the connection so in-flight messages are flushed before close.
func (c *NATSClient) Close() {
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("NATS drain failed", "error", err)
		}
	}
}
