package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gateward/gateward/internal/model"
)

const (
	exchangeName = "gateward-events"

	routingKeyRoleChanged   = "access.role_changed"
	routingKeyQuotaExceeded = "access.quota_exceeded"
)

// AMQPNotifier publishes notifications to a RabbitMQ topic exchange so the
// bot and dashboard collaborators can consume them independently.
type AMQPNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewAMQPNotifier connects to the broker and declares the events exchange.
func NewAMQPNotifier(url string, logger *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPNotifier{conn: conn, channel: ch, logger: logger}, nil
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() error {
	if err := n.channel.Close(); err != nil {
		return err
	}
	return n.conn.Close()
}

func (n *AMQPNotifier) RoleChanged(ctx context.Context, change model.RoleChange) {
	n.publish(ctx, routingKeyRoleChanged, change)
}

func (n *AMQPNotifier) QuotaExceeded(ctx context.Context, ev model.QuotaExceeded) {
	n.publish(ctx, routingKeyQuotaExceeded, ev)
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.ErrorContext(ctx, "marshal notification", "routing_key", key, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(pubCtx, exchangeName, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		// Notification delivery never fails the mutation that produced it.
		n.logger.ErrorContext(ctx, "publish notification", "routing_key", key, "error", err)
	}
}
