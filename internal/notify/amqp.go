package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"backend-shuttletrack/internal/tracking"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel the notifier needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier hands arrival notifications to the messaging workers over a
// topic exchange. Delivery to the passenger happens downstream.
type AMQPNotifier struct {
	pub        Publisher
	exchange   string
	routingKey string
	timeout    time.Duration
}

func NewAMQPNotifier(pub Publisher, exchange, routingKey string) *AMQPNotifier {
	return &AMQPNotifier{pub: pub, exchange: exchange, routingKey: routingKey, timeout: 5 * time.Second}
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg tracking.Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	publishCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	return n.pub.PublishWithContext(publishCtx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.SessionID + ":" + msg.StopID,
		Timestamp:    msg.NotifiedAt,
		Body:         body,
	})
}

// Connection owns the broker connection and its publishing channel.
type Connection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (c *Connection) Channel() *amqp.Channel { return c.ch }

func (c *Connection) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

var dialFn = amqp.Dial

// DialAMQP connects with backoff and declares the topic exchange.
func DialAMQP(ctx context.Context, url, exchange string, log *slog.Logger) (*Connection, error) {
	const maxAttempts = 5
	delay := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c, err := connect(url, exchange)
		if err == nil {
			log.InfoContext(ctx, "rabbitmq connected", "attempt", attempt, "exchange", exchange)
			return c, nil
		}
		lastErr = err
		log.WarnContext(ctx, "rabbitmq connection attempt failed", "attempt", attempt, "error", err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, 15*time.Second)
	}
	return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxAttempts, lastErr)
}

func connect(url, exchange string) (*Connection, error) {
	conn, err := dialFn(url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Connection{conn: conn, ch: ch}, nil
}
