package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one seats.changed event. A non-nil error
// rejects the delivery without requeueing: notifications are
// at-most-once per change event.
type Handler func(ctx context.Context, ev SeatsChangedEvent) error

// Consume connects to RabbitMQ and feeds seats.changed events to
// the handler until the context is cancelled. Broker failures are
// retried with exponential backoff; the function only returns when
// ctx is done.
func Consume(ctx context.Context, url string, handler Handler, logger *slog.Logger) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("seats consumer: dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(ctx, conn, handler, logger); err != nil {
			logger.Warn("seats consumer: loop ended, reconnecting", "error", err)
		}
		_ = conn.Close()
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, handler Handler, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.Warn("seats consumer: set QoS failed", "error", err)
	}

	if _, err := ch.QueueDeclare(SeatsChangedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(SeatsChangedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			var ev SeatsChangedEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				logger.Error("seats consumer: bad event payload", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			if err := handler(ctx, ev); err != nil {
				logger.Error("seats consumer: handler failed", "error", err, "event_id", ev.EventID)
				_ = d.Nack(false, false) // no requeue: at-most-once per change
				continue
			}
			_ = d.Ack(false)
		}
	}
}
