package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes seats.changed events to RabbitMQ. Each
// publish dials a fresh connection; the event volume here is a
// handful per scheduler tick, so connection reuse is not worth the
// reconnect bookkeeping.
type Publisher struct {
	url string
}

// NewPublisher returns a Publisher for the given AMQP URL.
func NewPublisher(url string) *Publisher { return &Publisher{url: url} }

// Publish marshals the event and enqueues it persistently. The
// queue declaration is idempotent and durable so events survive a
// broker restart.
func (p *Publisher) Publish(ctx context.Context, ev SeatsChangedEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		SeatsChangedQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.EventID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",                // default exchange
		SeatsChangedQueue, // routing key = queue name
		false,             // mandatory
		false,             // immediate
		pub,
	); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
