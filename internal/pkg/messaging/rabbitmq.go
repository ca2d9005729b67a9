package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the shared topic exchange all services publish to.
	ExchangeName = "microservice.exchange"
	ExchangeType = "topic"
)

// RabbitBroker implements Broker on top of a RabbitMQ channel.
type RabbitBroker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to RabbitMQ and declares the shared exchange. It retries a
// few times so services survive the broker starting up after them.
func Dial(url string) (*RabbitBroker, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		slog.Warn("rabbitmq not reachable, retrying", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		ExchangeName,
		ExchangeType,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: declare exchange: %w", err)
	}

	return &RabbitBroker{conn: conn, ch: ch}, nil
}

// DeclareQueues provisions one durable queue per routing key and binds it to
// the exchange. Idempotent; every service declares the queues it consumes.
func (b *RabbitBroker) DeclareQueues(routingKeys ...string) error {
	for _, key := range routingKeys {
		q, err := b.ch.QueueDeclare(
			QueueName(key),
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("messaging: declare queue for %q: %w", key, err)
		}
		if err := b.ch.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("messaging: bind queue %q: %w", q.Name, err)
		}
	}
	return nil
}

func (b *RabbitBroker) Publish(ctx context.Context, routingKey string, body []byte) error {
	err := b.ch.PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("messaging: publish to %q: %w", routingKey, err)
	}
	return nil
}

func (b *RabbitBroker) Subscribe(ctx context.Context, routingKey string, handler func(ctx context.Context, body []byte)) error {
	deliveries, err := b.ch.Consume(
		QueueName(routingKey),
		"",    // consumer tag
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("messaging: consume %q: %w", routingKey, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				go handler(ctx, d.Body)
			}
		}
	}()

	return nil
}

// Close shuts down the channel and connection.
func (b *RabbitBroker) Close() error {
	if err := b.ch.Close(); err != nil {
		return b.conn.Close()
	}
	return b.conn.Close()
}

// QueueName returns the durable queue bound to a routing key.
func QueueName(routingKey string) string {
	return routingKey + ".queue"
}
