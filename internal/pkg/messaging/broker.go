// Package messaging abstracts the topic-based broker the services talk
// through. Publishers address messages by routing key; each key is bound to
// one durable queue per consuming service. Delivery is at least once and no
// ordering is guaranteed across queues.
package messaging

import "context"

// Publisher sends a message to every queue bound to the routing key.
// Publish must not block waiting for consumers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Subscriber consumes the queue bound to routingKey. The handler is invoked
// once per delivery, each on its own goroutine; handlers must tolerate
// duplicate deliveries.
type Subscriber interface {
	Subscribe(ctx context.Context, routingKey string, handler func(ctx context.Context, body []byte)) error
}

// Broker is the combined port the services wire their components against.
type Broker interface {
	Publisher
	Subscriber
}
