package messaging

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker used by tests and local single-binary
// runs. It mimics the topic-exchange semantics the services rely on: every
// subscriber to a routing key gets its own copy of each published message,
// handlers run concurrently, and nothing stops a message from being
// published twice.
type MemoryBroker struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	wg       sync.WaitGroup
}

type subscription struct {
	ctx     context.Context
	handler func(ctx context.Context, body []byte)
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{handlers: make(map[string][]subscription)}
}

func (b *MemoryBroker) Publish(ctx context.Context, routingKey string, body []byte) error {
	b.mu.RLock()
	subs := b.handlers[routingKey]
	b.mu.RUnlock()

	for _, sub := range subs {
		// Each subscriber gets a private copy, like a real broker delivery.
		payload := make([]byte, len(body))
		copy(payload, body)

		b.wg.Add(1)
		go func(s subscription, p []byte) {
			defer b.wg.Done()
			select {
			case <-s.ctx.Done():
			default:
				s.handler(s.ctx, p)
			}
		}(sub, payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, routingKey string, handler func(ctx context.Context, body []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[routingKey] = append(b.handlers[routingKey], subscription{ctx: ctx, handler: handler})
	return nil
}

// Wait blocks until every delivery dispatched so far has been handled.
// Tests use it to join on asynchronous fan-out without sleeping.
func (b *MemoryBroker) Wait() {
	b.wg.Wait()
}
