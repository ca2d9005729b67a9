// Package correlation layers request/response semantics over the one-way
// broker. Each outgoing query gets a fresh correlation id and a pending
// entry; a subscriber on the service's response queue resolves the entry
// when a reply carrying the same id arrives. Replies with no pending entry
// are dropped — they belong to a call that already timed out, or to another
// service instance.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcortesdev/microcommerce/internal/pkg/messaging"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

// ErrTimeout is returned by Await when no reply arrived within the call's
// timeout window.
var ErrTimeout = errors.New("correlation: no reply before deadline")

// Reply is the raw response body delivered to a resolved call. Callers
// decode it into the typed response for the topic they published to.
type Reply []byte

// Call is one in-flight request/response exchange. It resolves exactly once,
// either with a reply or with ErrTimeout.
type Call struct {
	CorrelationID string
	done          chan struct{}
	reply         Reply
	err           error
}

// Await blocks until the call resolves or ctx is cancelled.
func (c *Call) Await(ctx context.Context) (Reply, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return c.reply, c.err
	}
}

// Bridge owns the pending-call table for one service process.
type Bridge struct {
	pub messaging.Publisher

	mu      sync.Mutex
	pending map[string]*Call

	// AfterFunc schedules the timeout expiry. Tests replace it to fire
	// timeouts deterministically instead of sleeping.
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

func NewBridge(pub messaging.Publisher) *Bridge {
	return &Bridge{
		pub:       pub,
		pending:   make(map[string]*Call),
		AfterFunc: time.AfterFunc,
	}
}

// Call stamps a fresh correlation id onto req, registers a pending entry,
// publishes to routingKey and returns immediately. The returned Call is
// resolved out of band by HandleReply or by timeout expiry.
func (b *Bridge) Call(ctx context.Context, routingKey string, req wire.Correlated, timeout time.Duration) (*Call, error) {
	id := uuid.NewString()
	req.SetCorrelationID(id)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("correlation: marshal request for %q: %w", routingKey, err)
	}

	call := &Call{CorrelationID: id, done: make(chan struct{})}

	b.mu.Lock()
	b.pending[id] = call
	b.mu.Unlock()

	if err := b.pub.Publish(ctx, routingKey, body); err != nil {
		b.evict(id)
		return nil, fmt.Errorf("correlation: publish to %q: %w", routingKey, err)
	}

	b.AfterFunc(timeout, func() {
		if c := b.evict(id); c != nil {
			c.err = ErrTimeout
			close(c.done)
		}
	})

	return call, nil
}

// Listen subscribes to a response routing key and resolves matching pending
// calls. A service calls this once per response queue at startup.
func (b *Bridge) Listen(ctx context.Context, sub messaging.Subscriber, responseKey string) error {
	return sub.Subscribe(ctx, responseKey, func(ctx context.Context, body []byte) {
		b.HandleReply(ctx, body)
	})
}

// HandleReply resolves the pending call whose correlation id matches the
// reply body. Late, duplicate and foreign replies are dropped silently.
func (b *Bridge) HandleReply(ctx context.Context, body []byte) {
	var envelope struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.CorrelationID == "" {
		slog.WarnContext(ctx, "reply without correlation id dropped")
		return
	}

	call := b.evict(envelope.CorrelationID)
	if call == nil {
		slog.DebugContext(ctx, "unmatched reply dropped", "correlation_id", envelope.CorrelationID)
		return
	}

	call.reply = body
	close(call.done)
}

// PendingCount reports the size of the pending table.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// evict removes and returns the pending call for id, or nil if it was
// already resolved. Removal under the lock guarantees single resolution.
func (b *Bridge) evict(id string) *Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	call, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return call
}
