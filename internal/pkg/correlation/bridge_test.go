package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

// capturePublisher records published messages instead of sending them.
type capturePublisher struct {
	mu        sync.Mutex
	published [][]byte
}

func (p *capturePublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, body)
	return nil
}

func (p *capturePublisher) last() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[len(p.published)-1]
}

// manualTimer collects timeout callbacks so tests fire them on demand.
type manualTimer struct {
	mu    sync.Mutex
	fires []func()
}

func (m *manualTimer) afterFunc(d time.Duration, f func()) *time.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fires = append(m.fires, f)
	return time.NewTimer(time.Hour)
}

func (m *manualTimer) fireAll() {
	m.mu.Lock()
	fires := m.fires
	m.fires = nil
	m.mu.Unlock()
	for _, f := range fires {
		f()
	}
}

func newTestBridge() (*Bridge, *capturePublisher, *manualTimer) {
	pub := &capturePublisher{}
	timer := &manualTimer{}
	b := NewBridge(pub)
	b.AfterFunc = timer.afterFunc
	return b, pub, timer
}

func TestBridgeResolvesMatchingReply(t *testing.T) {
	b, pub, _ := newTestBridge()
	ctx := context.Background()

	call, err := b.Call(ctx, wire.KeyClientQuery, &wire.ClientQuery{ClientID: "c1"}, time.Second)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var sent wire.ClientQuery
	if err := json.Unmarshal(pub.last(), &sent); err != nil {
		t.Fatalf("published body is not valid json: %v", err)
	}
	if sent.CorrelationID != call.CorrelationID {
		t.Errorf("published correlation id %q, call has %q", sent.CorrelationID, call.CorrelationID)
	}

	reply, _ := json.Marshal(wire.ClientResponse{
		CorrelationID: call.CorrelationID,
		Status:        wire.StatusSuccess,
	})
	b.HandleReply(ctx, reply)

	body, err := call.Await(ctx)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	var resp wire.ClientResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("reply body: %v", err)
	}
	if resp.Status != wire.StatusSuccess {
		t.Errorf("status = %q, want SUCCESS", resp.Status)
	}
	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending table has %d entries after resolution, want 0", n)
	}
}

func TestBridgeTimeoutEvictsAndFailsCall(t *testing.T) {
	b, _, timer := newTestBridge()
	ctx := context.Background()

	call, err := b.Call(ctx, wire.KeyProductQuery, &wire.ProductQuery{ProductID: "p1"}, time.Second)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	timer.fireAll()

	if _, err := call.Await(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Await error = %v, want ErrTimeout", err)
	}
	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending table has %d entries after timeout, want 0", n)
	}

	// A late reply for the evicted call must be a silent no-op.
	reply, _ := json.Marshal(wire.ProductResponse{CorrelationID: call.CorrelationID})
	b.HandleReply(ctx, reply)
}

func TestBridgeDropsUnmatchedReplies(t *testing.T) {
	b, _, _ := newTestBridge()
	ctx := context.Background()

	b.HandleReply(ctx, []byte(`{"correlationId":"nobody-waits-for-me"}`))
	b.HandleReply(ctx, []byte(`not json at all`))
	b.HandleReply(ctx, []byte(`{"status":"SUCCESS"}`))

	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending table has %d entries, want 0", n)
	}
}

func TestBridgeConcurrentCallsResolveIndependently(t *testing.T) {
	b, pub, _ := newTestBridge()
	ctx := context.Background()

	const calls = 20
	made := make([]*Call, calls)
	for i := 0; i < calls; i++ {
		c, err := b.Call(ctx, wire.KeyProductQuery, &wire.ProductQuery{ProductID: "p"}, time.Second)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		made[i] = c
	}
	if n := b.PendingCount(); n != calls {
		t.Fatalf("pending = %d, want %d", n, calls)
	}
	_ = pub

	// Resolve in reverse order: resolution order follows reply arrival,
	// not request order.
	var wg sync.WaitGroup
	for i := calls - 1; i >= 0; i-- {
		wg.Add(1)
		go func(c *Call) {
			defer wg.Done()
			reply, _ := json.Marshal(wire.ProductResponse{CorrelationID: c.CorrelationID, Status: wire.StatusSuccess})
			b.HandleReply(ctx, reply)
		}(made[i])
	}
	wg.Wait()

	for i, c := range made {
		if _, err := c.Await(ctx); err != nil {
			t.Errorf("call %d not resolved: %v", i, err)
		}
	}
	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending = %d after all resolutions, want 0", n)
	}
}

func TestBridgeAwaitHonorsContext(t *testing.T) {
	b, _, _ := newTestBridge()

	call, err := b.Call(context.Background(), wire.KeyClientQuery, &wire.ClientQuery{ClientID: "c"}, time.Second)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := call.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await error = %v, want context.Canceled", err)
	}
}
