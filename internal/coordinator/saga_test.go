package coordinator_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	clientapp "github.com/jcortesdev/microcommerce/internal/client-service/app"
	clientdomain "github.com/jcortesdev/microcommerce/internal/client-service/domain"
	"github.com/jcortesdev/microcommerce/internal/coordinator"
	orderapp "github.com/jcortesdev/microcommerce/internal/order-service/app"
	"github.com/jcortesdev/microcommerce/internal/order-service/domain"
	"github.com/jcortesdev/microcommerce/internal/order-service/remote"
	"github.com/jcortesdev/microcommerce/internal/pkg/correlation"
	"github.com/jcortesdev/microcommerce/internal/pkg/messaging"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
	productapp "github.com/jcortesdev/microcommerce/internal/product-service/app"
	productdomain "github.com/jcortesdev/microcommerce/internal/product-service/domain"
)

// captureEvents records emitted notifications instead of publishing them.
type captureEvents struct {
	mu      sync.Mutex
	created []domain.Order
}

func (e *captureEvents) OrderCreated(ctx context.Context, o *domain.Order, description string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, *o)
}

func (e *captureEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.created)
}

// stockTimer captures only reservation timeouts so a test can expire them on
// demand. Lookup timeouts keep their real timers; the calls they guard are
// resolved by real replies long before ten seconds pass.
type stockTimer struct {
	mu    sync.Mutex
	fires []func()
}

func (m *stockTimer) afterFunc(d time.Duration, f func()) *time.Timer {
	if d != wire.StockTimeout {
		return time.AfterFunc(d, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fires = append(m.fires, f)
	return time.NewTimer(time.Hour)
}

func (m *stockTimer) fireAll() {
	m.mu.Lock()
	fires := m.fires
	m.fires = nil
	m.mu.Unlock()
	for _, f := range fires {
		f()
	}
}

// Stock handling modes for the harness.
const (
	stockReal    = "real"    // the product listener applies mutations
	stockRefuse  = "refuse"  // every mutation is answered INSUFFICIENT_STOCK
	stockSwallow = "swallow" // mutations are consumed and never answered
)

type harness struct {
	saga     *coordinator.Coordinator
	orders   orderapp.Repository
	products productapp.Repository
	events   *captureEvents
	timer    *stockTimer
}

// newHarness wires a coordinator to real client and product listeners over an
// in-process broker, the same topology the services run in production.
func newHarness(t *testing.T, stockMode string, clients []clientdomain.Client, products []productdomain.Product) *harness {
	t.Helper()
	ctx := context.Background()
	broker := messaging.NewMemoryBroker()

	clientRepo := clientapp.NewMemoryRepository()
	for _, c := range clients {
		if _, err := clientRepo.Save(ctx, c); err != nil {
			t.Fatalf("seed client %s: %v", c.ID, err)
		}
	}
	if err := clientapp.NewListener(clientRepo, broker).Start(ctx, broker); err != nil {
		t.Fatalf("start client listener: %v", err)
	}

	productRepo := productapp.NewMemoryRepository()
	for _, p := range products {
		if _, err := productRepo.Save(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}
	productListener := productapp.NewListener(productRepo, broker)

	switch stockMode {
	case stockReal:
		if err := productListener.Start(ctx, broker); err != nil {
			t.Fatalf("start product listener: %v", err)
		}
	case stockRefuse:
		mustSubscribe(t, broker, wire.KeyProductQuery, productListener.HandleQuery)
		mustSubscribe(t, broker, wire.KeyStockUpdate, func(ctx context.Context, body []byte) {
			var req wire.StockRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return
			}
			reply, _ := json.Marshal(wire.StockResponse{
				CorrelationID: req.CorrelationID,
				ProductID:     req.ProductID,
				Status:        wire.StatusInsufficientStock,
				Message:       "stock already taken",
			})
			_ = broker.Publish(ctx, wire.KeyStockResponse, reply)
		})
	case stockSwallow:
		mustSubscribe(t, broker, wire.KeyProductQuery, productListener.HandleQuery)
		mustSubscribe(t, broker, wire.KeyStockUpdate, func(ctx context.Context, body []byte) {})
	}

	bridge := correlation.NewBridge(broker)
	timer := &stockTimer{}
	if stockMode == stockSwallow {
		bridge.AfterFunc = timer.afterFunc
	}
	for _, key := range []string{wire.KeyClientResponse, wire.KeyProductResponse, wire.KeyStockResponse} {
		if err := bridge.Listen(ctx, broker, key); err != nil {
			t.Fatalf("listen on %s: %v", key, err)
		}
	}

	orders := orderapp.NewMemoryRepository()
	events := &captureEvents{}
	return &harness{
		saga:     coordinator.New(remote.NewGateways(bridge), orders, events, nil),
		orders:   orders,
		products: productRepo,
		events:   events,
		timer:    timer,
	}
}

func mustSubscribe(t *testing.T, broker *messaging.MemoryBroker, key string, handler func(context.Context, []byte)) {
	t.Helper()
	if err := broker.Subscribe(context.Background(), key, handler); err != nil {
		t.Fatalf("subscribe %s: %v", key, err)
	}
}

func TestCreateOrderConfirmsAndReducesStock(t *testing.T) {
	h := newHarness(t, stockReal,
		[]clientdomain.Client{{ID: "c1", FirstName: "Ana", LastName: "Reyes", Email: "ana@example.com"}},
		[]productdomain.Product{
			{ID: "p1", Name: "keyboard", Price: 49.90, Stock: 10},
			{ID: "p2", Name: "mouse", Price: 19.90, Stock: 5},
		},
	)
	ctx := context.Background()

	outcome := h.saga.CreateOrder(ctx, "saga-1", coordinator.CreateRequest{
		ClientID: "c1",
		Items: []coordinator.ItemRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})

	if outcome.Status != wire.StatusSuccess {
		t.Fatalf("outcome = %q (%s), want SUCCESS", outcome.Status, outcome.Message)
	}
	if outcome.Order == nil {
		t.Fatal("outcome carries no order")
	}
	if outcome.Order.Status != domain.StatusConfirmed {
		t.Errorf("order status = %q, want CONFIRMED", outcome.Order.Status)
	}
	if outcome.Order.ClientName != "Ana Reyes" || outcome.Order.ClientEmail != "ana@example.com" {
		t.Errorf("client snapshot = %q <%s>", outcome.Order.ClientName, outcome.Order.ClientEmail)
	}
	if want := 2*49.90 + 19.90; outcome.Order.TotalAmount != want {
		t.Errorf("total = %v, want %v", outcome.Order.TotalAmount, want)
	}
	if outcome.Order.Items[0].ProductName != "keyboard" || outcome.Order.Items[0].UnitPrice != 49.90 {
		t.Errorf("item snapshot = %+v", outcome.Order.Items[0])
	}

	// The reservation round trip completed, so the ledger already moved.
	p1, _ := h.products.FindByID(ctx, "p1")
	p2, _ := h.products.FindByID(ctx, "p2")
	if p1.Stock != 8 || p2.Stock != 4 {
		t.Errorf("stock after reservation p1=%d p2=%d, want 8 and 4", p1.Stock, p2.Stock)
	}

	saved, err := h.orders.FindByID(ctx, outcome.Order.ID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if saved.Status != domain.StatusConfirmed {
		t.Errorf("persisted status = %q, want CONFIRMED", saved.Status)
	}
	if h.events.count() != 1 {
		t.Errorf("%d creation events emitted, want 1", h.events.count())
	}
}

func TestCreateOrderRejectsUnknownClient(t *testing.T) {
	h := newHarness(t, stockReal,
		nil,
		[]productdomain.Product{{ID: "p1", Name: "keyboard", Price: 49.90, Stock: 10}},
	)

	outcome := h.saga.CreateOrder(context.Background(), "saga-2", coordinator.CreateRequest{
		ClientID: "ghost",
		Items:    []coordinator.ItemRequest{{ProductID: "p1", Quantity: 1}},
	})

	if outcome.Status != wire.StatusError {
		t.Fatalf("outcome = %q, want ERROR", outcome.Status)
	}
	if !strings.Contains(outcome.Message, "client not found") {
		t.Errorf("message = %q, want a client-not-found explanation", outcome.Message)
	}
	if outcome.Order != nil {
		t.Errorf("order %+v returned for a failed saga", outcome.Order)
	}

	orders, _ := h.orders.FindAll(context.Background())
	if len(orders) != 0 {
		t.Errorf("%d orders persisted after failure, want 0", len(orders))
	}
	if h.events.count() != 0 {
		t.Errorf("%d events emitted after failure, want 0", h.events.count())
	}
}

func TestCreateOrderRejectsUnknownProduct(t *testing.T) {
	h := newHarness(t, stockReal,
		[]clientdomain.Client{{ID: "c1", FirstName: "Ana", LastName: "Reyes"}},
		nil,
	)

	outcome := h.saga.CreateOrder(context.Background(), "saga-3", coordinator.CreateRequest{
		ClientID: "c1",
		Items:    []coordinator.ItemRequest{{ProductID: "ghost", Quantity: 1}},
	})

	if outcome.Status != wire.StatusError {
		t.Fatalf("outcome = %q, want ERROR", outcome.Status)
	}
	if !strings.Contains(outcome.Message, "product not found") {
		t.Errorf("message = %q, want a product-not-found explanation", outcome.Message)
	}
	if outcome.Order != nil {
		t.Error("order returned for a failed saga")
	}
}

func TestCreateOrderRejectsInsufficientStockBeforePersisting(t *testing.T) {
	h := newHarness(t, stockReal,
		[]clientdomain.Client{{ID: "c1", FirstName: "Ana", LastName: "Reyes"}},
		[]productdomain.Product{{ID: "p1", Name: "keyboard", Price: 49.90, Stock: 1}},
	)
	ctx := context.Background()

	outcome := h.saga.CreateOrder(ctx, "saga-4", coordinator.CreateRequest{
		ClientID: "c1",
		Items:    []coordinator.ItemRequest{{ProductID: "p1", Quantity: 3}},
	})

	if outcome.Status != wire.StatusInsufficientStock {
		t.Fatalf("outcome = %q, want INSUFFICIENT_STOCK", outcome.Status)
	}
	if outcome.Order != nil {
		t.Error("order returned although nothing was persisted")
	}

	// Rejected during validation: the ledger never moved.
	p1, _ := h.products.FindByID(ctx, "p1")
	if p1.Stock != 1 {
		t.Errorf("stock = %d after rejection, want 1", p1.Stock)
	}
	orders, _ := h.orders.FindAll(ctx)
	if len(orders) != 0 {
		t.Errorf("%d orders persisted, want 0", len(orders))
	}
	if h.events.count() != 0 {
		t.Errorf("%d events emitted, want 0", h.events.count())
	}
}

func TestCreateOrderStockRefusalDowngradesOrder(t *testing.T) {
	// The availability check passed but the reservation is refused: stock
	// moved in between. The order survives, downgraded and annotated.
	h := newHarness(t, stockRefuse,
		[]clientdomain.Client{{ID: "c1", FirstName: "Ana", LastName: "Reyes"}},
		[]productdomain.Product{{ID: "p1", Name: "keyboard", Price: 49.90, Stock: 10}},
	)
	ctx := context.Background()

	outcome := h.saga.CreateOrder(ctx, "saga-5", coordinator.CreateRequest{
		ClientID: "c1",
		Items:    []coordinator.ItemRequest{{ProductID: "p1", Quantity: 2}},
	})

	if outcome.Status != wire.StatusSuccess {
		t.Fatalf("outcome = %q (%s), want SUCCESS with degraded message", outcome.Status, outcome.Message)
	}
	if outcome.Order == nil {
		t.Fatal("outcome carries no order")
	}
	if outcome.Order.Status != domain.StatusStockError {
		t.Errorf("order status = %q, want STOCK_ERROR", outcome.Order.Status)
	}
	if !strings.Contains(outcome.Order.Notes, "stock update failed") {
		t.Errorf("notes = %q, want the failure annotation", outcome.Order.Notes)
	}

	saved, err := h.orders.FindByID(ctx, outcome.Order.ID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if saved.Status != domain.StatusStockError {
		t.Errorf("persisted status = %q, want STOCK_ERROR", saved.Status)
	}
	if h.events.count() != 1 {
		t.Errorf("%d creation events emitted, want 1", h.events.count())
	}
}

func TestCreateOrderReservationTimeoutLeavesOrderPending(t *testing.T) {
	// No stock reply ever arrives. The order is already persisted, so the
	// saga finishes without compensating: PENDING, reconciled out of band.
	h := newHarness(t, stockSwallow,
		[]clientdomain.Client{{ID: "c1", FirstName: "Ana", LastName: "Reyes"}},
		[]productdomain.Product{{ID: "p1", Name: "keyboard", Price: 49.90, Stock: 10}},
	)
	ctx := context.Background()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				h.timer.fireAll()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	outcome := h.saga.CreateOrder(ctx, "saga-6", coordinator.CreateRequest{
		ClientID: "c1",
		Items:    []coordinator.ItemRequest{{ProductID: "p1", Quantity: 2}},
	})
	close(stop)

	if outcome.Status != wire.StatusSuccess {
		t.Fatalf("outcome = %q (%s), want SUCCESS", outcome.Status, outcome.Message)
	}
	if outcome.Order == nil {
		t.Fatal("outcome carries no order")
	}
	if outcome.Order.Status != domain.StatusPending {
		t.Errorf("order status = %q, want PENDING", outcome.Order.Status)
	}
	if !strings.Contains(outcome.Message, "pending") {
		t.Errorf("message = %q, want a stock-pending explanation", outcome.Message)
	}
	if h.events.count() != 1 {
		t.Errorf("%d creation events emitted, want 1", h.events.count())
	}
}

func TestCreateOrderValidatesInput(t *testing.T) {
	h := newHarness(t, stockReal, nil, nil)

	tests := []struct {
		name string
		req  coordinator.CreateRequest
	}{
		{"missing client id", coordinator.CreateRequest{Items: []coordinator.ItemRequest{{ProductID: "p1", Quantity: 1}}}},
		{"no items", coordinator.CreateRequest{ClientID: "c1"}},
		{"item without product id", coordinator.CreateRequest{ClientID: "c1", Items: []coordinator.ItemRequest{{Quantity: 1}}}},
		{"zero quantity", coordinator.CreateRequest{ClientID: "c1", Items: []coordinator.ItemRequest{{ProductID: "p1", Quantity: 0}}}},
		{"negative quantity", coordinator.CreateRequest{ClientID: "c1", Items: []coordinator.ItemRequest{{ProductID: "p1", Quantity: -2}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := h.saga.CreateOrder(context.Background(), "saga-v", tt.req)
			if outcome.Status != wire.StatusError {
				t.Errorf("outcome = %q, want ERROR", outcome.Status)
			}
			if outcome.Order != nil {
				t.Error("order returned for invalid input")
			}
		})
	}
}
