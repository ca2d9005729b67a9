// Package coordinator runs the order-creation saga: gather remote data,
// validate availability, persist the order, reserve stock, finalize.
//
// Failure semantics are deliberately asymmetric around persistence. Before
// the order is saved, any failure aborts the saga with no side effects.
// After it is saved, failures never undo the order: a refused reservation
// downgrades it to STOCK_ERROR, and a reservation that times out leaves it
// as is with a warning — stock is reconciled out of band, not rolled back.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jcortesdev/microcommerce/internal/coordinator/sagalog"
	"github.com/jcortesdev/microcommerce/internal/order-service/domain"
	"github.com/jcortesdev/microcommerce/internal/order-service/remote"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

// OrderStore persists the aggregate. Save assigns identity on first call.
type OrderStore interface {
	Save(ctx context.Context, o *domain.Order) (*domain.Order, error)
}

// EventPublisher emits one-way saga notifications. Implementations must not
// block on consumers and must swallow (log) their own failures: eventing
// never fails the saga.
type EventPublisher interface {
	OrderCreated(ctx context.Context, o *domain.Order, description string)
}

// CreateRequest is the validated-enough input to the saga. Item names and
// prices are deliberately absent; the saga snapshots them from the product
// service.
type CreateRequest struct {
	ClientID        string
	Items           []ItemRequest
	ShippingAddress string
	PaymentMethod   string
	Notes           string
}

type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Outcome is the terminal result surfaced to the caller. Order is nil
// exactly when nothing was persisted.
type Outcome struct {
	Status  string // wire.StatusSuccess, wire.StatusError or wire.StatusInsufficientStock
	Message string
	Order   *domain.Order
}

// Coordinator orchestrates one CreateOrder saga per call. It is stateless
// between calls and safe for concurrent use.
type Coordinator struct {
	gateways *remote.Gateways
	orders   OrderStore
	events   EventPublisher
	log      sagalog.Repository // nil-safe: transitions are not persisted if nil
}

func New(gateways *remote.Gateways, orders OrderStore, events EventPublisher, log sagalog.Repository) *Coordinator {
	return &Coordinator{gateways: gateways, orders: orders, events: events, log: log}
}

// CreateOrder runs the saga to a terminal outcome. sagaID identifies the
// execution in the saga log; callers pass the correlation id of the
// triggering message so log rows join with broker traffic.
func (c *Coordinator) CreateOrder(ctx context.Context, sagaID string, req CreateRequest) Outcome {
	// GATHERING gate: structural validation, rejected before any message
	// is published.
	if req.ClientID == "" {
		return c.fail(ctx, sagaID, "client id is required")
	}
	if len(req.Items) == 0 {
		return c.fail(ctx, sagaID, "order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return c.fail(ctx, sagaID, "every item needs a product id")
		}
		if item.Quantity <= 0 {
			return c.fail(ctx, sagaID, fmt.Sprintf("invalid quantity %d for product %s", item.Quantity, item.ProductID))
		}
	}

	payload, _ := json.Marshal(req)
	c.record(ctx, sagaID, "", sagalog.PhaseGathering, "", string(payload))

	clientLookup, productLookups := c.gather(ctx, req)

	// VALIDATING: every lookup must have succeeded and every requested
	// quantity must fit the stock snapshot, before anything is written.
	c.record(ctx, sagaID, "", sagalog.PhaseValidating, "", "")

	if clientLookup.Status != wire.StatusSuccess {
		return c.fail(ctx, sagaID, lookupFailure("client", req.ClientID, clientLookup.Status, clientLookup.Message))
	}
	for i, lookup := range productLookups {
		if lookup.Status != wire.StatusSuccess {
			return c.fail(ctx, sagaID, lookupFailure("product", req.Items[i].ProductID, lookup.Status, lookup.Message))
		}
	}

	var short []string
	for i, lookup := range productLookups {
		if req.Items[i].Quantity > lookup.Product.Stock {
			short = append(short, fmt.Sprintf("%s (available %d, requested %d)",
				lookup.Product.Name, lookup.Product.Stock, req.Items[i].Quantity))
		}
	}
	if len(short) > 0 {
		msg := "insufficient stock: " + strings.Join(short, "; ")
		c.record(ctx, sagaID, "", sagalog.PhaseFailed, msg, "")
		slog.InfoContext(ctx, "order rejected before persistence", "saga_id", sagaID, "reason", msg)
		return Outcome{Status: wire.StatusInsufficientStock, Message: msg}
	}

	// PERSISTING: snapshot names, prices and client identity as of this
	// instant, then save. Persisting before reserving means a reservation
	// failure leaves an inspectable order, not a lost side effect.
	c.record(ctx, sagaID, "", sagalog.PhasePersisting, "", "")

	order := domain.New(req.ClientID)
	order.ClientName = clientLookup.Client.FirstName + " " + clientLookup.Client.LastName
	order.ClientEmail = clientLookup.Client.Email
	order.ShippingAddress = req.ShippingAddress
	order.PaymentMethod = req.PaymentMethod
	order.Notes = req.Notes

	items := make([]domain.Item, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.Item{
			ProductID:   item.ProductID,
			ProductName: productLookups[i].Product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   productLookups[i].Product.Price,
		}
	}
	order.SetItems(items)

	saved, err := c.orders.Save(ctx, order)
	if err != nil {
		return c.fail(ctx, sagaID, fmt.Sprintf("persist order: %v", err))
	}
	slog.InfoContext(ctx, "order persisted", "saga_id", sagaID, "order_id", saved.ID, "total", saved.TotalAmount)

	outcome := c.reserve(ctx, sagaID, saved)

	c.events.OrderCreated(ctx, saved, outcome.Message)
	return outcome
}

// gather issues the client lookup and one product lookup per line item,
// all concurrently, and joins on every one of them. The saga never proceeds
// on partial arrival.
func (c *Coordinator) gather(ctx context.Context, req CreateRequest) (remote.ClientLookup, []remote.ProductLookup) {
	var clientLookup remote.ClientLookup
	productLookups := make([]remote.ProductLookup, len(req.Items))

	var wg sync.WaitGroup
	wg.Add(1 + len(req.Items))
	go func() {
		defer wg.Done()
		clientLookup = c.gateways.FetchClient(ctx, req.ClientID)
	}()
	for i, item := range req.Items {
		go func(i int, productID string) {
			defer wg.Done()
			productLookups[i] = c.gateways.FetchProduct(ctx, productID)
		}(i, item.ProductID)
	}
	wg.Wait()

	return clientLookup, productLookups
}

// reserve fans out one REDUCE per line item and joins on the replies, then
// finalizes the order's status from the aggregate outcome.
func (c *Coordinator) reserve(ctx context.Context, sagaID string, order *domain.Order) Outcome {
	c.record(ctx, sagaID, order.ID, sagalog.PhaseReserving, "", "")

	now := time.Now().UnixMilli()
	calls := make([]*remote.StockCall, 0, len(order.Items))
	var failures []string
	for _, item := range order.Items {
		call, err := c.gateways.Reduce(ctx, item.ProductID, item.Quantity, order.ID, now)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", item.ProductName, err))
			continue
		}
		calls = append(calls, call)
	}

	timedOut := false
	for _, call := range calls {
		resp, err := call.Await(ctx)
		if err != nil {
			timedOut = true
			slog.WarnContext(ctx, "no stock reply before deadline",
				"saga_id", sagaID, "order_id", order.ID, "product_id", call.ProductID, "error", err)
			continue
		}
		if resp.Status != wire.StatusSuccess {
			failures = append(failures, fmt.Sprintf("%s: %s", call.ProductID, resp.Message))
		}
	}

	switch {
	case len(failures) > 0:
		// Stock moved between the availability check and the reduction.
		// The order stays, downgraded and annotated for reconciliation.
		order.Status = domain.StatusStockError
		order.Notes = appendNote(order.Notes, "stock update failed: "+strings.Join(failures, "; "))
		if _, err := c.orders.Save(ctx, order); err != nil {
			slog.ErrorContext(ctx, "mark order STOCK_ERROR", "order_id", order.ID, "error", err)
		}
		c.record(ctx, sagaID, order.ID, sagalog.PhaseStockError, strings.Join(failures, "; "), "")
		return Outcome{
			Status:  wire.StatusSuccess,
			Message: "order created, but stock may be inconsistent",
			Order:   order,
		}

	case timedOut:
		// Degraded consistency: the reductions may or may not have been
		// applied remotely. The order keeps its status; no compensation.
		slog.WarnContext(ctx, "stock reservation timed out, order left unreconciled",
			"saga_id", sagaID, "order_id", order.ID, "status", order.Status)
		c.record(ctx, sagaID, order.ID, sagalog.PhaseReserving, "reservation timed out, stock unreconciled", "")
		return Outcome{
			Status:  wire.StatusSuccess,
			Message: "order created, stock update still pending",
			Order:   order,
		}

	default:
		order.Status = domain.StatusConfirmed
		if _, err := c.orders.Save(ctx, order); err != nil {
			slog.ErrorContext(ctx, "confirm order", "order_id", order.ID, "error", err)
		}
		c.record(ctx, sagaID, order.ID, sagalog.PhaseConfirmed, "", "")
		slog.InfoContext(ctx, "order confirmed", "saga_id", sagaID, "order_id", order.ID)
		return Outcome{
			Status:  wire.StatusSuccess,
			Message: "order created",
			Order:   order,
		}
	}
}

// fail terminates the saga before persistence: no order, no side effects.
func (c *Coordinator) fail(ctx context.Context, sagaID, msg string) Outcome {
	c.record(ctx, sagaID, "", sagalog.PhaseFailed, msg, "")
	slog.InfoContext(ctx, "order saga failed", "saga_id", sagaID, "reason", msg)
	return Outcome{Status: wire.StatusError, Message: msg}
}

func (c *Coordinator) record(ctx context.Context, sagaID, orderID string, phase sagalog.Phase, detail, payload string) {
	if c.log == nil {
		return
	}
	entry := sagalog.NewEntry(ctx, sagaID, orderID, phase, detail, payload)
	if err := c.log.Save(ctx, entry); err != nil {
		slog.WarnContext(ctx, "saga log write failed", "saga_id", sagaID, "phase", phase, "error", err)
	}
}

func lookupFailure(kind, id, status, message string) string {
	switch status {
	case wire.StatusNotFound:
		return fmt.Sprintf("%s not found: %s", kind, id)
	case remote.StatusTimeout:
		return fmt.Sprintf("%s lookup timed out: %s", kind, id)
	default:
		if message == "" {
			message = "lookup failed"
		}
		return fmt.Sprintf("%s %s: %s", kind, id, message)
	}
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + " | " + note
}
