package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcortesdev/microcommerce/internal/coordinator"
	"github.com/jcortesdev/microcommerce/internal/order-service/domain"
	"github.com/jcortesdev/microcommerce/internal/pkg/cache"
	"github.com/jcortesdev/microcommerce/internal/pkg/messaging"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

const serviceName = "command-service"

// seenTTL bounds how long processed correlation ids are remembered for
// duplicate-delivery suppression.
const seenTTL = 30 * time.Minute

// Listener consumes command.input (order creation, runs the saga) and
// command.status (status edits). Every message gets a reply on
// command.response tagged with its correlation id.
type Listener struct {
	saga   *coordinator.Coordinator
	repo   Repository
	events *Events
	pub    messaging.Publisher
	seen   cache.Cache
}

func NewListener(saga *coordinator.Coordinator, repo Repository, events *Events, pub messaging.Publisher, seen cache.Cache) *Listener {
	return &Listener{saga: saga, repo: repo, events: events, pub: pub, seen: seen}
}

// Start subscribes to both inbound queues.
func (l *Listener) Start(ctx context.Context, sub messaging.Subscriber) error {
	if err := sub.Subscribe(ctx, wire.KeyCommandInput, l.HandleCreate); err != nil {
		return err
	}
	return sub.Subscribe(ctx, wire.KeyCommandStatus, l.HandleStatusUpdate)
}

// HandleCreate runs the order-creation saga for one command.input message.
// The channel is at-least-once, so redeliveries of an already-processed
// correlation id are dropped instead of creating a second order.
func (l *Listener) HandleCreate(ctx context.Context, body []byte) {
	var req wire.OrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.WarnContext(ctx, "malformed order request dropped", "error", err)
		return
	}

	if req.CorrelationID != "" {
		key := l.seen.GenerateKey("create", req.CorrelationID)
		first, err := l.seen.Once(ctx, key, seenTTL)
		if err != nil {
			// Dedupe is best effort: prefer a possible duplicate order
			// over dropping a customer's only delivery.
			slog.WarnContext(ctx, "duplicate check unavailable", "error", err)
		} else if !first {
			slog.InfoContext(ctx, "duplicate order request dropped", "correlation_id", req.CorrelationID)
			return
		}
	}

	slog.InfoContext(ctx, "order request received", "correlation_id", req.CorrelationID, "client_id", req.ClientID)

	items := make([]coordinator.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = coordinator.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	outcome := l.saga.CreateOrder(ctx, req.CorrelationID, coordinator.CreateRequest{
		ClientID:        req.ClientID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	})

	resp := wire.OrderResponse{
		CorrelationID: req.CorrelationID,
		Service:       serviceName,
		Status:        outcome.Status,
		Message:       outcome.Message,
	}
	if outcome.Order != nil {
		if raw, err := json.Marshal(outcome.Order); err == nil {
			resp.Order = raw
		}
	}
	l.reply(ctx, resp)
}

// HandleStatusUpdate applies a status edit to a persisted order.
func (l *Listener) HandleStatusUpdate(ctx context.Context, body []byte) {
	var req wire.StatusUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.WarnContext(ctx, "malformed status update dropped", "error", err)
		return
	}

	resp := wire.OrderResponse{
		CorrelationID: req.CorrelationID,
		Service:       serviceName,
	}

	order, err := l.UpdateStatus(ctx, req.OrderID, domain.Status(req.Status))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		resp.Status = wire.StatusNotFound
		resp.Message = fmt.Sprintf("no order with id %s", req.OrderID)
	case err != nil:
		resp.Status = wire.StatusError
		resp.Message = err.Error()
	default:
		resp.Status = wire.StatusSuccess
		resp.Message = fmt.Sprintf("status changed to %s", order.Status)
		if raw, err := json.Marshal(order); err == nil {
			resp.Order = raw
		}
	}
	l.reply(ctx, resp)
}

// UpdateStatus is shared by the status queue and the HTTP surface.
func (l *Listener) UpdateStatus(ctx context.Context, orderID string, status domain.Status) (*domain.Order, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}
	if !domain.ValidStatus(status) {
		return nil, fmt.Errorf("unknown status %q", status)
	}

	order, err := l.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Status = status
	saved, err := l.repo.Save(ctx, order)
	if err != nil {
		return nil, err
	}

	l.events.StatusUpdated(ctx, saved, "status changed to "+string(status))
	slog.InfoContext(ctx, "order status updated", "order_id", saved.ID, "status", saved.Status)
	return saved, nil
}

func (l *Listener) reply(ctx context.Context, resp wire.OrderResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "marshal order response", "error", err)
		return
	}
	if err := l.pub.Publish(ctx, wire.KeyCommandResponse, body); err != nil {
		slog.ErrorContext(ctx, "publish order response", "correlation_id", resp.CorrelationID, "error", err)
	}
}
