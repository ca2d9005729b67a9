package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jcortesdev/microcommerce/internal/order-service/domain"
	"github.com/jcortesdev/microcommerce/internal/pkg/messaging"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

// Events publishes one-way order notifications on command.events. Observers
// subscribe at will; no reply is ever expected, and a publish failure is
// logged and otherwise ignored so eventing can never fail the caller.
type Events struct {
	pub messaging.Publisher
}

func NewEvents(pub messaging.Publisher) *Events {
	return &Events{pub: pub}
}

func (e *Events) OrderCreated(ctx context.Context, o *domain.Order, description string) {
	e.publish(ctx, wire.OrderEvent{
		EventType:   wire.EventOrderCreated,
		OrderID:     o.ID,
		ClientID:    o.ClientID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		Description: description,
		Timestamp:   time.Now().UnixMilli(),
	})
}

func (e *Events) StatusUpdated(ctx context.Context, o *domain.Order, description string) {
	e.publish(ctx, wire.OrderEvent{
		EventType:   wire.EventStatusUpdated,
		OrderID:     o.ID,
		ClientID:    o.ClientID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		Description: description,
		Timestamp:   time.Now().UnixMilli(),
	})
}

func (e *Events) publish(ctx context.Context, event wire.OrderEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "marshal order event", "event_type", event.EventType, "error", err)
		return
	}
	if err := e.pub.Publish(ctx, wire.KeyCommandEvents, body); err != nil {
		slog.WarnContext(ctx, "order event not published",
			"event_type", event.EventType, "order_id", event.OrderID, "error", err)
	}
}
