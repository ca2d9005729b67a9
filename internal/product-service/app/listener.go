package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcortesdev/microcommerce/internal/pkg/messaging"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
	"github.com/jcortesdev/microcommerce/internal/product-service/domain"
)

const serviceName = "product-service"

// Listener answers product.query lookups and owns the stock ledger protocol
// on stock.update. Every mutation request gets a reply on stock.response,
// never fire-and-forget, so the order saga can await the outcome.
type Listener struct {
	repo Repository
	pub  messaging.Publisher
}

func NewListener(repo Repository, pub messaging.Publisher) *Listener {
	return &Listener{repo: repo, pub: pub}
}

// Start subscribes to both inbound queues.
func (l *Listener) Start(ctx context.Context, sub messaging.Subscriber) error {
	if err := sub.Subscribe(ctx, wire.KeyProductQuery, l.HandleQuery); err != nil {
		return err
	}
	return sub.Subscribe(ctx, wire.KeyStockUpdate, l.HandleStockUpdate)
}

// HandleQuery resolves a product lookup or, with no productId, the full
// catalog listing.
func (l *Listener) HandleQuery(ctx context.Context, body []byte) {
	var query wire.ProductQuery
	if err := json.Unmarshal(body, &query); err != nil {
		slog.WarnContext(ctx, "malformed product query dropped", "error", err)
		return
	}

	resp := wire.ProductResponse{
		CorrelationID: query.CorrelationID,
		Service:       serviceName,
	}

	if query.ProductID != "" {
		product, err := l.repo.FindByID(ctx, query.ProductID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			resp.Status = wire.StatusNotFound
			resp.Message = fmt.Sprintf("no product with id %s", query.ProductID)
		case err != nil:
			resp.Status = wire.StatusError
			resp.Message = err.Error()
		default:
			resp.Status = wire.StatusSuccess
			snapshot := snapshotOf(product)
			resp.Product = &snapshot
		}
	} else {
		products, err := l.repo.FindAll(ctx)
		if err != nil {
			resp.Status = wire.StatusError
			resp.Message = err.Error()
		} else {
			resp.Status = wire.StatusSuccess
			resp.Products = make([]wire.ProductSnapshot, len(products))
			for i, p := range products {
				resp.Products[i] = snapshotOf(p)
			}
		}
	}

	l.publish(ctx, wire.KeyProductResponse, resp.CorrelationID, resp)
}

// HandleStockUpdate applies one REDUCE/INCREASE/SET mutation as a single
// unit against the ledger entry and reports the outcome.
func (l *Listener) HandleStockUpdate(ctx context.Context, body []byte) {
	var req wire.StockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.WarnContext(ctx, "malformed stock request dropped", "error", err)
		return
	}

	resp := wire.StockResponse{
		CorrelationID: req.CorrelationID,
		Service:       serviceName,
		ProductID:     req.ProductID,
	}

	var oldStock int
	updated, err := l.repo.Update(ctx, req.ProductID, func(p *domain.Product) error {
		oldStock = p.Stock
		switch req.Operation {
		case wire.OpReduce:
			return p.Reduce(req.Quantity)
		case wire.OpIncrease:
			return p.Increase(req.Quantity)
		case wire.OpSet:
			return p.SetStock(req.Quantity)
		default:
			return fmt.Errorf("unknown operation %q", req.Operation)
		}
	})

	switch {
	case errors.Is(err, domain.ErrNotFound):
		resp.Status = wire.StatusNotFound
		resp.Message = fmt.Sprintf("no product with id %s", req.ProductID)
	case errors.Is(err, domain.ErrInsufficientStock):
		resp.Status = wire.StatusInsufficientStock
		resp.Message = err.Error()
		resp.CurrentStock = updated.Stock
	case err != nil:
		resp.Status = wire.StatusError
		resp.Message = err.Error()
	default:
		resp.Status = wire.StatusSuccess
		resp.OldStock = oldStock
		resp.NewStock = updated.Stock
		slog.InfoContext(ctx, "stock updated",
			"product_id", req.ProductID,
			"operation", req.Operation,
			"old_stock", oldStock,
			"new_stock", updated.Stock,
			"order_id", req.OrderID,
		)
	}

	l.publish(ctx, wire.KeyStockResponse, resp.CorrelationID, resp)
}

func (l *Listener) publish(ctx context.Context, key, correlationID string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "marshal response", "routing_key", key, "error", err)
		return
	}
	if err := l.pub.Publish(ctx, key, body); err != nil {
		slog.ErrorContext(ctx, "publish response", "routing_key", key, "correlation_id", correlationID, "error", err)
	}
}

func snapshotOf(p domain.Product) wire.ProductSnapshot {
	return wire.ProductSnapshot{
		ID:    p.ID,
		Name:  p.Name,
		Price: p.Price,
		Stock: p.Stock,
	}
}
