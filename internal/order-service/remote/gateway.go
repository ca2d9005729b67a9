// Package remote gives the order service typed access to data owned by the
// client and product services. Each fetch is one bridge round trip; the
// gateways normalize whatever comes back (or fails to come back) into a
// lookup result and never retry — retry policy belongs to the caller.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jcortesdev/microcommerce/internal/pkg/correlation"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

// StatusTimeout marks a lookup whose reply never arrived. It extends the
// wire statuses, which only describe replies that did arrive.
const StatusTimeout = "TIMEOUT"

// ClientLookup is the normalized outcome of a client fetch.
type ClientLookup struct {
	Status  string
	Message string
	Client  wire.ClientSnapshot
}

// ProductLookup is the normalized outcome of a product fetch. The snapshot
// includes the product's current price and stock.
type ProductLookup struct {
	Status  string
	Message string
	Product wire.ProductSnapshot
}

// Gateways bundles the remote accessors around one correlation bridge.
type Gateways struct {
	bridge *correlation.Bridge
}

func NewGateways(bridge *correlation.Bridge) *Gateways {
	return &Gateways{bridge: bridge}
}

// FetchClient resolves one client by id.
func (g *Gateways) FetchClient(ctx context.Context, clientID string) ClientLookup {
	call, err := g.bridge.Call(ctx, wire.KeyClientQuery, &wire.ClientQuery{ClientID: clientID}, wire.LookupTimeout)
	if err != nil {
		return ClientLookup{Status: wire.StatusError, Message: err.Error()}
	}

	body, err := call.Await(ctx)
	if errors.Is(err, correlation.ErrTimeout) {
		return ClientLookup{Status: StatusTimeout, Message: "client service did not reply in time"}
	}
	if err != nil {
		return ClientLookup{Status: wire.StatusError, Message: err.Error()}
	}

	var resp wire.ClientResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ClientLookup{Status: wire.StatusError, Message: "undecodable client response"}
	}
	if resp.Status == wire.StatusSuccess && resp.Client == nil {
		return ClientLookup{Status: wire.StatusError, Message: "client response without client payload"}
	}

	lookup := ClientLookup{Status: resp.Status, Message: resp.Message}
	if resp.Client != nil {
		lookup.Client = *resp.Client
	}
	return lookup
}

// FetchProduct resolves one product by id.
func (g *Gateways) FetchProduct(ctx context.Context, productID string) ProductLookup {
	call, err := g.bridge.Call(ctx, wire.KeyProductQuery, &wire.ProductQuery{ProductID: productID}, wire.LookupTimeout)
	if err != nil {
		return ProductLookup{Status: wire.StatusError, Message: err.Error()}
	}

	body, err := call.Await(ctx)
	if errors.Is(err, correlation.ErrTimeout) {
		return ProductLookup{Status: StatusTimeout, Message: "product service did not reply in time"}
	}
	if err != nil {
		return ProductLookup{Status: wire.StatusError, Message: err.Error()}
	}

	var resp wire.ProductResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ProductLookup{Status: wire.StatusError, Message: "undecodable product response"}
	}
	if resp.Status == wire.StatusSuccess && resp.Product == nil {
		return ProductLookup{Status: wire.StatusError, Message: "product response without product payload"}
	}

	lookup := ProductLookup{Status: resp.Status, Message: resp.Message}
	if resp.Product != nil {
		lookup.Product = *resp.Product
	}
	return lookup
}

// StockCall is one in-flight stock mutation request.
type StockCall struct {
	ProductID string
	Quantity  int
	call      *correlation.Call
}

// Reduce publishes a REDUCE request for one line item and returns without
// waiting, so the saga can fan out all reductions before joining.
func (g *Gateways) Reduce(ctx context.Context, productID string, quantity int, orderID string, now int64) (*StockCall, error) {
	req := &wire.StockRequest{
		ProductID: productID,
		Operation: wire.OpReduce,
		Quantity:  quantity,
		OrderID:   orderID,
		Timestamp: now,
	}
	call, err := g.bridge.Call(ctx, wire.KeyStockUpdate, req, wire.StockTimeout)
	if err != nil {
		return nil, err
	}
	return &StockCall{ProductID: productID, Quantity: quantity, call: call}, nil
}

// Await resolves the mutation outcome. correlation.ErrTimeout means the
// reply never arrived — the remote side may still have applied the change.
func (s *StockCall) Await(ctx context.Context) (wire.StockResponse, error) {
	body, err := s.call.Await(ctx)
	if err != nil {
		return wire.StockResponse{}, err
	}
	var resp wire.StockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return wire.StockResponse{}, err
	}
	return resp, nil
}
