// Package wire defines the JSON message contracts exchanged between the
// client, product and order services over the broker.
//
// Every request carries a correlationId and every response echoes it back;
// the correlation bridge uses that field to match replies to pending calls.
// Field names are part of the wire format — do not rename the json tags.
package wire

import (
	"encoding/json"
	"time"
)

// Routing keys on the microservice exchange. Each key is bound to exactly
// one durable queue per consuming service (<key>.queue).
const (
	KeyClientQuery     = "client.query"
	KeyClientResponse  = "client.response"
	KeyProductQuery    = "product.query"
	KeyProductResponse = "product.response"
	KeyCommandInput    = "command.input"
	KeyCommandStatus   = "command.status"
	KeyCommandResponse = "command.response"
	KeyCommandEvents   = "command.events"
	KeyStockUpdate     = "stock.update"
	KeyStockResponse   = "stock.response"
)

// Response statuses shared by all services.
const (
	StatusSuccess           = "SUCCESS"
	StatusNotFound          = "NOT_FOUND"
	StatusError             = "ERROR"
	StatusInsufficientStock = "INSUFFICIENT_STOCK"
)

// Stock mutation operations understood by the product service.
const (
	OpReduce   = "REDUCE"
	OpIncrease = "INCREASE"
	OpSet      = "SET"
)

// Timeouts observed by callers awaiting a correlated reply.
const (
	LookupTimeout = 10 * time.Second
	StockTimeout  = 5 * time.Second
)

// Correlated is implemented by every request type so the bridge can stamp
// the correlation id it generated before publishing.
type Correlated interface {
	SetCorrelationID(id string)
}

// ClientQuery asks the client service for one client (ClientID set) or for
// the full list (ClientID empty). Presence of the id selects the operation.
type ClientQuery struct {
	CorrelationID string `json:"correlationId"`
	ClientID      string `json:"clientId,omitempty"`
}

func (q *ClientQuery) SetCorrelationID(id string) { q.CorrelationID = id }

// ClientSnapshot is the client data embedded in responses. The order service
// copies name and email into the order at creation time.
type ClientSnapshot struct {
	ID         string `json:"id"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type ClientResponse struct {
	CorrelationID string           `json:"correlationId"`
	Service       string           `json:"service"`
	Status        string           `json:"status"`
	Message       string           `json:"message,omitempty"`
	Client        *ClientSnapshot  `json:"client,omitempty"`
	Clients       []ClientSnapshot `json:"clients,omitempty"`
}

// ProductQuery mirrors ClientQuery for the product service.
type ProductQuery struct {
	CorrelationID string `json:"correlationId"`
	ProductID     string `json:"productId,omitempty"`
}

func (q *ProductQuery) SetCorrelationID(id string) { q.CorrelationID = id }

// ProductSnapshot carries the current price and stock as of the lookup.
type ProductSnapshot struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

type ProductResponse struct {
	CorrelationID string            `json:"correlationId"`
	Service       string            `json:"service"`
	Status        string            `json:"status"`
	Message       string            `json:"message,omitempty"`
	Product       *ProductSnapshot  `json:"product,omitempty"`
	Products      []ProductSnapshot `json:"products,omitempty"`
}

// StockRequest asks the product service to mutate the stock ledger.
type StockRequest struct {
	CorrelationID string `json:"correlationId"`
	ProductID     string `json:"productId"`
	Operation     string `json:"operation"`
	Quantity      int    `json:"quantity"`
	OrderID       string `json:"orderId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func (r *StockRequest) SetCorrelationID(id string) { r.CorrelationID = id }

type StockResponse struct {
	CorrelationID string `json:"correlationId"`
	Service       string `json:"service"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	ProductID     string `json:"productId"`
	OldStock      int    `json:"oldStock,omitempty"`
	NewStock      int    `json:"newStock,omitempty"`
	CurrentStock  int    `json:"currentStock,omitempty"`
}

// OrderItemRequest is one line of an incoming order request. Name and price
// are intentionally absent: the order service snapshots them from the
// product service, never from the caller.
type OrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderRequest arrives on command.input.
type OrderRequest struct {
	CorrelationID   string             `json:"correlationId"`
	ClientID        string             `json:"clientId"`
	Items           []OrderItemRequest `json:"items"`
	ShippingAddress string             `json:"shippingAddress,omitempty"`
	PaymentMethod   string             `json:"paymentMethod,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

func (r *OrderRequest) SetCorrelationID(id string) { r.CorrelationID = id }

// StatusUpdateRequest arrives on command.status.
type StatusUpdateRequest struct {
	CorrelationID string `json:"correlationId"`
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
}

func (r *StatusUpdateRequest) SetCorrelationID(id string) { r.CorrelationID = id }

// OrderResponse is published on command.response for both order creation and
// status updates. Order is the serialized order aggregate on success.
type OrderResponse struct {
	CorrelationID string          `json:"correlationId"`
	Service       string          `json:"service"`
	Status        string          `json:"status"`
	Message       string          `json:"message,omitempty"`
	Order         json.RawMessage `json:"order,omitempty"`
}

// OrderEvent is the one-way notification published on command.events.
type OrderEvent struct {
	EventType   string  `json:"eventType"`
	OrderID     string  `json:"orderId"`
	ClientID    string  `json:"clientId"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"totalAmount"`
	Description string  `json:"description,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

// Event types published on command.events.
const (
	EventOrderCreated  = "COMMAND_CREATED"
	EventStatusUpdated = "STATUS_UPDATED"
)
