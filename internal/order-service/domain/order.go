package domain

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("order not found")

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusStockError Status = "STOCK_ERROR"
)

// ValidStatus reports whether s is one of the known order statuses.
// Status-update messages carry free-form strings off the wire.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered,
		StatusCancelled, StatusStockError:
		return true
	}
	return false
}

// Item is one order line. Name and price are snapshots taken from the
// product service at creation time; the order must not change when the
// catalog does.
type Item struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

func (i Item) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// Order is the aggregate built by the creation saga. Client name and email
// are snapshots for the same reason item prices are.
type Order struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"clientId"`
	ClientName      string     `json:"clientName"`
	ClientEmail     string     `json:"clientEmail"`
	Items           []Item     `json:"items"`
	TotalAmount     float64    `json:"totalAmount"`
	Status          Status     `json:"status"`
	ShippingAddress string     `json:"shippingAddress,omitempty"`
	PaymentMethod   string     `json:"paymentMethod,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	DeliveryDate    *time.Time `json:"deliveryDate,omitempty"`
}

// New returns a PENDING order with CreatedAt set. Identity is assigned by
// the repository on first save, never by the caller.
func New(clientID string) *Order {
	return &Order{
		ClientID:  clientID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// SetItems replaces the line items and recomputes the total. This is the
// only way items enter the aggregate, so TotalAmount can never diverge from
// the sum of subtotals.
func (o *Order) SetItems(items []Item) {
	o.Items = items
	total := 0.0
	for _, item := range items {
		total += item.Subtotal()
	}
	o.TotalAmount = total
}
