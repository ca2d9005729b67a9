package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

// Product is the catalog record owned by the product service. Stock is the
// authoritative ledger entry: it never goes negative and is only mutated
// here, via acknowledged mutation requests.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

func (p Product) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.Price < 0 {
		return errors.New("price must not be negative")
	}
	if p.Stock < 0 {
		return errors.New("stock must not be negative")
	}
	return nil
}

// Reduce decrements stock by quantity. Refusal leaves stock unchanged.
func (p *Product) Reduce(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if quantity > p.Stock {
		return fmt.Errorf("%w: available %d, requested %d", ErrInsufficientStock, p.Stock, quantity)
	}
	p.Stock -= quantity
	return nil
}

// Increase increments stock by quantity.
func (p *Product) Increase(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	p.Stock += quantity
	return nil
}

// SetStock overwrites the ledger entry. Negative targets are rejected.
func (p *Product) SetStock(quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	p.Stock = quantity
	return nil
}
