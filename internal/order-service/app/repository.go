package app

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jcortesdev/microcommerce/internal/order-service/domain"
)

// Repository is the key-value persistence port for orders. Save assigns
// identity on first call and returns the stored copy.
type Repository interface {
	Save(ctx context.Context, o *domain.Order) (*domain.Order, error)
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindAll(ctx context.Context) ([]*domain.Order, error)
}

type memoryRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

func NewMemoryRepository() Repository {
	return &memoryRepository{orders: make(map[string]domain.Order)}
}

func (r *memoryRepository) Save(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	r.orders[o.ID] = *o
	stored := r.orders[o.ID]
	return &stored, nil
}

func (r *memoryRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (r *memoryRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Order, 0, len(r.orders))
	for id := range r.orders {
		o := r.orders[id]
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
