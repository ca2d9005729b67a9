package app

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jcortesdev/microcommerce/internal/product-service/domain"
)

// Repository is the persistence port for products. Update runs its mutation
// function while holding the store lock, which is what serializes competing
// stock mutations for the same product: the read of current stock and the
// write of new stock are one unit.
type Repository interface {
	Save(ctx context.Context, p domain.Product) (domain.Product, error)
	FindByID(ctx context.Context, id string) (domain.Product, error)
	FindAll(ctx context.Context) ([]domain.Product, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, mutate func(*domain.Product) error) (domain.Product, error)
}

type memoryRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func NewMemoryRepository() Repository {
	return &memoryRepository{products: make(map[string]domain.Product)}
}

func (r *memoryRepository) Save(ctx context.Context, p domain.Product) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	r.products[p.ID] = p
	return p, nil
}

func (r *memoryRepository) FindByID(ctx context.Context, id string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) FindAll(ctx context.Context) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *memoryRepository) Update(ctx context.Context, id string, mutate func(*domain.Product) error) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	if err := mutate(&p); err != nil {
		return p, err
	}
	r.products[id] = p
	return p, nil
}
