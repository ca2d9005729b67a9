package app

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jcortesdev/microcommerce/internal/client-service/domain"
)

// Repository is the key-value persistence port for clients.
type Repository interface {
	Save(ctx context.Context, c domain.Client) (domain.Client, error)
	FindByID(ctx context.Context, id string) (domain.Client, error)
	FindAll(ctx context.Context) ([]domain.Client, error)
	Delete(ctx context.Context, id string) error
}

type memoryRepository struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
}

func NewMemoryRepository() Repository {
	return &memoryRepository{clients: make(map[string]domain.Client)}
}

func (r *memoryRepository) Save(ctx context.Context, c domain.Client) (domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.clients[c.ID] = c
	return c, nil
}

func (r *memoryRepository) FindByID(ctx context.Context, id string) (domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return domain.Client{}, domain.ErrNotFound
	}
	return c, nil
}

func (r *memoryRepository) FindAll(ctx context.Context) ([]domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.clients, id)
	return nil
}
