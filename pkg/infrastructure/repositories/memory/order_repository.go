package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

// OrderRepository provides in-memory production order storage
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[entities.OrderID]entities.ProductionOrder
	order  []entities.OrderID
}

// NewOrderRepository creates a new in-memory order repository
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[entities.OrderID]entities.ProductionOrder),
	}
}

// Verify interface compliance
var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Create stores a new order at version 1
func (r *OrderRepository) Create(ctx context.Context, order entities.ProductionOrder) (entities.ProductionOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = entities.OrderID(uuid.NewString())
	}
	if _, exists := r.orders[order.ID]; exists {
		return entities.ProductionOrder{}, fmt.Errorf("order %s: %w", order.ID, entities.ErrAlreadyExists)
	}
	order.Version = 1
	r.orders[order.ID] = order.Clone()
	r.order = append(r.order, order.ID)
	return order, nil
}

// Update stores order when its version matches and bumps the version
func (r *OrderRepository) Update(ctx context.Context, order entities.ProductionOrder) (entities.ProductionOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return entities.ProductionOrder{}, fmt.Errorf("order %s: %w", order.ID, entities.ErrNotFound)
	}
	if stored.Version != order.Version {
		return entities.ProductionOrder{}, fmt.Errorf("%w: order %s is at version %d, update was based on %d",
			entities.ErrConcurrentModification, order.ID, stored.Version, order.Version)
	}
	order.Version++
	r.orders[order.ID] = order.Clone()
	return order, nil
}

// Get returns an order by ID
func (r *OrderRepository) Get(ctx context.Context, id entities.OrderID) (entities.ProductionOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return entities.ProductionOrder{}, fmt.Errorf("order %s: %w", id, entities.ErrNotFound)
	}
	return order.Clone(), nil
}

// List returns orders in creation order
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderFilter) ([]entities.ProductionOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]entities.ProductionOrder, 0, len(r.order))
	for _, id := range r.order {
		order := r.orders[id]
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		result = append(result, order.Clone())
	}
	return result, nil
}
