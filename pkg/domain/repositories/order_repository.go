package repositories

import (
	"context"

	"github.com/vsinha/costing/pkg/domain/entities"
)

// OrderFilter narrows List results; a nil Status matches every order
type OrderFilter struct {
	Status *entities.OrderStatus
}

// OrderRepository persists production orders with optimistic versioning
type OrderRepository interface {
	// Create stores a new order at version 1, assigning an ID when empty
	Create(ctx context.Context, order entities.ProductionOrder) (entities.ProductionOrder, error)
	// Update stores order if its Version matches the stored one and bumps it.
	// A mismatch returns ErrConcurrentModification.
	Update(ctx context.Context, order entities.ProductionOrder) (entities.ProductionOrder, error)
	Get(ctx context.Context, id entities.OrderID) (entities.ProductionOrder, error)
	List(ctx context.Context, filter OrderFilter) ([]entities.ProductionOrder, error)
}
