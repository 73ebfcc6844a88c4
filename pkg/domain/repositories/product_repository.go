package repositories

import (
	"context"

	"github.com/vsinha/costing/pkg/domain/entities"
)

// ProductRepository provides read access to product master data
type ProductRepository interface {
	Product(ctx context.Context, id entities.ProductID) (entities.Product, error)
	Products(ctx context.Context) ([]entities.Product, error)
}
