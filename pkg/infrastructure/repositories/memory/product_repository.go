package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

// ProductRepository provides in-memory product master data
type ProductRepository struct {
	mu          sync.RWMutex
	products    []entities.Product
	productsMap map[entities.ProductID]int
}

// NewProductRepository creates a new in-memory product repository
func NewProductRepository(expectedProducts int) *ProductRepository {
	return &ProductRepository{
		products:    make([]entities.Product, 0, expectedProducts),
		productsMap: make(map[entities.ProductID]int, expectedProducts),
	}
}

// Verify interface compliance
var _ repositories.ProductRepository = (*ProductRepository)(nil)

// LoadProducts loads products into the repository
func (r *ProductRepository) LoadProducts(products []*entities.Product) error {
	for _, p := range products {
		r.AddProduct(*p)
	}
	return nil
}

// AddProduct adds or replaces a product
func (r *ProductRepository) AddProduct(product entities.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.productsMap[product.ID]; ok {
		r.products[i] = product
		return
	}
	r.productsMap[product.ID] = len(r.products)
	r.products = append(r.products, product)
}

// SaveProduct adds or replaces a product
func (r *ProductRepository) SaveProduct(ctx context.Context, product entities.Product) error {
	r.AddProduct(product)
	return nil
}

// Product returns product master data by ID
func (r *ProductRepository) Product(ctx context.Context, id entities.ProductID) (entities.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.productsMap[id]
	if !ok {
		return entities.Product{}, fmt.Errorf("product %s: %w", id, entities.ErrNotFound)
	}
	return r.products[i], nil
}

// Products returns every product in insertion order
func (r *ProductRepository) Products(ctx context.Context) ([]entities.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]entities.Product(nil), r.products...), nil
}
