package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

// ProductRepository reads product master data from the products table
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new MySQL product repository
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Verify interface compliance
var _ repositories.ProductRepository = (*ProductRepository)(nil)

// SaveProduct inserts or replaces a product
func (r *ProductRepository) SaveProduct(ctx context.Context, p entities.Product) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, description, unit_of_measure, minimum_stock, critical_stock)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE description = VALUES(description), unit_of_measure = VALUES(unit_of_measure),
			minimum_stock = VALUES(minimum_stock), critical_stock = VALUES(critical_stock)`,
		string(p.ID), p.Description, p.UnitOfMeasure, p.MinimumStock, p.CriticalStock,
	)
	if err != nil {
		return fmt.Errorf("failed to save product %s: %w", p.ID, err)
	}
	return nil
}

// Product returns product master data by ID
func (r *ProductRepository) Product(ctx context.Context, id entities.ProductID) (entities.Product, error) {
	var row productRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, description, unit_of_measure, minimum_stock, critical_stock
		FROM products WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Product{}, fmt.Errorf("product %s: %w", id, entities.ErrNotFound)
	}
	if err != nil {
		return entities.Product{}, fmt.Errorf("failed to query product %s: %w", id, err)
	}
	return row.entity(), nil
}

// Products returns every product ordered by ID
func (r *ProductRepository) Products(ctx context.Context) ([]entities.Product, error) {
	var rows []productRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, description, unit_of_measure, minimum_stock, critical_stock
		FROM products ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	products := make([]entities.Product, len(rows))
	for i, row := range rows {
		products[i] = row.entity()
	}
	return products, nil
}
