package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

// OrderRepository stores production orders with an optimistic version column
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates a new MySQL order repository
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Verify interface compliance
var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Create inserts a new order at version 1
func (r *OrderRepository) Create(ctx context.Context, order entities.ProductionOrder) (entities.ProductionOrder, error) {
	if order.ID == "" {
		order.ID = entities.OrderID(uuid.NewString())
	}
	order.Version = 1

	row, err := newOrderRow(order)
	if err != nil {
		return entities.ProductionOrder{}, err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO production_orders (`+orderColumns+`)
		VALUES (:id, :product_id, :bom_id, :bom_version, :warehouse_id, :planned_quantity, :status, :requirements,
			:estimated_material_cost, :estimated_labor_cost, :estimated_overhead_cost, :estimated_total_cost,
			:allocated_material_cost, :actual_material_cost, :actual_total_cost,
			:produced_quantity, :scrapped_quantity, :output_batch, :created_by, :created_at,
			:allocated_at, :started_at, :completed_at, :cancelled_at, :version)`, row)
	if isDuplicate(err) {
		return entities.ProductionOrder{}, fmt.Errorf("order %s: %w", order.ID, entities.ErrAlreadyExists)
	}
	if err != nil {
		return entities.ProductionOrder{}, fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	return order, nil
}

// Update stores order when its version still matches and bumps the version
func (r *OrderRepository) Update(ctx context.Context, order entities.ProductionOrder) (entities.ProductionOrder, error) {
	row, err := newOrderRow(order)
	if err != nil {
		return entities.ProductionOrder{}, err
	}
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE production_orders SET
			status = :status, requirements = :requirements,
			estimated_material_cost = :estimated_material_cost, estimated_labor_cost = :estimated_labor_cost,
			estimated_overhead_cost = :estimated_overhead_cost, estimated_total_cost = :estimated_total_cost,
			allocated_material_cost = :allocated_material_cost, actual_material_cost = :actual_material_cost,
			actual_total_cost = :actual_total_cost, produced_quantity = :produced_quantity,
			scrapped_quantity = :scrapped_quantity, output_batch = :output_batch,
			allocated_at = :allocated_at, started_at = :started_at,
			completed_at = :completed_at, cancelled_at = :cancelled_at,
			version = version + 1
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return entities.ProductionOrder{}, fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return entities.ProductionOrder{}, fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	if affected == 0 {
		stored, err := r.Get(ctx, order.ID)
		if err != nil {
			return entities.ProductionOrder{}, err
		}
		return entities.ProductionOrder{}, fmt.Errorf("%w: order %s is at version %d, update was based on %d",
			entities.ErrConcurrentModification, order.ID, stored.Version, order.Version)
	}

	order.Version++
	return order, nil
}

// Get returns an order by ID
func (r *OrderRepository) Get(ctx context.Context, id entities.OrderID) (entities.ProductionOrder, error) {
	var row orderRow
	err := r.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM production_orders WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.ProductionOrder{}, fmt.Errorf("order %s: %w", id, entities.ErrNotFound)
	}
	if err != nil {
		return entities.ProductionOrder{}, fmt.Errorf("failed to query order %s: %w", id, err)
	}
	return row.entity()
}

// List returns orders in creation order, optionally filtered by status
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderFilter) ([]entities.ProductionOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM production_orders`
	var args []interface{}
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, filter.Status.String())
	}
	query += ` ORDER BY created_at, id`

	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	orders := make([]entities.ProductionOrder, 0, len(rows))
	for _, row := range rows {
		order, err := row.entity()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
