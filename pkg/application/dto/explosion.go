package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
)

// ExplosionRequest names the root of an explosion. BOM takes precedence over Version;
// when both are empty the product's Active BOM effective At is used.
type ExplosionRequest struct {
	Product   entities.ProductID   `json:"product" validate:"required"`
	BOM       entities.BOMID       `json:"bom,omitempty"`
	Version   string               `json:"version,omitempty"`
	Warehouse entities.WarehouseID `json:"warehouse" validate:"required"`
	Quantity  decimal.Decimal      `json:"quantity" validate:"gt=0"`
	At        time.Time            `json:"at,omitempty"`
}

// LeafRequirement is a flattened raw material requirement with its FIFO quote
type LeafRequirement struct {
	Product   entities.ProductID   `json:"product"`
	Warehouse entities.WarehouseID `json:"warehouse"`
	Quantity  decimal.Decimal      `json:"quantity"`
	Available decimal.Decimal      `json:"available"`
	ShortBy   decimal.Decimal      `json:"short_by"`
	UnitCost  decimal.Decimal      `json:"unit_cost"`
	Cost      decimal.Decimal      `json:"cost"`
}

// Key returns the stock key of the leaf
func (l LeafRequirement) Key() entities.StockKey {
	return entities.StockKey{Product: l.Product, Warehouse: l.Warehouse}
}

// NodeCost is the labor and overhead of one BOM node, summed over every place it appears
type NodeCost struct {
	BOM          entities.BOMID     `json:"bom"`
	Product      entities.ProductID `json:"product"`
	Version      string             `json:"version"`
	Level        int                `json:"level"`
	Quantity     decimal.Decimal    `json:"quantity"`
	LaborCost    decimal.Decimal    `json:"labor_cost"`
	OverheadCost decimal.Decimal    `json:"overhead_cost"`
}

// ExplosionResult contains flattened leaf requirements and the rolled-up cost
type ExplosionResult struct {
	Product      entities.ProductID   `json:"product"`
	BOM          entities.BOMID       `json:"bom"`
	Version      string               `json:"version"`
	Warehouse    entities.WarehouseID `json:"warehouse"`
	Quantity     decimal.Decimal      `json:"quantity"`
	Leaves       []LeafRequirement    `json:"leaves"`
	Nodes        []NodeCost           `json:"nodes"`
	Shortages    []entities.Shortage  `json:"shortages"`
	MaterialCost decimal.Decimal      `json:"material_cost"`
	LaborCost    decimal.Decimal      `json:"labor_cost"`
	OverheadCost decimal.Decimal      `json:"overhead_cost"`
	TotalCost    decimal.Decimal      `json:"total_cost"`
	MaxDepth     int                  `json:"max_depth"`
	ComputedAt   time.Time            `json:"computed_at"`
}

// Requirements converts the leaves into order requirements
func (r ExplosionResult) Requirements() []entities.Requirement {
	reqs := make([]entities.Requirement, len(r.Leaves))
	for i, leaf := range r.Leaves {
		reqs[i] = entities.Requirement{Product: leaf.Product, Warehouse: leaf.Warehouse, Quantity: leaf.Quantity}
	}
	return reqs
}
