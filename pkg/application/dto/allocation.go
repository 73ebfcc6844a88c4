package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
)

// PlanLine is the quantity taken from one batch
type PlanLine struct {
	Batch     entities.BatchID `json:"batch"`
	LotNumber string           `json:"lot_number,omitempty"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitCost  decimal.Decimal  `json:"unit_cost"`
	Cost      decimal.Decimal  `json:"cost"`
}

// AllocationPlan is the FIFO split of a requirement across batches
type AllocationPlan struct {
	Product          entities.ProductID   `json:"product"`
	Warehouse        entities.WarehouseID `json:"warehouse"`
	Required         decimal.Decimal      `json:"required"`
	Allocated        decimal.Decimal      `json:"allocated"`
	ShortBy          decimal.Decimal      `json:"short_by"`
	TotalCost        decimal.Decimal      `json:"total_cost"`
	WeightedUnitCost decimal.Decimal      `json:"weighted_unit_cost"`
	Lines            []PlanLine           `json:"lines"`
}

// Complete reports whether the plan covers the whole requirement
func (p AllocationPlan) Complete() bool {
	return p.ShortBy.IsZero()
}

// Shortage describes the uncovered part of the plan
func (p AllocationPlan) Shortage() entities.Shortage {
	return entities.Shortage{
		Product:   p.Product,
		Warehouse: p.Warehouse,
		Required:  p.Required,
		Available: p.Allocated,
		ShortBy:   p.ShortBy,
	}
}

// BatchAvailability is one batch in an availability breakdown
type BatchAvailability struct {
	Batch     entities.BatchID `json:"batch"`
	LotNumber string           `json:"lot_number,omitempty"`
	EntryTime time.Time        `json:"entry_time"`
	Available decimal.Decimal  `json:"available"`
	UnitCost  decimal.Decimal  `json:"unit_cost"`
}

// Availability answers checkAvailability for one stock key
type Availability struct {
	Product             entities.ProductID   `json:"product"`
	Warehouse           entities.WarehouseID `json:"warehouse"`
	OnHand              decimal.Decimal      `json:"on_hand"`
	Reserved            decimal.Decimal      `json:"reserved"`
	Available           decimal.Decimal      `json:"available"`
	WeightedAverageCost decimal.Decimal      `json:"weighted_average_cost"`
	Level               entities.StockLevel  `json:"level"`
	Batches             []BatchAvailability  `json:"batches"`
}
