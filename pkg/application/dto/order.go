package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
)

// SubmitOrderRequest asks for a new production order
type SubmitOrderRequest struct {
	Product   entities.ProductID   `json:"product" validate:"required"`
	BOM       entities.BOMID       `json:"bom,omitempty"`
	Version   string               `json:"version,omitempty"`
	Warehouse entities.WarehouseID `json:"warehouse" validate:"required"`
	Quantity  decimal.Decimal      `json:"quantity" validate:"gt=0"`
}

// CompletionReport carries actual usage reported by production.
// Components missing from Consumed consume their full reservation.
type CompletionReport struct {
	Consumed map[entities.ProductID]decimal.Decimal `json:"consumed"`
	Scrapped decimal.Decimal                        `json:"scrapped" validate:"gte=0"`
}

// ReceiptRequest stocks a purchased batch
type ReceiptRequest struct {
	Product   entities.ProductID     `json:"product" validate:"required"`
	Warehouse entities.WarehouseID   `json:"warehouse" validate:"required"`
	LotNumber string                 `json:"lot_number"`
	Quantity  decimal.Decimal        `json:"quantity" validate:"gt=0"`
	UnitCost  decimal.Decimal        `json:"unit_cost" validate:"gte=0"`
	EntryTime time.Time              `json:"entry_time,omitempty"`
	Quality   entities.QualityStatus `json:"quality"`
	Reference string                 `json:"reference"`
}

// DefineBOMRequest creates a Draft BOM with its component lines
type DefineBOMRequest struct {
	Product       entities.ProductID `json:"product" validate:"required"`
	Version       string             `json:"version" validate:"required"`
	EffectiveFrom time.Time          `json:"effective_from"`
	EffectiveTo   *time.Time         `json:"effective_to,omitempty"`
	LaborCost     decimal.Decimal    `json:"labor_cost" validate:"gte=0"`
	OverheadCost  decimal.Decimal    `json:"overhead_cost" validate:"gte=0"`
	Lines         []BOMLineRequest   `json:"lines" validate:"required,min=1,dive"`
}

// BOMLineRequest is one component line of DefineBOMRequest
type BOMLineRequest struct {
	Sequence        int                `json:"sequence" validate:"required,gt=0"`
	Component       entities.ProductID `json:"component" validate:"required"`
	Quantity        decimal.Decimal    `json:"quantity" validate:"gt=0"`
	ScrapPercentage decimal.Decimal    `json:"scrap_percentage" validate:"gte=0,lt=100"`
}
