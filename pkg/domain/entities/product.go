package entities

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ProductID represents a unique product identifier
type ProductID string

// WarehouseID represents a unique warehouse identifier
type WarehouseID string

// StockKey identifies the stock of one product held in one warehouse.
// It is the unit of mutual exclusion for allocation.
type StockKey struct {
	Product   ProductID
	Warehouse WarehouseID
}

// String returns the key as product@warehouse
func (k StockKey) String() string {
	return fmt.Sprintf("%s@%s", k.Product, k.Warehouse)
}

// Less orders keys by product then warehouse
func (k StockKey) Less(other StockKey) bool {
	if k.Product != other.Product {
		return k.Product < other.Product
	}
	return k.Warehouse < other.Warehouse
}

// SortedKeys returns a de-duplicated copy of keys in lock acquisition order
func SortedKeys(keys []StockKey) []StockKey {
	seen := make(map[StockKey]struct{}, len(keys))
	sorted := make([]StockKey, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})
	return sorted
}

// StockLevel classifies available stock against product thresholds
type StockLevel int

const (
	StockOK StockLevel = iota
	StockBelowMinimum
	StockCritical
)

// String method for StockLevel enum
func (l StockLevel) String() string {
	switch l {
	case StockOK:
		return "OK"
	case StockBelowMinimum:
		return "BelowMinimum"
	case StockCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// MarshalText renders the level by name
func (l StockLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Product is the engine's read-only view of product master data
type Product struct {
	ID            ProductID       `json:"id"`
	Description   string          `json:"description"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	MinimumStock  decimal.Decimal `json:"minimum_stock"`
	CriticalStock decimal.Decimal `json:"critical_stock"`
}

// NewProduct creates a validated Product
func NewProduct(id ProductID, description, uom string, minimum, critical decimal.Decimal) (*Product, error) {
	if string(id) == "" {
		return nil, fmt.Errorf("product id cannot be empty")
	}
	if uom == "" {
		return nil, fmt.Errorf("unit of measure cannot be empty")
	}
	if minimum.IsNegative() {
		return nil, fmt.Errorf("minimum stock cannot be negative, got %s", minimum)
	}
	if critical.IsNegative() {
		return nil, fmt.Errorf("critical stock cannot be negative, got %s", critical)
	}
	if critical.GreaterThan(minimum) {
		return nil, fmt.Errorf("critical stock (%s) cannot exceed minimum stock (%s)", critical, minimum)
	}

	return &Product{
		ID:            id,
		Description:   description,
		UnitOfMeasure: uom,
		MinimumStock:  minimum,
		CriticalStock: critical,
	}, nil
}

// Level classifies an available quantity against the product thresholds
func (p Product) Level(available decimal.Decimal) StockLevel {
	switch {
	case p.CriticalStock.IsPositive() && available.LessThanOrEqual(p.CriticalStock):
		return StockCritical
	case p.MinimumStock.IsPositive() && available.LessThan(p.MinimumStock):
		return StockBelowMinimum
	default:
		return StockOK
	}
}
