package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderID identifies a production order
type OrderID string

// OrderStatus represents the production order state
type OrderStatus int

const (
	OrderPlanned OrderStatus = iota
	OrderAllocated
	OrderInProgress
	OrderCompleted
	OrderCancelled
)

// String method for OrderStatus enum
func (s OrderStatus) String() string {
	switch s {
	case OrderPlanned:
		return "Planned"
	case OrderAllocated:
		return "Allocated"
	case OrderInProgress:
		return "InProgress"
	case OrderCompleted:
		return "Completed"
	case OrderCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status by name
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseOrderStatus parses the String form of an order status
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, status := range []OrderStatus{OrderPlanned, OrderAllocated, OrderInProgress, OrderCompleted, OrderCancelled} {
		if status.String() == s {
			return status, nil
		}
	}
	return OrderPlanned, fmt.Errorf("unknown order status %q", s)
}

// IsTerminal reports whether no further transition is possible
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPlanned:    {OrderAllocated, OrderCancelled},
	OrderAllocated:  {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderCompleted},
}

// CanTransition reports whether s may move to next
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Requirement is a leaf material requirement captured at order submission
type Requirement struct {
	Product   ProductID       `json:"product"`
	Warehouse WarehouseID     `json:"warehouse"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Key returns the stock key of the requirement
func (r Requirement) Key() StockKey {
	return StockKey{Product: r.Product, Warehouse: r.Warehouse}
}

// ProductionOrder represents a request to manufacture a product from a BOM
type ProductionOrder struct {
	ID              OrderID         `json:"id"`
	Product         ProductID       `json:"product"`
	BOM             BOMID           `json:"bom"`
	BOMVersion      string          `json:"bom_version"`
	Warehouse       WarehouseID     `json:"warehouse"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	Status          OrderStatus     `json:"status"`
	Requirements    []Requirement   `json:"requirements"`

	EstimatedMaterialCost decimal.Decimal `json:"estimated_material_cost"`
	EstimatedLaborCost    decimal.Decimal `json:"estimated_labor_cost"`
	EstimatedOverheadCost decimal.Decimal `json:"estimated_overhead_cost"`
	EstimatedTotalCost    decimal.Decimal `json:"estimated_total_cost"`
	AllocatedMaterialCost decimal.Decimal `json:"allocated_material_cost"`
	ActualMaterialCost    decimal.Decimal `json:"actual_material_cost"`
	ActualTotalCost       decimal.Decimal `json:"actual_total_cost"`

	ProducedQuantity decimal.Decimal `json:"produced_quantity"`
	ScrappedQuantity decimal.Decimal `json:"scrapped_quantity"`
	OutputBatch      BatchID         `json:"output_batch,omitempty"`

	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	AllocatedAt *time.Time `json:"allocated_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int64      `json:"version"`
}

// NewProductionOrder creates a validated Planned ProductionOrder
func NewProductionOrder(
	product ProductID,
	node CompositionNode,
	warehouse WarehouseID,
	quantity decimal.Decimal,
	createdBy string,
	createdAt time.Time,
) (*ProductionOrder, error) {
	if string(product) == "" {
		return nil, fmt.Errorf("product cannot be empty")
	}
	if string(warehouse) == "" {
		return nil, fmt.Errorf("warehouse cannot be empty")
	}
	if err := RequirePositive("planned quantity", quantity); err != nil {
		return nil, err
	}
	if node.Product != product {
		return nil, fmt.Errorf("%w: BOM %s is for %s, not %s", ErrBOMProductMismatch, node.ID, node.Product, product)
	}

	return &ProductionOrder{
		Product:         product,
		BOM:             node.ID,
		BOMVersion:      node.Version,
		Warehouse:       warehouse,
		PlannedQuantity: quantity,
		Status:          OrderPlanned,
		CreatedBy:       createdBy,
		CreatedAt:       createdAt,
	}, nil
}

// Transition moves the order to next and stamps the transition time
func (o *ProductionOrder) Transition(next OrderStatus, at time.Time) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidTransition, o.ID, o.Status, next)
	}
	o.Status = next
	stamp := at
	switch next {
	case OrderAllocated:
		o.AllocatedAt = &stamp
	case OrderInProgress:
		o.StartedAt = &stamp
	case OrderCompleted:
		o.CompletedAt = &stamp
	case OrderCancelled:
		o.CancelledAt = &stamp
	}
	return nil
}

// RequirementKeys returns the sorted stock keys of every requirement
func (o ProductionOrder) RequirementKeys() []StockKey {
	keys := make([]StockKey, 0, len(o.Requirements))
	for _, r := range o.Requirements {
		keys = append(keys, r.Key())
	}
	return SortedKeys(keys)
}

// Clone returns a deep copy safe to mutate
func (o ProductionOrder) Clone() ProductionOrder {
	clone := o
	clone.Requirements = append([]Requirement(nil), o.Requirements...)
	clone.AllocatedAt = cloneTime(o.AllocatedAt)
	clone.StartedAt = cloneTime(o.StartedAt)
	clone.CompletedAt = cloneTime(o.CompletedAt)
	clone.CancelledAt = cloneTime(o.CancelledAt)
	return clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
