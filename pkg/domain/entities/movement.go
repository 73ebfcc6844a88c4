package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies a ledger movement
type MovementType int

const (
	MovementReceipt MovementType = iota
	MovementReserve
	MovementRelease
	MovementConsume
	MovementProductionReceipt
)

// String method for MovementType enum
func (m MovementType) String() string {
	switch m {
	case MovementReceipt:
		return "Receipt"
	case MovementReserve:
		return "Reserve"
	case MovementRelease:
		return "Release"
	case MovementConsume:
		return "Consume"
	case MovementProductionReceipt:
		return "ProductionReceipt"
	default:
		return "Unknown"
	}
}

// MarshalText renders the type by name
func (m MovementType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMovementType parses the String form of a movement type
func ParseMovementType(s string) (MovementType, bool) {
	for _, m := range []MovementType{MovementReceipt, MovementReserve, MovementRelease, MovementConsume, MovementProductionReceipt} {
		if m.String() == s {
			return m, true
		}
	}
	return MovementReceipt, false
}

// Movement is an immutable audit record of one ledger mutation.
// Movements are never read back to derive batch or reservation state.
type Movement struct {
	Seq         int64           `json:"seq"`
	Type        MovementType    `json:"type"`
	Batch       BatchID         `json:"batch"`
	Product     ProductID       `json:"product"`
	Warehouse   WarehouseID     `json:"warehouse"`
	Reservation ReservationID   `json:"reservation,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Cost        decimal.Decimal `json:"cost"`
	Reference   string          `json:"reference,omitempty"`
	Operator    string          `json:"operator,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// NewMovement builds a movement with Cost = quantity × unit cost
func NewMovement(t MovementType, batch Batch, reservation ReservationID, quantity decimal.Decimal, reference, operator string, at time.Time) Movement {
	return Movement{
		Type:        t,
		Batch:       batch.ID,
		Product:     batch.Product,
		Warehouse:   batch.Warehouse,
		Reservation: reservation,
		Quantity:    quantity,
		UnitCost:    batch.UnitCost,
		Cost:        quantity.Mul(batch.UnitCost),
		Reference:   reference,
		Operator:    operator,
		RecordedAt:  at,
	}
}
