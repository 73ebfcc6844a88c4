package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BatchID identifies one received inventory lot
type BatchID string

// QualityStatus represents the quality state of a batch
type QualityStatus int

const (
	QualityUsable QualityStatus = iota
	QualityQuarantine
	QualityRejected
)

// String method for QualityStatus enum
func (s QualityStatus) String() string {
	switch s {
	case QualityUsable:
		return "Usable"
	case QualityQuarantine:
		return "Quarantine"
	case QualityRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status by name
func (s QualityStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the String form; empty means Usable
func (s *QualityStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseQualityStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseQualityStatus parses the String form of a quality status
func ParseQualityStatus(s string) (QualityStatus, error) {
	switch s {
	case "Usable", "usable", "":
		return QualityUsable, nil
	case "Quarantine", "quarantine":
		return QualityQuarantine, nil
	case "Rejected", "rejected":
		return QualityRejected, nil
	default:
		return QualityUsable, fmt.Errorf("unknown quality status %q", s)
	}
}

// Batch represents a distinct received lot of a product with its own cost and entry time.
// Available quantity is always derived from on-hand and reserved, never stored.
type Batch struct {
	ID               BatchID         `json:"id"`
	Product          ProductID       `json:"product"`
	Warehouse        WarehouseID     `json:"warehouse"`
	LotNumber        string          `json:"lot_number"`
	QuantityOnHand   decimal.Decimal `json:"quantity_on_hand"`
	ReservedQuantity decimal.Decimal `json:"reserved_quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	EntryTime        time.Time       `json:"entry_time"`
	Sequence         int64           `json:"sequence"`
	Quality          QualityStatus   `json:"quality"`
}

// NewBatch creates a validated Batch for receipt. ID and Sequence are assigned by the ledger.
func NewBatch(
	product ProductID,
	warehouse WarehouseID,
	lotNumber string,
	quantity, unitCost decimal.Decimal,
	entryTime time.Time,
	quality QualityStatus,
) (*Batch, error) {
	if string(product) == "" {
		return nil, fmt.Errorf("product cannot be empty")
	}
	if string(warehouse) == "" {
		return nil, fmt.Errorf("warehouse cannot be empty")
	}
	if err := RequirePositive("quantity", quantity); err != nil {
		return nil, err
	}
	if err := RequireNonNegative("unit cost", unitCost); err != nil {
		return nil, err
	}

	return &Batch{
		Product:          product,
		Warehouse:        warehouse,
		LotNumber:        lotNumber,
		QuantityOnHand:   quantity,
		ReservedQuantity: decimal.Zero,
		UnitCost:         unitCost,
		EntryTime:        entryTime,
		Quality:          quality,
	}, nil
}

// Key returns the stock key the batch belongs to
func (b Batch) Key() StockKey {
	return StockKey{Product: b.Product, Warehouse: b.Warehouse}
}

// AvailableQuantity is on-hand minus reserved
func (b Batch) AvailableQuantity() decimal.Decimal {
	return b.QuantityOnHand.Sub(b.ReservedQuantity)
}

// TotalCost is the value of the on-hand quantity
func (b Batch) TotalCost() decimal.Decimal {
	return b.QuantityOnHand.Mul(b.UnitCost)
}

// Usable reports whether the batch participates in allocation
func (b Batch) Usable() bool {
	return b.Quality == QualityUsable && b.AvailableQuantity().IsPositive()
}

// CheckInvariant verifies 0 <= reserved <= on-hand
func (b Batch) CheckInvariant() error {
	if b.ReservedQuantity.IsNegative() {
		return fmt.Errorf("batch %s: reserved quantity %s is negative", b.ID, b.ReservedQuantity)
	}
	if b.ReservedQuantity.GreaterThan(b.QuantityOnHand) {
		return fmt.Errorf("batch %s: reserved quantity %s exceeds on-hand %s", b.ID, b.ReservedQuantity, b.QuantityOnHand)
	}
	return nil
}

// FIFOLess orders batches by entry time, then by sequence number
func FIFOLess(a, b Batch) bool {
	if !a.EntryTime.Equal(b.EntryTime) {
		return a.EntryTime.Before(b.EntryTime)
	}
	return a.Sequence < b.Sequence
}
