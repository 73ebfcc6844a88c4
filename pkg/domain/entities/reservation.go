package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationID identifies a reservation
type ReservationID string

// ReservationStatus represents the lifecycle state of a reservation
type ReservationStatus int

const (
	ReservationActive ReservationStatus = iota
	ReservationConsumed
	ReservationReleased
)

// String method for ReservationStatus enum
func (s ReservationStatus) String() string {
	switch s {
	case ReservationActive:
		return "Active"
	case ReservationConsumed:
		return "Consumed"
	case ReservationReleased:
		return "Released"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status by name
func (s ReservationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reservation is a claim against a batch's quantity on behalf of a production order
type Reservation struct {
	ID               ReservationID     `json:"id"`
	OrderID          OrderID           `json:"order_id"`
	BatchID          BatchID           `json:"batch_id"`
	Product          ProductID         `json:"product"`
	Warehouse        WarehouseID       `json:"warehouse"`
	Quantity         decimal.Decimal   `json:"quantity"`
	ConsumedQuantity decimal.Decimal   `json:"consumed_quantity"`
	UnitCost         decimal.Decimal   `json:"unit_cost"`
	Status           ReservationStatus `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Key returns the stock key of the reserved batch
func (r Reservation) Key() StockKey {
	return StockKey{Product: r.Product, Warehouse: r.Warehouse}
}

// IsTerminal reports whether the reservation is Consumed or Released
func (r Reservation) IsTerminal() bool {
	return r.Status != ReservationActive
}
