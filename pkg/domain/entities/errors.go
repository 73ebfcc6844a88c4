package entities

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity rejects non-positive or non-finite input before any ledger interaction
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInsufficientStock is matched by *InsufficientStockError
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCircularReference is matched by *CircularReferenceError
	ErrCircularReference = errors.New("circular BOM reference")
	// ErrOverReservation means a reserve exceeded the batch's available quantity
	ErrOverReservation = errors.New("reservation exceeds available quantity")
	// ErrConsumeExceedsReservation means a consume exceeded the reserved quantity
	ErrConsumeExceedsReservation = errors.New("consumption exceeds reservation")
	// ErrUnknownReservation means the reservation is absent or already terminal
	ErrUnknownReservation = errors.New("unknown reservation")
	// ErrInvalidTransition rejects a production order state change
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrNotFound is returned by repositories for missing records
	ErrNotFound = errors.New("not found")
	// ErrBOMProductMismatch means the BOM does not belong to the named product
	ErrBOMProductMismatch = errors.New("BOM does not belong to product")
	// ErrBOMNotActive rejects submissions against draft or obsolete BOMs
	ErrBOMNotActive = errors.New("BOM is not active")
	// ErrDepthExceeded is the explosion depth ceiling fallback
	ErrDepthExceeded = errors.New("BOM depth ceiling exceeded")
	// ErrKeyNotLocked means a ledger transaction touched stock it did not lock
	ErrKeyNotLocked = errors.New("stock key not locked by transaction")
	// ErrConcurrentModification is an optimistic concurrency conflict
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrInvalidInput rejects malformed requests such as missing identifiers
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists is returned when creating a record whose key is taken
	ErrAlreadyExists = errors.New("already exists")
)

// IsInvariantViolation reports whether err is one of the ledger invariant
// violations that correct engine logic never produces.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrOverReservation) ||
		errors.Is(err, ErrConsumeExceedsReservation) ||
		errors.Is(err, ErrUnknownReservation) ||
		errors.Is(err, ErrKeyNotLocked)
}

// Shortage represents an unfulfillable leaf requirement
type Shortage struct {
	Product   ProductID       `json:"product"`
	Warehouse WarehouseID     `json:"warehouse"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	ShortBy   decimal.Decimal `json:"short_by"`
}

// String renders an actionable shortage message
func (s Shortage) String() string {
	return fmt.Sprintf("short by %s units of %s in %s", s.ShortBy, s.Product, s.Warehouse)
}

// InsufficientStockError carries every shortage found by an allocation attempt
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(parts, "; "))
}

// Is matches ErrInsufficientStock
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ShortBy returns the deficit for a product, zero when it is not short
func (e *InsufficientStockError) ShortBy(product ProductID) decimal.Decimal {
	total := decimal.Zero
	for _, s := range e.Shortages {
		if s.Product == product {
			total = total.Add(s.ShortBy)
		}
	}
	return total
}

// CircularReferenceError reports the product path that closes a BOM cycle
type CircularReferenceError struct {
	Path []ProductID
}

func (e *CircularReferenceError) Error() string {
	parts := make([]string, len(e.Path))
	for i, p := range e.Path {
		parts[i] = string(p)
	}
	return fmt.Sprintf("%s: %s", ErrCircularReference, strings.Join(parts, " -> "))
}

// Is matches ErrCircularReference
func (e *CircularReferenceError) Is(target error) bool {
	return target == ErrCircularReference
}
