package entities

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// RequirePositive rejects zero and negative quantities with ErrInvalidQuantity
func RequirePositive(field string, q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidQuantity, field, q)
	}
	return nil
}

// RequireNonNegative rejects negative quantities with ErrInvalidQuantity
func RequireNonNegative(field string, q decimal.Decimal) error {
	if q.IsNegative() {
		return fmt.Errorf("%w: %s cannot be negative, got %s", ErrInvalidQuantity, field, q)
	}
	return nil
}

// QuantityFromFloat converts a float quantity, rejecting NaN and infinities
func QuantityFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: quantity must be finite, got %v", ErrInvalidQuantity, f)
	}
	return decimal.NewFromFloat(f), nil
}

// MinDecimal returns the smaller of a and b
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
