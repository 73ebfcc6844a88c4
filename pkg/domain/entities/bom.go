package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BOMID identifies a composition node (BOM header)
type BOMID string

// BOMStatus represents the lifecycle state of a BOM
type BOMStatus int

const (
	BOMDraft BOMStatus = iota
	BOMActive
	BOMObsolete
)

// String method for BOMStatus enum
func (s BOMStatus) String() string {
	switch s {
	case BOMDraft:
		return "Draft"
	case BOMActive:
		return "Active"
	case BOMObsolete:
		return "Obsolete"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status by name
func (s BOMStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseBOMStatus parses the String form of a BOM status
func ParseBOMStatus(s string) (BOMStatus, error) {
	switch s {
	case "Draft", "draft", "":
		return BOMDraft, nil
	case "Active", "active":
		return BOMActive, nil
	case "Obsolete", "obsolete":
		return BOMObsolete, nil
	default:
		return BOMDraft, fmt.Errorf("unknown BOM status %q", s)
	}
}

// CompositionNode is a versioned BOM header for one parent product
type CompositionNode struct {
	ID            BOMID           `json:"id"`
	Product       ProductID       `json:"product"`
	Version       string          `json:"version"`
	Status        BOMStatus       `json:"status"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"` // nil = open ended
	LaborCost     decimal.Decimal `json:"labor_cost"`
	OverheadCost  decimal.Decimal `json:"overhead_cost"`
}

// NewCompositionNode creates a validated Draft CompositionNode
func NewCompositionNode(
	product ProductID,
	version string,
	effectiveFrom time.Time,
	effectiveTo *time.Time,
	laborCost, overheadCost decimal.Decimal,
) (*CompositionNode, error) {
	if string(product) == "" {
		return nil, fmt.Errorf("product cannot be empty")
	}
	if version == "" {
		return nil, fmt.Errorf("version cannot be empty")
	}
	if effectiveTo != nil && !effectiveTo.After(effectiveFrom) {
		return nil, fmt.Errorf("effective to %v must be after effective from %v", *effectiveTo, effectiveFrom)
	}
	if err := RequireNonNegative("labor cost", laborCost); err != nil {
		return nil, err
	}
	if err := RequireNonNegative("overhead cost", overheadCost); err != nil {
		return nil, err
	}

	return &CompositionNode{
		Product:       product,
		Version:       version,
		Status:        BOMDraft,
		EffectiveFrom: effectiveFrom,
		EffectiveTo:   effectiveTo,
		LaborCost:     laborCost,
		OverheadCost:  overheadCost,
	}, nil
}

// IsEffective reports whether the node's window contains at
func (n CompositionNode) IsEffective(at time.Time) bool {
	if at.Before(n.EffectiveFrom) {
		return false
	}
	return n.EffectiveTo == nil || at.Before(*n.EffectiveTo)
}

// Supersedes reports whether n should win over other when both are active and effective
func (n CompositionNode) Supersedes(other CompositionNode) bool {
	if !n.EffectiveFrom.Equal(other.EffectiveFrom) {
		return n.EffectiveFrom.After(other.EffectiveFrom)
	}
	return n.Version > other.Version
}

// CompositionEdge is a single component line of a BOM
type CompositionEdge struct {
	BOM             BOMID           `json:"bom"`
	Sequence        int             `json:"sequence"`
	Component       ProductID       `json:"component"`
	Quantity        decimal.Decimal `json:"quantity"`
	ScrapPercentage decimal.Decimal `json:"scrap_percentage"`
}

var hundred = decimal.NewFromInt(100)

// NewCompositionEdge creates a validated CompositionEdge
func NewCompositionEdge(bom BOMID, sequence int, component ProductID, quantity, scrapPercentage decimal.Decimal) (*CompositionEdge, error) {
	if string(bom) == "" {
		return nil, fmt.Errorf("BOM cannot be empty")
	}
	if string(component) == "" {
		return nil, fmt.Errorf("component cannot be empty")
	}
	if sequence <= 0 {
		return nil, fmt.Errorf("sequence must be positive, got %d", sequence)
	}
	if err := RequirePositive("component quantity", quantity); err != nil {
		return nil, err
	}
	if err := RequireNonNegative("scrap percentage", scrapPercentage); err != nil {
		return nil, err
	}
	if scrapPercentage.GreaterThanOrEqual(hundred) {
		return nil, fmt.Errorf("%w: scrap percentage must be below 100, got %s", ErrInvalidQuantity, scrapPercentage)
	}

	return &CompositionEdge{
		BOM:             bom,
		Sequence:        sequence,
		Component:       component,
		Quantity:        quantity,
		ScrapPercentage: scrapPercentage,
	}, nil
}

// EffectiveQuantity is quantity × (1 + scrap/100)
func (e CompositionEdge) EffectiveQuantity() decimal.Decimal {
	return e.Quantity.Mul(decimal.NewFromInt(1).Add(e.ScrapPercentage.Div(hundred)))
}
