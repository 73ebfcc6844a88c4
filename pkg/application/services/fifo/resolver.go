// Package fifo selects batches in entry order and prices the split.
package fifo

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"go.uber.org/zap"
)

// Mode selects what happens when usable stock cannot cover a requirement
type Mode int

const (
	// ModeAllOrNothing fails with InsufficientStockError and returns no plan
	ModeAllOrNothing Mode = iota
	// ModePartial returns whatever can be covered with ShortBy set
	ModePartial
)

// String method for Mode enum
func (m Mode) String() string {
	switch m {
	case ModeAllOrNothing:
		return "AllOrNothing"
	case ModePartial:
		return "Partial"
	default:
		return "Unknown"
	}
}

// Resolver computes FIFO allocation plans against a batch source
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a new FIFO resolver
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.Named("fifo")}
}

// Allocate reads usable batches from src and plans required against them.
// Inside a ledger transaction src is the LedgerTx, which makes the plan authoritative.
func (r *Resolver) Allocate(
	ctx context.Context,
	src repositories.BatchReader,
	key entities.StockKey,
	required decimal.Decimal,
	mode Mode,
) (*dto.AllocationPlan, error) {
	if err := entities.RequirePositive("required quantity", required); err != nil {
		return nil, err
	}

	batches, err := src.UsableBatches(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read usable batches for %s: %w", key, err)
	}

	plan, err := Plan(batches, key, required, mode)
	if err != nil {
		r.logger.Debug("allocation short",
			zap.Stringer("key", key),
			zap.Stringer("required", required),
			zap.Stringer("mode", mode),
		)
		return nil, err
	}
	return plan, nil
}

// Plan walks batches in (EntryTime, Sequence) order taking min(available, remaining).
// Batches that are not usable are passed over. The result is deterministic for a given input.
func Plan(batches []entities.Batch, key entities.StockKey, required decimal.Decimal, mode Mode) (*dto.AllocationPlan, error) {
	if err := entities.RequirePositive("required quantity", required); err != nil {
		return nil, err
	}

	ordered := make([]entities.Batch, 0, len(batches))
	for _, b := range batches {
		if b.Key() == key && b.Usable() {
			ordered = append(ordered, b)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return entities.FIFOLess(ordered[i], ordered[j])
	})

	plan := &dto.AllocationPlan{
		Product:   key.Product,
		Warehouse: key.Warehouse,
		Required:  required,
		Allocated: decimal.Zero,
		TotalCost: decimal.Zero,
		Lines:     make([]dto.PlanLine, 0),
	}

	remaining := required
	for _, b := range ordered {
		if !remaining.IsPositive() {
			break
		}
		take := entities.MinDecimal(b.AvailableQuantity(), remaining)
		cost := take.Mul(b.UnitCost)
		plan.Lines = append(plan.Lines, dto.PlanLine{
			Batch:     b.ID,
			LotNumber: b.LotNumber,
			Quantity:  take,
			UnitCost:  b.UnitCost,
			Cost:      cost,
		})
		plan.Allocated = plan.Allocated.Add(take)
		plan.TotalCost = plan.TotalCost.Add(cost)
		remaining = remaining.Sub(take)
	}

	plan.ShortBy = remaining
	plan.WeightedUnitCost = WeightedCost(plan.TotalCost, plan.Allocated)

	if remaining.IsPositive() && mode == ModeAllOrNothing {
		return nil, &entities.InsufficientStockError{Shortages: []entities.Shortage{plan.Shortage()}}
	}
	return plan, nil
}

// WeightedCost is total / quantity, zero when nothing was taken
func WeightedCost(total, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return total.Div(quantity)
}

// Availability summarises every usable batch of key in FIFO order
func (r *Resolver) Availability(ctx context.Context, ledger repositories.BatchLedger, key entities.StockKey) (*dto.Availability, error) {
	all, err := ledger.Batches(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read batches for %s: %w", key, err)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return entities.FIFOLess(all[i], all[j])
	})

	result := &dto.Availability{
		Product:   key.Product,
		Warehouse: key.Warehouse,
		OnHand:    decimal.Zero,
		Reserved:  decimal.Zero,
		Available: decimal.Zero,
		Batches:   make([]dto.BatchAvailability, 0),
	}

	availableValue := decimal.Zero
	for _, b := range all {
		if b.Quality != entities.QualityUsable {
			continue
		}
		result.OnHand = result.OnHand.Add(b.QuantityOnHand)
		result.Reserved = result.Reserved.Add(b.ReservedQuantity)
		if !b.Usable() {
			continue
		}
		available := b.AvailableQuantity()
		result.Available = result.Available.Add(available)
		availableValue = availableValue.Add(available.Mul(b.UnitCost))
		result.Batches = append(result.Batches, dto.BatchAvailability{
			Batch:     b.ID,
			LotNumber: b.LotNumber,
			EntryTime: b.EntryTime,
			Available: available,
			UnitCost:  b.UnitCost,
		})
	}
	result.WeightedAverageCost = WeightedCost(availableValue, result.Available)
	return result, nil
}
