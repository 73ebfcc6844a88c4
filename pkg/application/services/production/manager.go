// Package production drives the production order lifecycle against the batch ledger.
package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/application/services/explosion"
	"github.com/vsinha/costing/pkg/application/services/fifo"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/operator"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"github.com/vsinha/costing/pkg/infrastructure/events"
	"go.uber.org/zap"
)

// Manager owns order state and talks to the ledger only through LedgerTx commands
type Manager struct {
	orders    repositories.OrderRepository
	ledger    repositories.BatchLedger
	explosion *explosion.Engine
	resolver  *fifo.Resolver
	events    events.EventStore
	clock     entities.Clock
	logger    *zap.Logger
	locks     *orderLocks
}

// Dependencies groups the collaborators of a Manager. Events may be nil.
type Dependencies struct {
	Orders    repositories.OrderRepository
	Ledger    repositories.BatchLedger
	Explosion *explosion.Engine
	Resolver  *fifo.Resolver
	Events    events.EventStore
	Clock     entities.Clock
	Logger    *zap.Logger
}

// NewManager creates a new production order manager
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("order repository is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("batch ledger is required")
	}
	if deps.Explosion == nil {
		return nil, fmt.Errorf("explosion engine is required")
	}
	if deps.Clock == nil {
		deps.Clock = entities.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = fifo.NewResolver(deps.Logger)
	}

	return &Manager{
		orders:    deps.Orders,
		ledger:    deps.Ledger,
		explosion: deps.Explosion,
		resolver:  deps.Resolver,
		events:    deps.Events,
		clock:     deps.Clock,
		logger:    deps.Logger.Named("production"),
		locks:     newOrderLocks(),
	}, nil
}

// Submit explodes the BOM and creates a Planned order when every leaf can be covered.
// Shortages are all reported together and no order is created.
func (m *Manager) Submit(ctx context.Context, req dto.SubmitOrderRequest) (*entities.ProductionOrder, error) {
	if err := entities.RequirePositive("order quantity", req.Quantity); err != nil {
		return nil, err
	}
	if req.Warehouse == "" {
		return nil, fmt.Errorf("%w: warehouse cannot be empty", entities.ErrInvalidInput)
	}

	now := m.clock.Now()
	root, err := m.explosion.ResolveRoot(ctx, dto.ExplosionRequest{
		Product:   req.Product,
		BOM:       req.BOM,
		Version:   req.Version,
		Warehouse: req.Warehouse,
		Quantity:  req.Quantity,
		At:        now,
	})
	if err != nil {
		return nil, err
	}
	if root.Status != entities.BOMActive {
		return nil, fmt.Errorf("%w: BOM %s (%s %s) is %s", entities.ErrBOMNotActive, root.ID, root.Product, root.Version, root.Status)
	}

	result, err := m.explosion.ExplodeNode(ctx, root, req.Warehouse, req.Quantity, now)
	if err != nil {
		return nil, err
	}
	if len(result.Shortages) > 0 {
		shortage := &entities.InsufficientStockError{Shortages: result.Shortages}
		m.logger.Warn("order rejected",
			zap.String("product", string(req.Product)),
			zap.Stringer("quantity", req.Quantity),
			zap.Error(shortage),
		)
		return nil, shortage
	}

	order, err := entities.NewProductionOrder(req.Product, root, req.Warehouse, req.Quantity, operator.FromContext(ctx), now)
	if err != nil {
		return nil, err
	}
	order.Requirements = result.Requirements()
	order.EstimatedMaterialCost = result.MaterialCost
	order.EstimatedLaborCost = result.LaborCost
	order.EstimatedOverheadCost = result.OverheadCost
	order.EstimatedTotalCost = result.TotalCost

	created, err := m.orders.Create(ctx, *order)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	m.logTransition(ctx, created)
	m.publish(nil, created, now)
	return &created, nil
}

// Allocate reserves every requirement FIFO inside one ledger transaction.
// When any requirement is short nothing is reserved.
func (m *Manager) Allocate(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	order, next, err := m.prepare(ctx, id, entities.OrderAllocated)
	if err != nil {
		return nil, err
	}

	allocated := decimal.Zero
	movements, err := m.ledger.Atomically(ctx, order.RequirementKeys(), func(tx repositories.LedgerTx) error {
		allocated = decimal.Zero
		plans := make([]*dto.AllocationPlan, 0, len(order.Requirements))
		var shortages []entities.Shortage

		for _, req := range order.Requirements {
			plan, err := m.resolver.Allocate(ctx, tx, req.Key(), req.Quantity, fifo.ModeAllOrNothing)
			var insufficient *entities.InsufficientStockError
			if errors.As(err, &insufficient) {
				shortages = append(shortages, insufficient.Shortages...)
				continue
			}
			if err != nil {
				return err
			}
			plans = append(plans, plan)
		}
		if len(shortages) > 0 {
			return &entities.InsufficientStockError{Shortages: shortages}
		}

		for _, plan := range plans {
			for _, line := range plan.Lines {
				if _, err := tx.Reserve(ctx, entities.Reservation{
					OrderID:  order.ID,
					BatchID:  line.Batch,
					Quantity: line.Quantity,
				}); err != nil {
					return err
				}
			}
			allocated = allocated.Add(plan.TotalCost)
		}
		return nil
	})
	if err != nil {
		return nil, m.ledgerFailure("allocate", order, err)
	}

	next.AllocatedMaterialCost = allocated
	updated, err := m.orders.Update(ctx, next)
	if err != nil {
		m.logger.Error("order update failed after allocation, releasing reservations",
			zap.String("order", string(order.ID)),
			zap.Error(err),
		)
		if _, releaseErr := m.releaseAll(ctx, order); releaseErr != nil {
			m.logger.Error("compensating release failed",
				zap.Bool("defect", true),
				zap.String("order", string(order.ID)),
				zap.Error(releaseErr),
			)
		}
		return nil, fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}

	m.logTransition(ctx, updated)
	m.publish(movements, updated, m.clock.Now())
	return &updated, nil
}

// Start moves an Allocated order to InProgress; it has no ledger effect
func (m *Manager) Start(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	_, next, err := m.prepare(ctx, id, entities.OrderInProgress)
	if err != nil {
		return nil, err
	}
	updated, err := m.orders.Update(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update order %s: %w", id, err)
	}

	m.logTransition(ctx, updated)
	m.publish(nil, updated, m.clock.Now())
	return &updated, nil
}

// consumption is the validated usage of one requirement
type consumption struct {
	requirement entities.Requirement
	actual      decimal.Decimal
	active      []entities.Reservation
}

// Complete consumes the reported usage, releases whatever was not used and
// receives the produced quantity as a new batch of the finished product.
func (m *Manager) Complete(ctx context.Context, id entities.OrderID, report dto.CompletionReport) (*entities.ProductionOrder, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	order, next, err := m.prepare(ctx, id, entities.OrderCompleted)
	if err != nil {
		return nil, err
	}
	if err := validateReport(order, report); err != nil {
		return nil, err
	}

	scrapped := report.Scrapped
	produced := order.PlannedQuantity.Sub(scrapped)
	keys := append(order.RequirementKeys(), entities.StockKey{Product: order.Product, Warehouse: order.Warehouse})

	var (
		material decimal.Decimal
		output   entities.Batch
	)
	movements, err := m.ledger.Atomically(ctx, keys, func(tx repositories.LedgerTx) error {
		material = decimal.Zero
		output = entities.Batch{}

		usage, err := m.planConsumption(ctx, tx, order, report)
		if err != nil {
			return err
		}

		for _, u := range usage {
			remaining := u.actual
			for _, r := range u.active {
				take := entities.MinDecimal(r.Quantity, remaining)
				if take.IsZero() {
					if err := tx.Release(ctx, r.ID); err != nil {
						return err
					}
					continue
				}
				if _, err := tx.Consume(ctx, r.ID, take); err != nil {
					return err
				}
				material = material.Add(take.Mul(r.UnitCost))
				remaining = remaining.Sub(take)
			}
		}

		if produced.IsPositive() {
			total := material.Add(order.EstimatedLaborCost).Add(order.EstimatedOverheadCost)
			output, err = tx.Receive(ctx, entities.Batch{
				Product:        order.Product,
				Warehouse:      order.Warehouse,
				LotNumber:      "PO-" + string(order.ID),
				QuantityOnHand: produced,
				UnitCost:       fifo.WeightedCost(total, produced),
				Quality:        entities.QualityUsable,
			}, entities.MovementProductionReceipt, string(order.ID))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, m.ledgerFailure("complete", order, err)
	}

	next.ActualMaterialCost = material
	next.ActualTotalCost = material.Add(order.EstimatedLaborCost).Add(order.EstimatedOverheadCost)
	next.ProducedQuantity = produced
	next.ScrappedQuantity = scrapped
	next.OutputBatch = output.ID

	updated, err := m.orders.Update(ctx, next)
	if err != nil {
		// Consumption cannot be undone by a release; the ledger stays authoritative
		m.logger.Error("order update failed after completion",
			zap.Bool("defect", true),
			zap.String("order", string(order.ID)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}

	m.logTransition(ctx, updated)
	m.publish(movements, updated, m.clock.Now())
	return &updated, nil
}

// planConsumption groups the order's Active reservations by component in creation order
// and checks the reported usage against them before any ledger mutation.
func (m *Manager) planConsumption(
	ctx context.Context,
	tx repositories.LedgerTx,
	order entities.ProductionOrder,
	report dto.CompletionReport,
) ([]consumption, error) {
	reservations, err := tx.OrderReservations(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read reservations of order %s: %w", order.ID, err)
	}
	byKey := make(map[entities.StockKey][]entities.Reservation)
	for _, r := range reservations {
		if r.Status == entities.ReservationActive {
			byKey[r.Key()] = append(byKey[r.Key()], r)
		}
	}

	usage := make([]consumption, 0, len(order.Requirements))
	for _, req := range order.Requirements {
		active := byKey[req.Key()]
		reserved := decimal.Zero
		for _, r := range active {
			reserved = reserved.Add(r.Quantity)
		}

		actual := reserved
		if reported, ok := report.Consumed[req.Product]; ok {
			actual = reported
		}
		if actual.GreaterThan(reserved) {
			return nil, &overConsumption{product: req.Product, actual: actual, reserved: reserved}
		}
		usage = append(usage, consumption{requirement: req, actual: actual, active: active})
	}
	return usage, nil
}

// overConsumption is a completion report asking for more than was reserved
type overConsumption struct {
	product  entities.ProductID
	actual   decimal.Decimal
	reserved decimal.Decimal
}

func (e *overConsumption) Error() string {
	return fmt.Sprintf("%s: %s consumed %s but only %s reserved",
		entities.ErrConsumeExceedsReservation, e.product, e.actual, e.reserved)
}

func (e *overConsumption) Unwrap() error {
	return entities.ErrConsumeExceedsReservation
}

func validateReport(order entities.ProductionOrder, report dto.CompletionReport) error {
	if err := entities.RequireNonNegative("scrapped quantity", report.Scrapped); err != nil {
		return err
	}
	if report.Scrapped.GreaterThan(order.PlannedQuantity) {
		return fmt.Errorf("%w: scrapped %s exceeds planned %s", entities.ErrInvalidQuantity, report.Scrapped, order.PlannedQuantity)
	}

	known := make(map[entities.ProductID]bool, len(order.Requirements))
	for _, req := range order.Requirements {
		known[req.Product] = true
	}
	for product, qty := range report.Consumed {
		if !known[product] {
			return fmt.Errorf("%w: %s is not a component of order %s", entities.ErrInvalidQuantity, product, order.ID)
		}
		if err := entities.RequireNonNegative("consumed quantity of "+string(product), qty); err != nil {
			return err
		}
	}
	return nil
}

// Cancel releases every Active reservation of the order. Cancelling a
// Cancelled order returns it unchanged.
func (m *Manager) Cancel(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	current, err := m.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == entities.OrderCancelled {
		return &current, nil
	}

	order, next, err := m.prepare(ctx, id, entities.OrderCancelled)
	if err != nil {
		return nil, err
	}

	var movements []entities.Movement
	if order.Status == entities.OrderAllocated {
		movements, err = m.releaseAll(ctx, order)
		if err != nil {
			return nil, m.ledgerFailure("cancel", order, err)
		}
	}

	updated, err := m.orders.Update(ctx, next)
	if err != nil {
		m.logger.Error("order update failed after releasing reservations",
			zap.String("order", string(order.ID)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}

	m.logTransition(ctx, updated)
	m.publish(movements, updated, m.clock.Now())
	return &updated, nil
}

// Get returns an order by ID
func (m *Manager) Get(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	order, err := m.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns orders, optionally filtered by status
func (m *Manager) List(ctx context.Context, status *entities.OrderStatus) ([]entities.ProductionOrder, error) {
	return m.orders.List(ctx, repositories.OrderFilter{Status: status})
}

// prepare loads the order and returns it with a copy already moved to next
func (m *Manager) prepare(ctx context.Context, id entities.OrderID, status entities.OrderStatus) (entities.ProductionOrder, entities.ProductionOrder, error) {
	order, err := m.orders.Get(ctx, id)
	if err != nil {
		return entities.ProductionOrder{}, entities.ProductionOrder{}, err
	}
	next := order.Clone()
	if err := next.Transition(status, m.clock.Now()); err != nil {
		return entities.ProductionOrder{}, entities.ProductionOrder{}, err
	}
	return order, next, nil
}

// releaseAll frees every Active reservation of the order in one transaction
func (m *Manager) releaseAll(ctx context.Context, order entities.ProductionOrder) ([]entities.Movement, error) {
	return m.ledger.Atomically(ctx, order.RequirementKeys(), func(tx repositories.LedgerTx) error {
		reservations, err := tx.OrderReservations(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			if r.Status != entities.ReservationActive {
				continue
			}
			if err := tx.Release(ctx, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) ledgerFailure(action string, order entities.ProductionOrder, err error) error {
	fields := []zap.Field{
		zap.String("order", string(order.ID)),
		zap.String("product", string(order.Product)),
		zap.Error(err),
	}
	var over *overConsumption
	switch {
	case errors.As(err, &over):
		m.logger.Warn("completion report rejected", fields...)
	case entities.IsInvariantViolation(err):
		m.logger.Error("ledger invariant violated", append(fields, zap.Bool("defect", true))...)
	case errors.Is(err, entities.ErrInsufficientStock):
		m.logger.Warn("allocation short", fields...)
	default:
		m.logger.Error("ledger transaction failed", fields...)
	}
	return fmt.Errorf("failed to %s order %s: %w", action, order.ID, err)
}

func (m *Manager) logTransition(ctx context.Context, order entities.ProductionOrder) {
	m.logger.Info("order transition",
		zap.String("order", string(order.ID)),
		zap.String("product", string(order.Product)),
		zap.Stringer("status", order.Status),
		zap.Int64("version", order.Version),
		zap.String("operator", operator.FromContext(ctx)),
	)
}

// publish appends one event per committed movement followed by the order event
func (m *Manager) publish(movements []entities.Movement, order entities.ProductionOrder, at time.Time) {
	if m.events == nil {
		return
	}
	batch := make([]events.Event, 0, len(movements)+1)
	for _, mv := range movements {
		batch = append(batch, events.NewMovementEvent(mv))
	}
	batch = append(batch, events.NewOrderEvent(events.OrderEventType(order.Status), order, at))

	for _, e := range batch {
		if err := m.events.AppendEvent(e.StreamID(), e); err != nil {
			m.logger.Warn("failed to append event",
				zap.String("type", e.Type()),
				zap.String("order", string(order.ID)),
				zap.Error(err),
			)
		}
	}
}
