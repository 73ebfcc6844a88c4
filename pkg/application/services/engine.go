package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/application/services/explosion"
	"github.com/vsinha/costing/pkg/application/services/fifo"
	"github.com/vsinha/costing/pkg/application/services/production"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
	domainservices "github.com/vsinha/costing/pkg/domain/services"
	"github.com/vsinha/costing/pkg/infrastructure/events"
	"go.uber.org/zap"
)

// EngineConfig holds tuning for the costing engine
type EngineConfig struct {
	// MaxExplosionDepth is the recursion ceiling fallback (0 = explosion.DefaultMaxDepth)
	MaxExplosionDepth int
}

// Repositories groups the stores the engine runs against
type Repositories struct {
	Ledger       repositories.BatchLedger
	Compositions repositories.CompositionRepository
	Orders       repositories.OrderRepository
	Products     repositories.ProductRepository
}

// Engine is the in-process API of the inventory allocation and costing engine
type Engine struct {
	repos      Repositories
	explosion  *explosion.Engine
	resolver   *fifo.Resolver
	validator  *domainservices.BOMValidator
	production *production.Manager
	events     events.EventStore
	clock      entities.Clock
	logger     *zap.Logger

	// activation serializes cycle validation with the status change
	activation sync.Mutex
}

// NewEngine wires the engine components. eventStore and clock may be nil.
func NewEngine(
	repos Repositories,
	eventStore events.EventStore,
	config EngineConfig,
	clock entities.Clock,
	logger *zap.Logger,
) (*Engine, error) {
	if repos.Ledger == nil || repos.Compositions == nil || repos.Orders == nil || repos.Products == nil {
		return nil, fmt.Errorf("ledger, composition, order and product repositories are required")
	}
	if clock == nil {
		clock = entities.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver := fifo.NewResolver(logger)
	explosionEngine := explosion.NewEngine(repos.Compositions, repos.Ledger,
		explosion.Config{MaxDepth: config.MaxExplosionDepth}, clock, logger)

	manager, err := production.NewManager(production.Dependencies{
		Orders:    repos.Orders,
		Ledger:    repos.Ledger,
		Explosion: explosionEngine,
		Resolver:  resolver,
		Events:    eventStore,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create production manager: %w", err)
	}

	return &Engine{
		repos:      repos,
		explosion:  explosionEngine,
		resolver:   resolver,
		validator:  domainservices.NewBOMValidator(repos.Compositions),
		production: manager,
		events:     eventStore,
		clock:      clock,
		logger:     logger.Named("engine"),
	}, nil
}

// ReceiveStock records a purchased batch
func (e *Engine) ReceiveStock(ctx context.Context, req dto.ReceiptRequest) (*entities.Batch, error) {
	if _, err := entities.NewBatch(req.Product, req.Warehouse, req.LotNumber, req.Quantity, req.UnitCost, req.EntryTime, req.Quality); err != nil {
		return nil, fmt.Errorf("%w: %w", entities.ErrInvalidInput, err)
	}
	key := entities.StockKey{Product: req.Product, Warehouse: req.Warehouse}

	var received entities.Batch
	movements, err := e.repos.Ledger.Atomically(ctx, []entities.StockKey{key}, func(tx repositories.LedgerTx) error {
		var err error
		received, err = tx.Receive(ctx, entities.Batch{
			Product:        req.Product,
			Warehouse:      req.Warehouse,
			LotNumber:      req.LotNumber,
			QuantityOnHand: req.Quantity,
			UnitCost:       req.UnitCost,
			EntryTime:      req.EntryTime,
			Quality:        req.Quality,
		}, entities.MovementReceipt, req.Reference)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive %s into %s: %w", req.Product, req.Warehouse, err)
	}

	e.logger.Info("stock received",
		zap.String("batch", string(received.ID)),
		zap.Stringer("key", key),
		zap.Stringer("quantity", received.QuantityOnHand),
		zap.Stringer("unit_cost", received.UnitCost),
	)
	e.append(events.NewStockReceivedEvent(received, e.clock.Now()))
	for _, m := range movements {
		e.append(events.NewMovementEvent(m))
	}
	return &received, nil
}

// CheckAvailability reports free stock of a product in a warehouse with its FIFO breakdown.
// Products without master data are classified against zero thresholds.
func (e *Engine) CheckAvailability(ctx context.Context, product entities.ProductID, warehouse entities.WarehouseID) (*dto.Availability, error) {
	if product == "" || warehouse == "" {
		return nil, fmt.Errorf("%w: product and warehouse are required", entities.ErrInvalidInput)
	}
	key := entities.StockKey{Product: product, Warehouse: warehouse}

	availability, err := e.resolver.Availability(ctx, e.repos.Ledger, key)
	if err != nil {
		return nil, err
	}

	master, err := e.repos.Products.Product(ctx, product)
	switch {
	case errors.Is(err, entities.ErrNotFound):
		master = entities.Product{ID: product}
	case err != nil:
		return nil, fmt.Errorf("failed to load product %s: %w", product, err)
	}
	availability.Level = master.Level(availability.Available)
	return availability, nil
}

// ExplodeBOM flattens a BOM into priced leaf requirements without touching the ledger
func (e *Engine) ExplodeBOM(ctx context.Context, req dto.ExplosionRequest) (*dto.ExplosionResult, error) {
	return e.explosion.Explode(ctx, req)
}

// DefineBOM stores a new Draft BOM. Every line is validated before anything is saved.
func (e *Engine) DefineBOM(ctx context.Context, req dto.DefineBOMRequest) (*entities.CompositionNode, error) {
	from := req.EffectiveFrom
	if from.IsZero() {
		from = e.clock.Now()
	}
	node, err := entities.NewCompositionNode(req.Product, req.Version, from, req.EffectiveTo, req.LaborCost, req.OverheadCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entities.ErrInvalidInput, err)
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: BOM %s %s has no lines", entities.ErrInvalidInput, req.Product, req.Version)
	}

	const pending entities.BOMID = "pending"
	edges := make([]entities.CompositionEdge, 0, len(req.Lines))
	sequences := make(map[int]bool, len(req.Lines))
	for _, line := range req.Lines {
		if line.Component == req.Product {
			return nil, &entities.CircularReferenceError{Path: []entities.ProductID{req.Product, req.Product}}
		}
		if sequences[line.Sequence] {
			return nil, fmt.Errorf("%w: duplicate line sequence %d in BOM %s %s", entities.ErrInvalidInput, line.Sequence, req.Product, req.Version)
		}
		sequences[line.Sequence] = true

		edge, err := entities.NewCompositionEdge(pending, line.Sequence, line.Component, line.Quantity, line.ScrapPercentage)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", entities.ErrInvalidInput, line.Sequence, err)
		}
		edges = append(edges, *edge)
	}

	saved, err := e.repos.Compositions.SaveBOM(ctx, *node, edges)
	if err != nil {
		return nil, fmt.Errorf("failed to save BOM %s %s: %w", req.Product, req.Version, err)
	}

	e.logger.Info("BOM defined",
		zap.String("bom", string(saved.ID)),
		zap.String("product", string(saved.Product)),
		zap.String("version", saved.Version),
		zap.Int("lines", len(edges)),
	)
	e.append(events.NewBOMEvent(events.BOMDefinedEvent, saved, e.clock.Now()))
	return &saved, nil
}

// ActivateBOM makes a Draft BOM Active once no cycle is reachable from it
func (e *Engine) ActivateBOM(ctx context.Context, id entities.BOMID) (*entities.CompositionNode, error) {
	e.activation.Lock()
	defer e.activation.Unlock()

	node, err := e.repos.Compositions.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	switch node.Status {
	case entities.BOMActive:
		return &node, nil
	case entities.BOMObsolete:
		return nil, fmt.Errorf("%w: BOM %s is obsolete", entities.ErrInvalidTransition, id)
	}

	if err := e.validator.ValidateActivation(ctx, node); err != nil {
		var cycle *entities.CircularReferenceError
		if errors.As(err, &cycle) {
			e.logger.Warn("BOM activation blocked by cycle",
				zap.String("bom", string(id)),
				zap.Any("path", cycle.Path),
			)
		}
		return nil, err
	}
	if err := e.repos.Compositions.SetStatus(ctx, id, entities.BOMActive); err != nil {
		return nil, fmt.Errorf("failed to activate BOM %s: %w", id, err)
	}
	node.Status = entities.BOMActive

	e.logger.Info("BOM activated", zap.String("bom", string(id)), zap.String("product", string(node.Product)))
	e.append(events.NewBOMEvent(events.BOMActivatedEvent, node, e.clock.Now()))
	return &node, nil
}

// ObsoleteBOM retires a BOM; existing orders keep their captured requirements
func (e *Engine) ObsoleteBOM(ctx context.Context, id entities.BOMID) (*entities.CompositionNode, error) {
	node, err := e.repos.Compositions.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.Status == entities.BOMObsolete {
		return &node, nil
	}
	if err := e.repos.Compositions.SetStatus(ctx, id, entities.BOMObsolete); err != nil {
		return nil, fmt.Errorf("failed to obsolete BOM %s: %w", id, err)
	}
	node.Status = entities.BOMObsolete

	e.logger.Info("BOM obsoleted", zap.String("bom", string(id)))
	e.append(events.NewBOMEvent(events.BOMObsoletedEvent, node, e.clock.Now()))
	return &node, nil
}

// SubmitOrder creates a Planned production order
func (e *Engine) SubmitOrder(ctx context.Context, req dto.SubmitOrderRequest) (*entities.ProductionOrder, error) {
	return e.production.Submit(ctx, req)
}

// AllocateOrder reserves the order's requirements
func (e *Engine) AllocateOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	return e.production.Allocate(ctx, id)
}

// StartOrder moves an Allocated order to InProgress
func (e *Engine) StartOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	return e.production.Start(ctx, id)
}

// CompleteOrder consumes actual usage and receives the output batch
func (e *Engine) CompleteOrder(ctx context.Context, id entities.OrderID, report dto.CompletionReport) (*entities.ProductionOrder, error) {
	return e.production.Complete(ctx, id, report)
}

// CancelOrder releases the order's reservations
func (e *Engine) CancelOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	return e.production.Cancel(ctx, id)
}

// GetOrder returns an order by ID
func (e *Engine) GetOrder(ctx context.Context, id entities.OrderID) (*entities.ProductionOrder, error) {
	return e.production.Get(ctx, id)
}

// ListOrders returns orders, optionally filtered by status
func (e *Engine) ListOrders(ctx context.Context, status *entities.OrderStatus) ([]entities.ProductionOrder, error) {
	return e.production.List(ctx, status)
}

// Movements pages through the ledger audit feed after the given sequence number
func (e *Engine) Movements(ctx context.Context, afterSeq int64, limit int) ([]entities.Movement, error) {
	return e.repos.Ledger.Movements(ctx, afterSeq, limit)
}

// ValidateBOMs checks the whole non-obsolete composition graph
func (e *Engine) ValidateBOMs(ctx context.Context) (*domainservices.ValidationResult, error) {
	return e.validator.Validate(ctx)
}

func (e *Engine) append(event events.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.AppendEvent(event.StreamID(), event); err != nil {
		e.logger.Warn("failed to append event", zap.String("type", event.Type()), zap.Error(err))
	}
}
