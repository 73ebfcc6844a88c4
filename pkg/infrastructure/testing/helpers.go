package testing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"github.com/vsinha/costing/pkg/infrastructure/repositories/memory"
)

// Reference timestamps used by the scenarios
var (
	T1 = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	T2 = T1.Add(48 * time.Hour)
)

// Scenario stock key used by the FIFO scenarios
const (
	ScenarioProduct   entities.ProductID   = "P"
	ScenarioWarehouse entities.WarehouseID = "W"
)

// ScenarioKey is the stock key of ScenarioProduct in ScenarioWarehouse
var ScenarioKey = entities.StockKey{Product: ScenarioProduct, Warehouse: ScenarioWarehouse}

// ManualClock is a settable clock for deterministic tests
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock fixed at now
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the current manual time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Dec parses a decimal literal, panicking on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Stores bundles the in-memory repositories behind one scenario
type Stores struct {
	Clock        *ManualClock
	Ledger       *memory.Ledger
	Compositions *memory.CompositionRepository
	Orders       *memory.OrderRepository
	Products     *memory.ProductRepository
}

// NewStores creates empty in-memory stores sharing a manual clock
func NewStores() *Stores {
	clock := NewManualClock(T2.Add(24 * time.Hour))
	return &Stores{
		Clock:        clock,
		Ledger:       memory.NewLedger(memory.LedgerConfig{Clock: clock}),
		Compositions: memory.NewCompositionRepository(16),
		Orders:       memory.NewOrderRepository(),
		Products:     memory.NewProductRepository(16),
	}
}

// MustReceive stocks a usable batch, panicking on error
func (s *Stores) MustReceive(product entities.ProductID, warehouse entities.WarehouseID, qty, cost string, at time.Time) entities.Batch {
	key := entities.StockKey{Product: product, Warehouse: warehouse}
	var received entities.Batch
	_, err := s.Ledger.Atomically(context.Background(), []entities.StockKey{key}, func(tx repositories.LedgerTx) error {
		var err error
		received, err = tx.Receive(context.Background(), entities.Batch{
			Product:        product,
			Warehouse:      warehouse,
			LotNumber:      "LOT-" + at.Format("20060102"),
			QuantityOnHand: Dec(qty),
			UnitCost:       Dec(cost),
			EntryTime:      at,
			Quality:        entities.QualityUsable,
		}, entities.MovementReceipt, "seed")
		return err
	})
	if err != nil {
		panic(err)
	}
	return received
}

// BuildFIFOScenario stocks 500@25.50 at T1 and 300@27.00 at T2 for P in W
func BuildFIFOScenario() (*Stores, entities.Batch, entities.Batch) {
	s := NewStores()
	b1 := s.MustReceive(ScenarioProduct, ScenarioWarehouse, "500", "25.50", T1)
	b2 := s.MustReceive(ScenarioProduct, ScenarioWarehouse, "300", "27.00", T2)
	return s, b1, b2
}

// Line is a compact component line for MustDefineBOM
type Line struct {
	Component entities.ProductID
	Quantity  string
	Scrap     string
}

// MustDefineBOM saves a BOM with its lines in the given status, panicking on error
func (s *Stores) MustDefineBOM(
	product entities.ProductID,
	version string,
	status entities.BOMStatus,
	labor, overhead string,
	lines ...Line,
) entities.CompositionNode {
	ctx := context.Background()
	node, err := entities.NewCompositionNode(product, version, T1.AddDate(0, -1, 0), nil, Dec(labor), Dec(overhead))
	if err != nil {
		panic(err)
	}
	node.Status = status
	saved, err := s.Compositions.SaveNode(ctx, *node)
	if err != nil {
		panic(err)
	}
	for i, line := range lines {
		scrap := line.Scrap
		if scrap == "" {
			scrap = "0"
		}
		edge, err := entities.NewCompositionEdge(saved.ID, (i+1)*10, line.Component, Dec(line.Quantity), Dec(scrap))
		if err != nil {
			panic(err)
		}
		if err := s.Compositions.AddEdge(ctx, *edge); err != nil {
			panic(err)
		}
	}
	return saved
}

// BuildCycleScenario defines A -> 2×B and B -> 2×A, both Active
func BuildCycleScenario() (*Stores, entities.CompositionNode) {
	s := NewStores()
	root := s.MustDefineBOM("A", "v1", entities.BOMActive, "0", "0", Line{Component: "B", Quantity: "2"})
	s.MustDefineBOM("B", "v1", entities.BOMActive, "0", "0", Line{Component: "A", Quantity: "2"})
	return s, root
}

// Bicycle scenario identifiers
const (
	BikeWarehouse entities.WarehouseID = "WH-1"
	Bike          entities.ProductID   = "BIKE"
	Frame         entities.ProductID   = "FRAME"
	Wheel         entities.ProductID   = "WHEEL"
	SteelTube     entities.ProductID   = "RM-STEEL-001"
	Spoke         entities.ProductID   = "RM-SPOKE-010"
	Rim           entities.ProductID   = "RM-RIM-700"
	Paint         entities.ProductID   = "RM-PAINT-RED"
)

// BuildBicycleScenario defines a three level bicycle BOM and stocks its raw materials.
//
//	BIKE (labor 20, overhead 5)
//	  FRAME ×1 (labor 10, overhead 2)
//	    RM-STEEL-001 ×3 (+5% scrap)
//	    RM-PAINT-RED ×0.5
//	  WHEEL ×2 (labor 4, overhead 1)
//	    RM-RIM-700 ×1
//	    RM-SPOKE-010 ×32
//	  RM-PAINT-RED ×0.25
//
// For one bike the leaves are 3.15 steel, 0.75 paint, 2 rims and 64 spokes.
func BuildBicycleScenario() (*Stores, entities.CompositionNode) {
	s := NewStores()
	for _, p := range []entities.Product{
		{ID: Bike, UnitOfMeasure: "EA"},
		{ID: Frame, UnitOfMeasure: "EA"},
		{ID: Wheel, UnitOfMeasure: "EA"},
		{ID: SteelTube, UnitOfMeasure: "KG", MinimumStock: Dec("50"), CriticalStock: Dec("10")},
		{ID: Spoke, UnitOfMeasure: "EA", MinimumStock: Dec("500")},
		{ID: Rim, UnitOfMeasure: "EA"},
		{ID: Paint, UnitOfMeasure: "L"},
	} {
		s.Products.AddProduct(p)
	}

	s.MustDefineBOM(Frame, "v1", entities.BOMActive, "10", "2",
		Line{Component: SteelTube, Quantity: "3", Scrap: "5"},
		Line{Component: Paint, Quantity: "0.5"},
	)
	s.MustDefineBOM(Wheel, "v1", entities.BOMActive, "4", "1",
		Line{Component: Rim, Quantity: "1"},
		Line{Component: Spoke, Quantity: "32"},
	)
	root := s.MustDefineBOM(Bike, "v1", entities.BOMActive, "20", "5",
		Line{Component: Frame, Quantity: "1"},
		Line{Component: Wheel, Quantity: "2"},
		Line{Component: Paint, Quantity: "0.25"},
	)

	s.MustReceive(SteelTube, BikeWarehouse, "20", "4.00", T1)
	s.MustReceive(SteelTube, BikeWarehouse, "20", "5.00", T2)
	s.MustReceive(Paint, BikeWarehouse, "10", "12.00", T1)
	s.MustReceive(Rim, BikeWarehouse, "12", "15.00", T1)
	s.MustReceive(Spoke, BikeWarehouse, "400", "0.10", T1)
	return s, root
}
