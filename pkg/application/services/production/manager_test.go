package production

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/application/services/explosion"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/operator"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"github.com/vsinha/costing/pkg/infrastructure/events"
	"github.com/vsinha/costing/pkg/infrastructure/repositories/memory"
	testhelpers "github.com/vsinha/costing/pkg/infrastructure/testing"
)

func newManager(t *testing.T, stores *testhelpers.Stores, orders repositories.OrderRepository, store events.EventStore) *Manager {
	t.Helper()
	if orders == nil {
		orders = stores.Orders
	}
	engine := explosion.NewEngine(stores.Compositions, stores.Ledger, explosion.Config{}, stores.Clock, nil)
	manager, err := NewManager(Dependencies{
		Orders:    orders,
		Ledger:    stores.Ledger,
		Explosion: engine,
		Events:    store,
		Clock:     stores.Clock,
	})
	require.NoError(t, err)
	return manager
}

// kitScenario wraps the FIFO scenario stock in a single level BOM KIT -> 1×P
func kitScenario() (*testhelpers.Stores, entities.Batch, entities.Batch) {
	stores, b1, b2 := testhelpers.BuildFIFOScenario()
	stores.MustDefineBOM("KIT", "v1", entities.BOMActive, "0", "0",
		testhelpers.Line{Component: testhelpers.ScenarioProduct, Quantity: "1"})
	return stores, b1, b2
}

func submitKit(t *testing.T, m *Manager, qty string) *entities.ProductionOrder {
	t.Helper()
	order, err := m.Submit(context.Background(), dto.SubmitOrderRequest{
		Product:   "KIT",
		Warehouse: testhelpers.ScenarioWarehouse,
		Quantity:  testhelpers.Dec(qty),
	})
	require.NoError(t, err)
	return order
}

func activeReservations(t *testing.T, stores *testhelpers.Stores, id entities.OrderID) []entities.Reservation {
	t.Helper()
	all, err := stores.Ledger.OrderReservations(context.Background(), id)
	require.NoError(t, err)
	active := make([]entities.Reservation, 0, len(all))
	for _, r := range all {
		if r.Status == entities.ReservationActive {
			active = append(active, r)
		}
	}
	return active
}

func availableOf(t *testing.T, stores *testhelpers.Stores, key entities.StockKey) decimal.Decimal {
	t.Helper()
	batches, err := stores.Ledger.UsableBatches(context.Background(), key)
	require.NoError(t, err)
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.AvailableQuantity())
	}
	return total
}

func TestManager_ScenarioA_AllocateWithinOneBatch(t *testing.T) {
	stores, b1, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	order := submitKit(t, m, "175")
	assert.Equal(t, entities.OrderPlanned, order.Status)

	allocated, err := m.Allocate(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderAllocated, allocated.Status)
	assert.NotNil(t, allocated.AllocatedAt)
	assert.True(t, allocated.AllocatedMaterialCost.Equal(testhelpers.Dec("4462.50")), "got %s", allocated.AllocatedMaterialCost)

	reservations := activeReservations(t, stores, order.ID)
	require.Len(t, reservations, 1)
	assert.Equal(t, b1.ID, reservations[0].BatchID)
	assert.True(t, reservations[0].UnitCost.Equal(testhelpers.Dec("25.50")))

	batch, err := stores.Ledger.Batch(ctx, b1.ID)
	require.NoError(t, err)
	assert.True(t, batch.AvailableQuantity().Equal(testhelpers.Dec("325")))
	require.NoError(t, stores.Ledger.VerifyConservation())
}

func TestManager_ScenarioB_AllocateAcrossBatches(t *testing.T) {
	stores, b1, b2 := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	order := submitKit(t, m, "650")
	allocated, err := m.Allocate(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, allocated.AllocatedMaterialCost.Equal(testhelpers.Dec("16800")))

	reservations := activeReservations(t, stores, order.ID)
	require.Len(t, reservations, 2)
	assert.Equal(t, b1.ID, reservations[0].BatchID)
	assert.True(t, reservations[0].Quantity.Equal(testhelpers.Dec("500")))
	assert.Equal(t, b2.ID, reservations[1].BatchID)
	assert.True(t, reservations[1].Quantity.Equal(testhelpers.Dec("150")))

	batch, err := stores.Ledger.Batch(ctx, b2.ID)
	require.NoError(t, err)
	assert.True(t, batch.AvailableQuantity().Equal(testhelpers.Dec("150")))
}

func TestManager_ScenarioC_SubmitRejectsShortage(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	before := stores.Ledger.Snapshot()

	_, err := m.Submit(context.Background(), dto.SubmitOrderRequest{
		Product:   "KIT",
		Warehouse: testhelpers.ScenarioWarehouse,
		Quantity:  testhelpers.Dec("900"),
	})

	var shortage *entities.InsufficientStockError
	require.True(t, errors.As(err, &shortage), "got %v", err)
	assert.True(t, shortage.ShortBy(testhelpers.ScenarioProduct).Equal(testhelpers.Dec("100")))
	assert.Contains(t, err.Error(), "short by 100 units of P in W")

	orders, err := m.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, orders, "no order is created")
	assert.Equal(t, before, stores.Ledger.Snapshot())
}

func TestManager_ScenarioD_SubmitRejectsCycle(t *testing.T) {
	stores, _ := testhelpers.BuildCycleScenario()
	m := newManager(t, stores, nil, nil)

	_, err := m.Submit(context.Background(), dto.SubmitOrderRequest{Product: "A", Warehouse: "W", Quantity: testhelpers.Dec("1")})

	var cycle *entities.CircularReferenceError
	require.True(t, errors.As(err, &cycle), "got %v", err)
	assert.Equal(t, []entities.ProductID{"A", "B", "A"}, cycle.Path)
}

func TestManager_SubmitValidation(t *testing.T) {
	stores, _ := testhelpers.BuildBicycleScenario()
	draft := stores.MustDefineBOM(testhelpers.Bike, "v2", entities.BOMDraft, "0", "0",
		testhelpers.Line{Component: testhelpers.Rim, Quantity: "1"})
	m := newManager(t, stores, nil, nil)

	tests := []struct {
		name    string
		req     dto.SubmitOrderRequest
		wantErr error
	}{
		{"zero quantity", dto.SubmitOrderRequest{Product: testhelpers.Bike, Warehouse: testhelpers.BikeWarehouse, Quantity: decimal.Zero}, entities.ErrInvalidQuantity},
		{"negative quantity", dto.SubmitOrderRequest{Product: testhelpers.Bike, Warehouse: testhelpers.BikeWarehouse, Quantity: testhelpers.Dec("-1")}, entities.ErrInvalidQuantity},
		{"draft BOM", dto.SubmitOrderRequest{Product: testhelpers.Bike, BOM: draft.ID, Warehouse: testhelpers.BikeWarehouse, Quantity: testhelpers.Dec("1")}, entities.ErrBOMNotActive},
		{"BOM of another product", dto.SubmitOrderRequest{Product: testhelpers.Frame, BOM: draft.ID, Warehouse: testhelpers.BikeWarehouse, Quantity: testhelpers.Dec("1")}, entities.ErrBOMProductMismatch},
		{"no BOM", dto.SubmitOrderRequest{Product: testhelpers.Rim, Warehouse: testhelpers.BikeWarehouse, Quantity: testhelpers.Dec("1")}, entities.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := m.Submit(context.Background(), dto.SubmitOrderRequest{Product: testhelpers.Bike, Quantity: testhelpers.Dec("1")})
	assert.Error(t, err, "warehouse is required")
}

func TestManager_BicycleLifecycle(t *testing.T) {
	stores, root := testhelpers.BuildBicycleScenario()
	store := events.NewInMemoryEventStore(nil)
	m := newManager(t, stores, nil, store)
	ctx := operator.WithOperator(context.Background(), "planner-7")

	order, err := m.Submit(ctx, dto.SubmitOrderRequest{
		Product:   testhelpers.Bike,
		Warehouse: testhelpers.BikeWarehouse,
		Quantity:  testhelpers.Dec("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, root.ID, order.BOM)
	assert.Equal(t, "planner-7", order.CreatedBy)
	assert.Len(t, order.Requirements, 4)
	assert.True(t, order.EstimatedTotalCost.Equal(testhelpers.Dec("105")))

	allocated, err := m.Allocate(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, allocated.AllocatedMaterialCost.Equal(testhelpers.Dec("58")))
	assert.Len(t, activeReservations(t, stores, order.ID), 4)

	started, err := m.Start(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderInProgress, started.Status)

	completed, err := m.Complete(ctx, order.ID, dto.CompletionReport{
		Consumed: map[entities.ProductID]decimal.Decimal{testhelpers.Spoke: testhelpers.Dec("60")},
	})
	require.NoError(t, err)
	assert.Equal(t, entities.OrderCompleted, completed.Status)
	// 12.6 steel + 9 paint + 30 rims + 6.0 spokes
	assert.True(t, completed.ActualMaterialCost.Equal(testhelpers.Dec("57.6")), "got %s", completed.ActualMaterialCost)
	assert.True(t, completed.ActualTotalCost.Equal(testhelpers.Dec("104.6")), "got %s", completed.ActualTotalCost)
	assert.True(t, completed.ProducedQuantity.Equal(testhelpers.Dec("1")))
	assert.Empty(t, activeReservations(t, stores, order.ID))

	spokeKey := entities.StockKey{Product: testhelpers.Spoke, Warehouse: testhelpers.BikeWarehouse}
	assert.True(t, availableOf(t, stores, spokeKey).Equal(testhelpers.Dec("340")), "unused spokes are released")

	output, err := stores.Ledger.Batch(ctx, completed.OutputBatch)
	require.NoError(t, err)
	assert.Equal(t, testhelpers.Bike, output.Product)
	assert.True(t, output.QuantityOnHand.Equal(testhelpers.Dec("1")))
	assert.True(t, output.UnitCost.Equal(testhelpers.Dec("104.6")))
	require.NoError(t, stores.Ledger.VerifyConservation())

	stream, err := store.ReadEvents(string(order.ID), 0)
	require.NoError(t, err)
	types := make([]string, len(stream))
	for i, e := range stream {
		types[i] = e.Type()
	}
	assert.Equal(t, []string{
		events.OrderSubmittedEvent,
		events.OrderAllocatedEvent,
		events.OrderStartedEvent,
		events.OrderCompletedEvent,
	}, types)

	all, err := store.ReadAllEvents(0)
	require.NoError(t, err)
	var receipts int
	for _, e := range all {
		if e.Type() != events.MovementEvent {
			continue
		}
		movement := e.Data().(events.MovementRecorded).Movement
		assert.Positive(t, movement.Seq)
		assert.Equal(t, "planner-7", movement.Operator)
		if movement.Type == entities.MovementProductionReceipt {
			receipts++
			assert.Equal(t, string(order.ID), movement.Reference)
		}
	}
	assert.Equal(t, 1, receipts)
}

func TestManager_AllocateCollectsEveryShortageAndChangesNothing(t *testing.T) {
	stores, _ := testhelpers.BuildBicycleScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	big, err := m.Submit(ctx, dto.SubmitOrderRequest{Product: testhelpers.Bike, Warehouse: testhelpers.BikeWarehouse, Quantity: testhelpers.Dec("6")})
	require.NoError(t, err)
	small, err := m.Submit(ctx, dto.SubmitOrderRequest{Product: testhelpers.Bike, Warehouse: testhelpers.BikeWarehouse, Quantity: testhelpers.Dec("1")})
	require.NoError(t, err)

	_, err = m.Allocate(ctx, big.ID)
	require.NoError(t, err)

	before := stores.Ledger.Snapshot()
	_, err = m.Allocate(ctx, small.ID)

	var shortage *entities.InsufficientStockError
	require.True(t, errors.As(err, &shortage), "got %v", err)
	require.Len(t, shortage.Shortages, 2)
	assert.True(t, shortage.ShortBy(testhelpers.Rim).Equal(testhelpers.Dec("2")))
	assert.True(t, shortage.ShortBy(testhelpers.Spoke).Equal(testhelpers.Dec("48")))

	assert.Equal(t, before, stores.Ledger.Snapshot(), "ledger is bit-identical after a failed allocation")
	assert.Empty(t, activeReservations(t, stores, small.ID))

	reloaded, err := m.Get(ctx, small.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderPlanned, reloaded.Status)
}

func TestManager_CancelReleasesAndIsIdempotent(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	order := submitKit(t, m, "650")
	_, err := m.Allocate(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, availableOf(t, stores, testhelpers.ScenarioKey).Equal(testhelpers.Dec("150")))

	cancelled, err := m.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Empty(t, activeReservations(t, stores, order.ID))
	assert.True(t, availableOf(t, stores, testhelpers.ScenarioKey).Equal(testhelpers.Dec("800")))

	movements := stores.Ledger.Snapshot().Movements
	again, err := m.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, cancelled.Version, again.Version, "second cancel changes nothing")
	assert.Equal(t, movements, stores.Ledger.Snapshot().Movements)
	require.NoError(t, stores.Ledger.VerifyConservation())

	_, err = m.Allocate(ctx, order.ID)
	assert.ErrorIs(t, err, entities.ErrInvalidTransition)
}

func TestManager_CancelPlannedOrder(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	before := stores.Ledger.Snapshot()

	order := submitKit(t, m, "10")
	cancelled, err := m.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderCancelled, cancelled.Status)
	assert.Equal(t, before, stores.Ledger.Snapshot())
}

func TestManager_InvalidTransitions(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()
	order := submitKit(t, m, "10")

	_, err := m.Start(ctx, order.ID)
	assert.ErrorIs(t, err, entities.ErrInvalidTransition, "start before allocate")

	_, err = m.Complete(ctx, order.ID, dto.CompletionReport{})
	assert.ErrorIs(t, err, entities.ErrInvalidTransition, "complete before start")

	_, err = m.Allocate(ctx, order.ID)
	require.NoError(t, err)
	_, err = m.Start(ctx, order.ID)
	require.NoError(t, err)

	_, err = m.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, entities.ErrInvalidTransition, "in-progress orders cannot be cancelled")

	_, err = m.Allocate(ctx, "missing")
	assert.ErrorIs(t, err, entities.ErrNotFound)
}

func TestManager_CompleteRejectsBadReports(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	order := submitKit(t, m, "100")
	_, err := m.Allocate(ctx, order.ID)
	require.NoError(t, err)
	_, err = m.Start(ctx, order.ID)
	require.NoError(t, err)
	before := stores.Ledger.Snapshot()

	tests := []struct {
		name    string
		report  dto.CompletionReport
		wantErr error
	}{
		{
			name:    "consumes more than reserved",
			report:  dto.CompletionReport{Consumed: map[entities.ProductID]decimal.Decimal{testhelpers.ScenarioProduct: testhelpers.Dec("101")}},
			wantErr: entities.ErrConsumeExceedsReservation,
		},
		{
			name:    "unknown component",
			report:  dto.CompletionReport{Consumed: map[entities.ProductID]decimal.Decimal{"BOLT": testhelpers.Dec("1")}},
			wantErr: entities.ErrInvalidQuantity,
		},
		{
			name:    "negative consumption",
			report:  dto.CompletionReport{Consumed: map[entities.ProductID]decimal.Decimal{testhelpers.ScenarioProduct: testhelpers.Dec("-1")}},
			wantErr: entities.ErrInvalidQuantity,
		},
		{
			name:    "scrap above planned",
			report:  dto.CompletionReport{Scrapped: testhelpers.Dec("101")},
			wantErr: entities.ErrInvalidQuantity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Complete(ctx, order.ID, tt.report)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, stores.Ledger.Snapshot())
		})
	}

	reloaded, err := m.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderInProgress, reloaded.Status)
}

func TestManager_CompleteFullyScrapped(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	order := submitKit(t, m, "100")
	_, err := m.Allocate(ctx, order.ID)
	require.NoError(t, err)
	_, err = m.Start(ctx, order.ID)
	require.NoError(t, err)

	completed, err := m.Complete(ctx, order.ID, dto.CompletionReport{
		Consumed: map[entities.ProductID]decimal.Decimal{testhelpers.ScenarioProduct: decimal.Zero},
		Scrapped: testhelpers.Dec("100"),
	})
	require.NoError(t, err)
	assert.True(t, completed.ProducedQuantity.IsZero())
	assert.Empty(t, completed.OutputBatch, "nothing produced, no output batch")
	assert.True(t, completed.ActualMaterialCost.IsZero())
	assert.True(t, availableOf(t, stores, testhelpers.ScenarioKey).Equal(testhelpers.Dec("800")), "zero consumption releases the reservation")
	require.NoError(t, stores.Ledger.VerifyConservation())
}

// failingOrders rejects every update, simulating a lost optimistic race
type failingOrders struct {
	*memory.OrderRepository
}

func (f failingOrders) Update(ctx context.Context, order entities.ProductionOrder) (entities.ProductionOrder, error) {
	return entities.ProductionOrder{}, fmt.Errorf("%w: simulated", entities.ErrConcurrentModification)
}

func TestManager_AllocateCompensatesWhenOrderUpdateFails(t *testing.T) {
	stores, _, _ := kitScenario()
	orders := failingOrders{OrderRepository: stores.Orders}
	m := newManager(t, stores, orders, nil)
	ctx := context.Background()

	order := submitKit(t, m, "650")
	_, err := m.Allocate(ctx, order.ID)
	assert.ErrorIs(t, err, entities.ErrConcurrentModification)

	assert.Empty(t, activeReservations(t, stores, order.ID))
	assert.True(t, availableOf(t, stores, testhelpers.ScenarioKey).Equal(testhelpers.Dec("800")))
	require.NoError(t, stores.Ledger.VerifyConservation())
}

func TestManager_ConcurrentAllocationsNeverOverReserve(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	const orders = 10
	ids := make([]entities.OrderID, orders)
	for i := range ids {
		ids[i] = submitKit(t, m, "100").ID
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		short     atomic.Int32
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id entities.OrderID) {
			defer wg.Done()
			_, err := m.Allocate(ctx, id)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, entities.ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(8), succeeded.Load())
	assert.Equal(t, int32(2), short.Load())
	assert.True(t, availableOf(t, stores, testhelpers.ScenarioKey).IsZero())
	require.NoError(t, stores.Ledger.VerifyConservation())
}

func TestManager_ConcurrentTransitionsOfOneOrder(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()
	order := submitKit(t, m, "100")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Allocate(ctx, order.ID); err == nil {
				succeeded.Add(1)
			} else {
				assert.ErrorIs(t, err, entities.ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Len(t, activeReservations(t, stores, order.ID), 1)
	assert.True(t, availableOf(t, stores, testhelpers.ScenarioKey).Equal(testhelpers.Dec("700")))
}

func TestManager_ListByStatus(t *testing.T) {
	stores, _, _ := kitScenario()
	m := newManager(t, stores, nil, nil)
	ctx := context.Background()

	first := submitKit(t, m, "10")
	submitKit(t, m, "20")
	_, err := m.Allocate(ctx, first.ID)
	require.NoError(t, err)

	planned := entities.OrderPlanned
	list, err := m.List(ctx, &planned)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].PlannedQuantity.Equal(testhelpers.Dec("20")))

	all, err := m.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
