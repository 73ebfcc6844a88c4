package mysql

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/operator"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

var t1 = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// setupDB connects to MYSQL_DSN, e.g. root:secret@tcp(localhost:3306)/costing_test?parseTime=true
func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Open(ctx, dsn, Options{MaxOpenConns: 20})
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// uniqueKey isolates each test from rows left behind by earlier runs
func uniqueKey() entities.StockKey {
	id := uuid.NewString()[:8]
	return entities.StockKey{Product: entities.ProductID("P-" + id), Warehouse: entities.WarehouseID("W-" + id)}
}

func receive(t *testing.T, l *Ledger, key entities.StockKey, qty, cost string, at time.Time) entities.Batch {
	t.Helper()
	var received entities.Batch
	_, err := l.Atomically(context.Background(), []entities.StockKey{key}, func(tx repositories.LedgerTx) error {
		var err error
		received, err = tx.Receive(context.Background(), entities.Batch{
			Product:        key.Product,
			Warehouse:      key.Warehouse,
			QuantityOnHand: dec(qty),
			UnitCost:       dec(cost),
			EntryTime:      at,
		}, entities.MovementReceipt, "PO-1")
		return err
	})
	require.NoError(t, err)
	return received
}

func TestLedger_ReserveConsumeRoundTrip(t *testing.T) {
	db := setupDB(t)
	l := NewLedger(db, LedgerConfig{})
	ctx := operator.WithOperator(context.Background(), "mysql-test")
	key := uniqueKey()

	late := receive(t, l, key, "300", "27", t1.Add(24*time.Hour))
	early := receive(t, l, key, "500", "25.5", t1)

	batches, err := l.UsableBatches(ctx, key)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, early.ID, batches[0].ID, "older entry time first")
	assert.Equal(t, late.ID, batches[1].ID)

	var reservation entities.Reservation
	movements, err := l.Atomically(ctx, []entities.StockKey{key}, func(tx repositories.LedgerTx) error {
		var err error
		reservation, err = tx.Reserve(ctx, entities.Reservation{OrderID: "ORD-1", BatchID: early.ID, Quantity: dec("200")})
		return err
	})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, entities.MovementReserve, movements[0].Type)
	assert.Equal(t, "mysql-test", movements[0].Operator)
	assert.Positive(t, movements[0].Seq)

	stored, err := l.Batch(ctx, early.ID)
	require.NoError(t, err)
	assert.True(t, stored.ReservedQuantity.Equal(dec("200")))
	assert.True(t, stored.AvailableQuantity().Equal(dec("300")))

	_, err = l.Atomically(ctx, []entities.StockKey{key}, func(tx repositories.LedgerTx) error {
		_, err := tx.Consume(ctx, reservation.ID, dec("150"))
		return err
	})
	require.NoError(t, err)

	stored, err = l.Batch(ctx, early.ID)
	require.NoError(t, err)
	assert.True(t, stored.QuantityOnHand.Equal(dec("350")))
	assert.True(t, stored.ReservedQuantity.IsZero())

	consumed, err := l.Reservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ReservationConsumed, consumed.Status)
	assert.True(t, consumed.ConsumedQuantity.Equal(dec("150")))

	feed, err := l.Movements(ctx, movements[0].Seq, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(feed), 2)
	assert.Equal(t, entities.MovementConsume, feed[0].Type)
	assert.Equal(t, entities.MovementRelease, feed[1].Type, "unused remainder is released")
}

func TestLedger_FailedUnitOfWorkRollsBack(t *testing.T) {
	db := setupDB(t)
	l := NewLedger(db, LedgerConfig{})
	ctx := context.Background()
	key := uniqueKey()
	batch := receive(t, l, key, "10", "1", t1)

	_, err := l.Atomically(ctx, []entities.StockKey{key}, func(tx repositories.LedgerTx) error {
		if _, err := tx.Reserve(ctx, entities.Reservation{OrderID: "ORD-1", BatchID: batch.ID, Quantity: dec("6")}); err != nil {
			return err
		}
		_, err := tx.Reserve(ctx, entities.Reservation{OrderID: "ORD-1", BatchID: batch.ID, Quantity: dec("6")})
		return err
	})
	assert.ErrorIs(t, err, entities.ErrOverReservation)

	stored, err := l.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, stored.ReservedQuantity.IsZero(), "first reserve was rolled back")

	reservations, err := l.OrderReservations(ctx, "ORD-1")
	require.NoError(t, err)
	for _, r := range reservations {
		assert.NotEqual(t, batch.ID, r.BatchID)
	}

	_, err = l.Atomically(ctx, []entities.StockKey{uniqueKey()}, func(tx repositories.LedgerTx) error {
		_, err := tx.Reserve(ctx, entities.Reservation{OrderID: "ORD-1", BatchID: batch.ID, Quantity: dec("1")})
		return err
	})
	assert.ErrorIs(t, err, entities.ErrKeyNotLocked)
}

func TestLedger_ConcurrentReservationsNeverOverReserve(t *testing.T) {
	db := setupDB(t)
	l := NewLedger(db, LedgerConfig{})
	ctx := context.Background()
	key := uniqueKey()
	batch := receive(t, l, key, "50", "2", t1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Atomically(ctx, []entities.StockKey{key}, func(tx repositories.LedgerTx) error {
				_, err := tx.Reserve(ctx, entities.Reservation{
					OrderID: entities.OrderID(uuid.NewString()), BatchID: batch.ID, Quantity: dec("10"),
				})
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	stored, err := l.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, stored.ReservedQuantity.Equal(dec("50")))
}

func TestOrderRepository_OptimisticVersion(t *testing.T) {
	db := setupDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	node := entities.CompositionNode{ID: "BOM-1", Product: "KIT", Version: "v1"}
	order, err := entities.NewProductionOrder("KIT", node, "W", dec("5"), "planner", t1)
	require.NoError(t, err)
	order.Requirements = []entities.Requirement{{Product: "P", Warehouse: "W", Quantity: dec("10")}}

	created, err := repo.Create(ctx, *order)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	loaded, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Requirements, 1)
	assert.True(t, loaded.Requirements[0].Quantity.Equal(dec("10")))

	require.NoError(t, loaded.Transition(entities.OrderAllocated, t1.Add(time.Minute)))
	updated, err := repo.Update(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = repo.Update(ctx, loaded)
	assert.ErrorIs(t, err, entities.ErrConcurrentModification, "stale version")

	_, err = repo.Get(ctx, "missing-"+entities.OrderID(uuid.NewString()))
	assert.ErrorIs(t, err, entities.ErrNotFound)

	allocated := entities.OrderAllocated
	orders, err := repo.List(ctx, repositories.OrderFilter{Status: &allocated})
	require.NoError(t, err)
	found := false
	for _, o := range orders {
		found = found || o.ID == created.ID
		assert.Equal(t, entities.OrderAllocated, o.Status)
	}
	assert.True(t, found)
}

func TestCompositionRepository_ActiveNode(t *testing.T) {
	db := setupDB(t)
	repo := NewCompositionRepository(db)
	ctx := context.Background()
	product := uniqueKey().Product

	v1, err := repo.SaveNode(ctx, entities.CompositionNode{Product: product, Version: "v1", EffectiveFrom: t1, LaborCost: dec("1")})
	require.NoError(t, err)
	v2, err := repo.SaveNode(ctx, entities.CompositionNode{Product: product, Version: "v2", EffectiveFrom: t1.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, v1.ID, entities.BOMActive))
	require.NoError(t, repo.SetStatus(ctx, v2.ID, entities.BOMActive))

	_, err = repo.SaveNode(ctx, entities.CompositionNode{Product: product, Version: "v1", EffectiveFrom: t1})
	assert.Error(t, err, "duplicate version")

	require.NoError(t, repo.AddEdge(ctx, entities.CompositionEdge{BOM: v1.ID, Sequence: 20, Component: "B", Quantity: dec("1")}))
	require.NoError(t, repo.AddEdge(ctx, entities.CompositionEdge{BOM: v1.ID, Sequence: 10, Component: "A", Quantity: dec("2")}))
	assert.Error(t, repo.AddEdge(ctx, entities.CompositionEdge{BOM: v1.ID, Sequence: 30, Component: product, Quantity: dec("1")}))

	edges, err := repo.Edges(ctx, v1.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, entities.ProductID("A"), edges[0].Component)

	active, ok, err := repo.ActiveNode(ctx, product, t1.Add(24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v1.ID, active.ID)

	active, ok, err = repo.ActiveNode(ctx, product, t1.Add(72*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v2.ID, active.ID, "later effective date wins")

	_, ok, err = repo.ActiveNode(ctx, product, t1.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompositionRepository_SaveBOMRollsBack(t *testing.T) {
	db := setupDB(t)
	repo := NewCompositionRepository(db)
	ctx := context.Background()
	product := uniqueKey().Product

	_, err := repo.SaveBOM(ctx, entities.CompositionNode{Product: product, Version: "v1", EffectiveFrom: t1}, []entities.CompositionEdge{
		{Sequence: 10, Component: "A", Quantity: dec("1")},
		{Sequence: 10, Component: "B", Quantity: dec("1")},
	})
	assert.ErrorIs(t, err, entities.ErrAlreadyExists)
	_, err = repo.FindNode(ctx, product, "v1")
	assert.ErrorIs(t, err, entities.ErrNotFound, "the header rolled back with the duplicate line")

	saved, err := repo.SaveBOM(ctx, entities.CompositionNode{Product: product, Version: "v1", EffectiveFrom: t1}, []entities.CompositionEdge{
		{Sequence: 20, Component: "B", Quantity: dec("1")},
		{Sequence: 10, Component: "A", Quantity: dec("2")},
	})
	require.NoError(t, err)
	edges, err := repo.Edges(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, entities.ProductID("A"), edges[0].Component)
	assert.Equal(t, saved.ID, edges[0].BOM)
}
