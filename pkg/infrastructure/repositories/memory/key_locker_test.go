package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/costing/pkg/domain/entities"
)

func TestKeyLocker_SortedAcquisitionAvoidsDeadlock(t *testing.T) {
	locker := NewKeyLocker()
	a := entities.StockKey{Product: "A", Warehouse: "W"}
	b := entities.StockKey{Product: "B", Warehouse: "W"}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []entities.StockKey{a, b}
			if i%2 == 1 {
				keys = []entities.StockKey{b, a}
			}
			unlock, err := locker.Lock(context.Background(), entities.SortedKeys(keys))
			if err == nil {
				unlock()
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
}

func TestKeyLocker_CancelReleasesPartialAcquisition(t *testing.T) {
	locker := NewKeyLocker()
	a := entities.StockKey{Product: "A", Warehouse: "W"}
	b := entities.StockKey{Product: "B", Warehouse: "W"}

	unlockB, err := locker.Lock(context.Background(), []entities.StockKey{b})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, []entities.StockKey{a, b})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA, err := locker.Lock(context.Background(), []entities.StockKey{a})
	require.NoError(t, err, "key A must have been released after the failed attempt")
	unlockA()
	unlockB()
}

func TestKeyLocker_DropsIdleKeys(t *testing.T) {
	locker := NewKeyLocker()
	slots := func() int {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return len(locker.slots)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := entities.SortedKeys([]entities.StockKey{
				{Product: entities.ProductID(string(rune('A' + i%5))), Warehouse: "W"},
				{Product: "SHARED", Warehouse: "W"},
			})
			unlock, err := locker.Lock(context.Background(), keys)
			if err == nil {
				unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, slots(), "every key was unlocked")

	held, err := locker.Lock(context.Background(), []entities.StockKey{{Product: "X", Warehouse: "W"}})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, []entities.StockKey{{Product: "X", Warehouse: "W"}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, slots(), "the holder keeps its key after a waiter gives up")

	held()
	assert.Zero(t, slots())
}
