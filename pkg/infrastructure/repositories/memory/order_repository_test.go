package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

func TestOrderRepository_OptimisticVersioning(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, entities.ProductionOrder{Product: "BIKE", PlannedQuantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	first, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	second, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)

	first.Status = entities.OrderAllocated
	updated, err := repo.Update(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	second.Status = entities.OrderCancelled
	_, err = repo.Update(ctx, second)
	assert.ErrorIs(t, err, entities.ErrConcurrentModification)

	stored, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderAllocated, stored.Status)
}

func TestOrderRepository_ListFilter(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	for _, status := range []entities.OrderStatus{entities.OrderPlanned, entities.OrderCancelled, entities.OrderPlanned} {
		_, err := repo.Create(ctx, entities.ProductionOrder{Status: status})
		require.NoError(t, err)
	}

	all, err := repo.List(ctx, repositories.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	planned := entities.OrderPlanned
	filtered, err := repo.List(ctx, repositories.OrderFilter{Status: &planned})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, entities.ErrNotFound)
}
