package csv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/costing/pkg/application/dto"
	"github.com/vsinha/costing/pkg/application/services/explosion"
	"github.com/vsinha/costing/pkg/domain/entities"
	testhelpers "github.com/vsinha/costing/pkg/infrastructure/testing"
)

func TestLoader_LoadScenario(t *testing.T) {
	scenario, err := NewLoader().LoadScenario(filepath.Join("testdata", "bicycle"))
	require.NoError(t, err)

	assert.Len(t, scenario.Products, 7)
	require.Len(t, scenario.BOMs, 4)
	assert.Len(t, scenario.Batches, 6)

	bike := scenario.BOMs[2]
	assert.Equal(t, entities.BOMID("BIKE@v1"), bike.Node.ID)
	assert.Equal(t, entities.BOMActive, bike.Node.Status)
	assert.True(t, bike.Node.LaborCost.Equal(testhelpers.Dec("20")))
	require.Len(t, bike.Lines, 3)
	assert.Equal(t, entities.ProductID("WHEEL"), bike.Lines[1].Component)

	frame := scenario.BOMs[0]
	assert.True(t, frame.Lines[0].ScrapPercentage.Equal(testhelpers.Dec("5")))

	assert.Equal(t, entities.QualityQuarantine, scenario.Batches[5].Quality)
	assert.Equal(t, "HEAT-2", scenario.Batches[1].LotNumber)
}

func TestScenario_ApplyAndExplode(t *testing.T) {
	scenario, err := NewLoader().LoadScenario(filepath.Join("testdata", "bicycle"))
	require.NoError(t, err)

	stores := testhelpers.NewStores()
	ctx := context.Background()
	require.NoError(t, scenario.Apply(ctx, stores.Products, stores.Compositions, stores.Ledger))

	steel, err := stores.Products.Product(ctx, "RM-STEEL-001")
	require.NoError(t, err)
	assert.True(t, steel.MinimumStock.Equal(testhelpers.Dec("50")))

	engine := explosion.NewEngine(stores.Compositions, stores.Ledger, explosion.Config{}, stores.Clock, nil)
	result, err := engine.Explode(ctx, dto.ExplosionRequest{Product: "BIKE", Warehouse: "WH-1", Quantity: testhelpers.Dec("2")})
	require.NoError(t, err)
	assert.Equal(t, "v1", result.Version, "the draft v2 is ignored")
	assert.True(t, result.TotalCost.Equal(testhelpers.Dec("210")), "got %s", result.TotalCost)
	assert.Empty(t, result.Shortages)
}

func TestScenario_ApplyRejectsCycles(t *testing.T) {
	scenario, err := NewLoader().LoadScenario(filepath.Join("testdata", "broken"))
	require.NoError(t, err)
	assert.Empty(t, scenario.Batches, "batches.csv is optional")

	stores := testhelpers.NewStores()
	err = scenario.Apply(context.Background(), stores.Products, stores.Compositions, stores.Ledger)
	var cycle *entities.CircularReferenceError
	assert.True(t, errors.As(err, &cycle), "got %v", err)
}

func TestLoader_RejectsMalformedFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"header mismatch", "id,name\nP,Thing\n"},
		{"column count", "id,description,unit_of_measure,minimum_stock,critical_stock\nP,Thing,EA,1\n"},
		{"bad decimal", "id,description,unit_of_measure,minimum_stock,critical_stock\nP,Thing,EA,lots,0\n"},
		{"critical above minimum", "id,description,unit_of_measure,minimum_stock,critical_stock\nP,Thing,EA,1,5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ProductsFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := NewLoader().LoadProducts(path)
			assert.Error(t, err)
		})
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, BOMsFile),
		[]byte("product,version,status,effective_from,effective_to,labor_cost,overhead_cost\nA,v1,Active,2024-12-01,,0,0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, BOMLinesFile),
		[]byte("product,version,sequence,component,quantity,scrap_percentage\nZ,v1,10,B,1,0\n"), 0o644))
	_, err := NewLoader().LoadBOMs(filepath.Join(dir, BOMsFile), filepath.Join(dir, BOMLinesFile))
	assert.ErrorContains(t, err, "unknown BOM")
}
