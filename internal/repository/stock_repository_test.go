package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/testutil"
)

func TestDecrementForSaleFloorsAtZero(t *testing.T) {
	db := testutil.NewDB(t)
	_, v := testutil.SeedProduct(t, db, "tee", "300", 2)
	repo := NewStockRepository(db)
	ctx := context.Background()

	adj, err := repo.DecrementForSale(ctx, v.ID, 5, "SP1")
	require.NoError(t, err)
	assert.Equal(t, 2, adj.PreviousStock)
	assert.Equal(t, 0, adj.NewStock)
	assert.Equal(t, -2, adj.Adjustment)
	assert.Equal(t, model.AdjustmentSale, adj.AdjustmentType)
	assert.Contains(t, adj.Reason, "SP1")

	var reloaded model.ProductVariant
	require.NoError(t, db.First(&reloaded, v.ID).Error)
	assert.Equal(t, 0, reloaded.Stock)

	list, err := repo.ListAdjustments(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].PreviousStock)
	assert.Equal(t, 0, list[0].NewStock)
}

func TestDecrementForSaleConcurrentNoLostUpdate(t *testing.T) {
	db := testutil.NewDB(t)
	_, v := testutil.SeedProduct(t, db, "hoodie", "900", 100)
	repo := NewStockRepository(db)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				_, err := repo.WithTx(tx).DecrementForSale(context.Background(), v.ID, 3, "SP-conc")
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var reloaded model.ProductVariant
	require.NoError(t, db.First(&reloaded, v.ID).Error)
	assert.Equal(t, 40, reloaded.Stock)

	list, err := repo.ListAdjustments(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}
