package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/testutil"
)

func TestGetByCodeCaseInsensitive(t *testing.T) {
	db := testutil.NewDB(t)
	c := &model.Coupon{Code: "SAVE10", DiscountType: model.DiscountPercentage, DiscountValue: testutil.Dec("10"), Active: true}
	require.NoError(t, db.Create(c).Error)
	repo := NewCouponRepository(db)

	got, err := repo.GetByCode(context.Background(), "  save10 ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)

	missing, err := repo.GetByCode(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIncrementUsageRespectsLimitUnderConcurrency(t *testing.T) {
	db := testutil.NewDB(t)
	c := &model.Coupon{Code: "ONCE", DiscountType: model.DiscountFixed, DiscountValue: testutil.Dec("50"), UsageLimit: testutil.IntPtr(1), Active: true}
	require.NoError(t, db.Create(c).Error)
	repo := NewCouponRepository(db)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.IncrementUsage(context.Background(), c.ID)
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	var reloaded model.Coupon
	require.NoError(t, db.First(&reloaded, c.ID).Error)
	assert.Equal(t, 1, reloaded.UsageCount)
}

func TestIncrementUsageUnlimited(t *testing.T) {
	db := testutil.NewDB(t)
	c := &model.Coupon{Code: "ALWAYS", DiscountType: model.DiscountFixed, DiscountValue: testutil.Dec("5"), Active: true}
	require.NoError(t, db.Create(c).Error)
	repo := NewCouponRepository(db)

	for i := 0; i < 3; i++ {
		ok, err := repo.IncrementUsage(context.Background(), c.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	require.NoError(t, repo.AddCommission(context.Background(), c.ID, testutil.Dec("12.50")))
	require.NoError(t, repo.AddCommission(context.Background(), c.ID, testutil.Dec("7.50")))

	var reloaded model.Coupon
	require.NoError(t, db.First(&reloaded, c.ID).Error)
	assert.Equal(t, 3, reloaded.UsageCount)
	assert.True(t, reloaded.CommissionEarned.Equal(testutil.Dec("20")), reloaded.CommissionEarned.String())
}

func TestCountRedemptions(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewCouponRepository(db)
	ctx := context.Background()
	a := &model.Coupon{Code: "A10", DiscountType: model.DiscountFixed, DiscountValue: testutil.Dec("10"), Active: true}
	b := &model.Coupon{Code: "B10", DiscountType: model.DiscountFixed, DiscountValue: testutil.Dec("10"), Active: true}
	require.NoError(t, db.Create(a).Error)
	require.NoError(t, db.Create(b).Error)

	n, err := repo.CountRedemptions(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i, uid := range []*uint{testutil.UintPtr(7), nil, testutil.UintPtr(7)} {
		require.NoError(t, repo.CreateRedemption(ctx, &model.CouponRedemption{
			CouponID: a.ID, OrderID: uint(i + 1), UserID: uid, DiscountAmount: testutil.Dec("10"),
		}))
	}
	require.NoError(t, repo.CreateRedemption(ctx, &model.CouponRedemption{CouponID: b.ID, OrderID: 10, DiscountAmount: testutil.Dec("10")}))

	n, err = repo.CountRedemptions(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.CountUserRedemptions(ctx, a.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
