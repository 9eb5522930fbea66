package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/testutil"
)

func newOrder(number string) *model.Order {
	return &model.Order{
		OrderNumber:    number,
		CustomerName:   "Ada",
		CustomerEmail:  "ada@example.com",
		Address:        model.Address{City: "Izmir", Country: "TR"},
		Subtotal:       testutil.Dec("3000"),
		ShippingCost:   testutil.Dec("0"),
		DiscountAmount: testutil.Dec("300"),
		Total:          testutil.Dec("2700"),
		Status:         model.OrderStatusConfirmed,
		PaymentStatus:  model.PaymentStatusPaid,
	}
}

func TestOrderCreateAndItems(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	o := newOrder("SP1")
	require.NoError(t, repo.Create(ctx, o))
	require.NoError(t, repo.CreateItems(ctx, []*model.OrderItem{
		{OrderID: o.ID, ProductID: 1, ProductName: "Tee", UnitPrice: testutil.Dec("1000"), Quantity: 3, Subtotal: testutil.Dec("3000")},
	}))

	got, err := repo.GetByOrderNumber(ctx, "SP1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Total.Equal(testutil.Dec("2700")))
	assert.Equal(t, "Izmir", got.Address.City)

	items, err := repo.ListItems(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}

func TestOrderNumberUnique(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newOrder("SP2")))
	err := repo.Create(ctx, newOrder("SP2"))
	assert.True(t, IsDuplicateKey(err), "got %v", err)
}

func TestCreateItemsRequiresParent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOrderRepository(db)
	err := repo.CreateItems(context.Background(), []*model.OrderItem{{ProductID: 9, Quantity: 1}})
	assert.Error(t, err)
}
