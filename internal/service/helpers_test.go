package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/config"
	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/internal/testutil"
)

func testPayTR() *gateway.PayTR {
	return gateway.NewPayTR(config.PayTRConfig{
		MerchantID:   "100200",
		MerchantKey:  "merchant-key",
		MerchantSalt: "merchant-salt",
		BaseURL:      "https://gateway.test",
		Currency:     "TL",
	})
}

func signedCallback(pay *gateway.PayTR, oid, status, amount string) gateway.CallbackPayload {
	return gateway.CallbackPayload{
		MerchantOid: oid,
		Status:      status,
		TotalAmount: amount,
		Hash:        pay.CallbackHash(oid, status, amount),
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	orders []*model.Order
	items  [][]*model.OrderItem
}

func (d *recordingDispatcher) Dispatch(order *model.Order, items []*model.OrderItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, order)
	d.items = append(d.items, items)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.orders)
}

// noLock 关闭应用层锁，只靠数据库条件更新与唯一索引兜底
type noLock struct{}

func (noLock) Acquire(context.Context, string, time.Duration) (func(), error) { return func() {}, nil }

type fixture struct {
	db         *gorm.DB
	pay        *gateway.PayTR
	m          *Materializer
	dispatched *recordingDispatcher
	pending    repository.PendingPaymentRepository
	product    *model.Product
	variant    *model.ProductVariant
}

func newFixture(t *testing.T, stock int) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	pay := testPayTR()
	d := &recordingDispatcher{}
	p, v := testutil.SeedProduct(t, db, "oversize-tee", "1000", stock)
	return &fixture{
		db:         db,
		pay:        pay,
		m:          NewMaterializer(db, pay, nil, time.Second, nil, d),
		dispatched: d,
		pending:    repository.NewPendingPaymentRepository(db),
		product:    p,
		variant:    v,
	}
}

// seedPending 写入一条 3 件、可选优惠券的待支付记录
func (f *fixture) seedPending(t *testing.T, oid string, qty int, coupon *string, discount string) *model.PendingPayment {
	t.Helper()
	vid := f.variant.ID
	lines := model.CartLines{{
		ProductID:          f.product.ID,
		VariantID:          &vid,
		Quantity:           qty,
		UnitPrice:          testutil.Dec("1000"),
		ProductName:        "Oversize Tee",
		VariantDescription: "M / Black",
	}}
	quote := NewPricer(testutil.Dec("2500"), testutil.Dec("150")).Price(lines.Subtotal(), testutil.Dec(discount))
	p := &model.PendingPayment{
		MerchantOid:    oid,
		SessionID:      "sess-" + oid,
		CustomerName:   "Ada Lovelace",
		CustomerEmail:  "ada@example.com",
		CustomerPhone:  "5551234567",
		Address:        model.Address{FullName: "Ada Lovelace", Line1: "Moda Cd. 1", City: "Istanbul", Country: "TR"},
		Lines:          lines,
		Subtotal:       quote.Subtotal,
		ShippingCost:   quote.ShippingCost,
		DiscountAmount: quote.DiscountAmount,
		CouponCode:     coupon,
		Total:          quote.Total,
		Status:         model.PaymentTokenReceived,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	require.NoError(t, f.pending.Create(context.Background(), p))
	return p
}

func (f *fixture) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	var v model.ProductVariant
	require.NoError(t, f.db.First(&v, f.variant.ID).Error)
	return v.Stock
}

func strPtr(s string) *string { return &s }
