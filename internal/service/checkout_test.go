package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/internal/testutil"
)

type fakeGateway struct {
	*gateway.PayTR
	mu   sync.Mutex
	reqs []gateway.TokenRequest
	res  *gateway.TokenResult
	err  error
}

func (g *fakeGateway) RequestToken(_ context.Context, req gateway.TokenRequest) (*gateway.TokenResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	if g.res != nil {
		return g.res, nil
	}
	return &gateway.TokenResult{Status: gateway.StatusSuccess, Token: "tok-" + req.MerchantOid}, nil
}

func newCheckout(db *gorm.DB, gw PaymentGateway) *CheckoutService {
	return NewCheckoutService(
		NewCartSnapshotReader(repository.NewCatalogRepository(db)),
		NewCouponEvaluator(repository.NewCouponRepository(db)),
		NewPricer(testutil.Dec("2500"), testutil.Dec("150")),
		repository.NewPendingPaymentRepository(db),
		repository.NewOrderRepository(db),
		gw,
		nil,
		time.Hour,
	)
}

func checkoutRequest(session string) CheckoutRequest {
	return CheckoutRequest{
		SessionID:     session,
		ClientIP:      "203.0.113.7",
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		CustomerPhone: "5551234567",
		Address:       model.Address{FullName: "Ada Lovelace", Line1: "Moda Cd. 1", District: "Kadikoy", City: "Istanbul", Country: "TR"},
	}
}

func TestCreatePaymentWithCoupon(t *testing.T) {
	db := testutil.NewDB(t)
	_, v := testutil.SeedProduct(t, db, "tee", "1000", 10)
	testutil.SeedCartLine(t, db, "s1", v, 3)
	require.NoError(t, db.Create(&model.Coupon{Code: "SAVE10", DiscountType: model.DiscountPercentage, DiscountValue: testutil.Dec("10"), Active: true}).Error)

	gw := &fakeGateway{PayTR: testPayTR()}
	svc := newCheckout(db, gw)
	req := checkoutRequest("s1")
	req.CouponCode = "save10"

	res, err := svc.CreatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.MerchantOid, "SP"))
	assert.Equal(t, "tok-"+res.MerchantOid, res.Token)
	assert.Equal(t, "https://gateway.test/odeme/guvenli/"+res.Token, res.IframeURL)

	require.Len(t, gw.reqs, 1)
	sent := gw.reqs[0]
	assert.Equal(t, "2700.00", sent.Amount.StringFixed(2))
	assert.Equal(t, int64(270000), gateway.ToMinorUnits(sent.Amount))
	assert.Equal(t, "203.0.113.7", sent.UserIP)
	assert.Equal(t, "Moda Cd. 1, Kadikoy, Istanbul, TR", sent.UserAddress)
	require.Len(t, sent.Basket, 1)
	assert.Equal(t, "tee (M / Black)", sent.Basket[0].Name)

	p, err := repository.NewPendingPaymentRepository(db).GetByMerchantOid(context.Background(), res.MerchantOid)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PaymentTokenReceived, p.Status)
	assert.Equal(t, "3000.00", p.Subtotal.StringFixed(2))
	assert.Equal(t, "300.00", p.DiscountAmount.StringFixed(2))
	assert.Equal(t, "0.00", p.ShippingCost.StringFixed(2))
	assert.Equal(t, "2700.00", p.Total.StringFixed(2))
	require.NotNil(t, p.CouponCode)
	assert.Equal(t, "SAVE10", *p.CouponCode)
	require.Len(t, p.Lines, 1)
	assert.WithinDuration(t, time.Now().Add(time.Hour), p.ExpiresAt, time.Minute)
}

func TestCreatePaymentValidationErrors(t *testing.T) {
	db := testutil.NewDB(t)
	_, v := testutil.SeedProduct(t, db, "tee", "1000", 10)
	testutil.SeedCartLine(t, db, "s1", v, 1)
	gw := &fakeGateway{PayTR: testPayTR()}
	svc := newCheckout(db, gw)

	_, err := svc.CreatePayment(context.Background(), checkoutRequest("empty"))
	assert.ErrorIs(t, err, ErrEmptyCart)

	req := checkoutRequest("s1")
	req.CouponCode = "NOPE"
	_, err = svc.CreatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCoupon)
	assert.Contains(t, err.Error(), "Coupon code not found")

	req = checkoutRequest("s1")
	req.CreateAccount = true
	_, err = svc.CreatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrPasswordRequired)

	assert.Empty(t, gw.reqs)
	var n int64
	require.NoError(t, db.Model(&model.PendingPayment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreatePaymentGatewayFailureDeletesPending(t *testing.T) {
	cases := []struct {
		name    string
		gw      *fakeGateway
		wantErr error
	}{
		{"unavailable", &fakeGateway{PayTR: testPayTR(), err: fmt.Errorf("%w: timeout", gateway.ErrGatewayUnavailable)}, ErrGatewayUnavailable},
		{"rejected", &fakeGateway{PayTR: testPayTR(), res: &gateway.TokenResult{Status: gateway.StatusFailed, Reason: "invalid basket"}}, ErrPaymentRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := testutil.NewDB(t)
			_, v := testutil.SeedProduct(t, db, "tee", "1000", 10)
			testutil.SeedCartLine(t, db, "s1", v, 1)

			_, err := newCheckout(db, tc.gw).CreatePayment(context.Background(), checkoutRequest("s1"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr))

			var n int64
			require.NoError(t, db.Model(&model.PendingPayment{}).Count(&n).Error)
			assert.Zero(t, n)
		})
	}
}

func TestCreatePaymentHashesPassword(t *testing.T) {
	db := testutil.NewDB(t)
	_, v := testutil.SeedProduct(t, db, "tee", "1000", 10)
	testutil.SeedCartLine(t, db, "s1", v, 1)

	req := checkoutRequest("s1")
	req.CreateAccount = true
	req.Password = "correct horse"
	res, err := newCheckout(db, &fakeGateway{PayTR: testPayTR()}).CreatePayment(context.Background(), req)
	require.NoError(t, err)

	p, err := repository.NewPendingPaymentRepository(db).GetByMerchantOid(context.Background(), res.MerchantOid)
	require.NoError(t, err)
	assert.True(t, p.CreateAccount)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte("correct horse")))

	// 支付前不建账号
	var n int64
	require.NoError(t, db.Model(&model.User{}).Count(&n).Error)
	assert.Zero(t, n)
}

// 购物车 3000，SAVE10 打九折，免运费，网关收 270000，回调后落单
func TestCheckoutToOrderScenario(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	_, v := testutil.SeedProduct(t, db, "tee", "1000", 10)
	testutil.SeedCartLine(t, db, "s1", v, 3)
	coupon := &model.Coupon{Code: "SAVE10", DiscountType: model.DiscountPercentage, DiscountValue: testutil.Dec("10"), Active: true}
	require.NoError(t, db.Create(coupon).Error)

	gw := &fakeGateway{PayTR: testPayTR()}
	svc := newCheckout(db, gw)
	req := checkoutRequest("s1")
	req.CouponCode = "SAVE10"
	res, err := svc.CreatePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(270000), gateway.ToMinorUnits(gw.reqs[0].Amount))

	st, err := svc.GetStatus(ctx, res.MerchantOid)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentTokenReceived, st.Status)

	m := NewMaterializer(db, gw, nil, time.Second, nil, &recordingDispatcher{})
	out, err := m.HandleCallback(ctx, signedCallback(gw.PayTR, res.MerchantOid, gateway.StatusSuccess, "2700.00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMaterialized, out)

	order, err := repository.NewOrderRepository(db).GetByOrderNumber(ctx, res.MerchantOid)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "2700.00", order.Total.StringFixed(2))
	items, err := repository.NewOrderRepository(db).ListItems(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	var stored model.Coupon
	require.NoError(t, db.First(&stored, coupon.ID).Error)
	assert.Equal(t, 1, stored.UsageCount)
	var red model.CouponRedemption
	require.NoError(t, db.Where("order_id = ?", order.ID).First(&red).Error)
	assert.Equal(t, "300.00", red.DiscountAmount.StringFixed(2))

	st, err = svc.GetStatus(ctx, res.MerchantOid)
	require.NoError(t, err)
	assert.Equal(t, &PaymentStatus{Status: model.PaymentCompleted, OrderNumber: res.MerchantOid, OrderID: order.ID}, st)

	_, err = svc.GetStatus(ctx, "SPMISSING")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
