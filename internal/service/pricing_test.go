package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/testutil"
)

func TestPricerShippingThreshold(t *testing.T) {
	p := NewPricer(testutil.Dec("2500"), testutil.Dec("150"))
	cases := []struct {
		subtotal, discount string
		shipping, total    string
	}{
		{"3000", "300", "0.00", "2700.00"},
		{"2500", "0", "0.00", "2500.00"},
		{"2499.99", "0", "150.00", "2649.99"},
		{"100", "0", "150.00", "250.00"},
		// 门槛按折前小计判断
		{"2600", "500", "0.00", "2100.00"},
	}
	for _, tc := range cases {
		q := p.Price(testutil.Dec(tc.subtotal), testutil.Dec(tc.discount))
		assert.Equal(t, tc.shipping, q.ShippingCost.StringFixed(2), tc.subtotal)
		assert.Equal(t, tc.total, q.Total.StringFixed(2), tc.subtotal)
	}
}

func TestPricerDeterministic(t *testing.T) {
	p := NewPricer(testutil.Dec("2500"), testutil.Dec("150"))
	first := p.Price(testutil.Dec("1234.56"), testutil.Dec("12.34"))
	for i := 0; i < 100; i++ {
		q := p.Price(testutil.Dec("1234.56"), testutil.Dec("12.34"))
		assert.True(t, q.Total.Equal(first.Total))
		assert.True(t, q.ShippingCost.Equal(first.ShippingCost))
	}
}

func TestPricerDiscountClamp(t *testing.T) {
	p := NewPricer(testutil.Dec("2500"), testutil.Dec("150"))

	q := p.Price(testutil.Dec("300"), testutil.Dec("500"))
	assert.Equal(t, "300.00", q.DiscountAmount.StringFixed(2))
	assert.True(t, q.Total.Equal(q.ShippingCost))
	assert.False(t, q.Total.IsNegative())

	q = p.Price(testutil.Dec("300"), testutil.Dec("-20"))
	assert.True(t, q.DiscountAmount.IsZero())
	assert.Equal(t, "450.00", q.Total.StringFixed(2))
}

func TestFixedCouponClampedThroughPricing(t *testing.T) {
	c := &model.Coupon{DiscountType: model.DiscountFixed, DiscountValue: testutil.Dec("500")}
	d := Discount(c, testutil.Dec("300"))
	assert.Equal(t, "300.00", d.StringFixed(2))

	q := NewPricer(testutil.Dec("2500"), testutil.Dec("150")).Price(testutil.Dec("300"), d)
	assert.Equal(t, "150.00", q.Total.StringFixed(2))
}

func TestNewPricerFromStrings(t *testing.T) {
	p, err := NewPricerFromStrings("2500", "150")
	require.NoError(t, err)
	assert.Equal(t, "150.00", p.Price(testutil.Dec("10"), testutil.Dec("0")).ShippingCost.StringFixed(2))

	_, err = NewPricerFromStrings("abc", "150")
	assert.Error(t, err)
	_, err = NewPricerFromStrings("2500", "")
	assert.Error(t, err)
}
