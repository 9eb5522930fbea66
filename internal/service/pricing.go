package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quote 定价结果
type Quote struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal
}

// Pricer 纯函数定价：创建支付与落单时必须得到完全相同的结果
type Pricer struct {
	freeShippingThreshold decimal.Decimal
	flatShippingFee       decimal.Decimal
}

func NewPricer(freeShippingThreshold, flatShippingFee decimal.Decimal) *Pricer {
	return &Pricer{freeShippingThreshold: freeShippingThreshold, flatShippingFee: flatShippingFee}
}

// NewPricerFromStrings 解析配置中的金额
func NewPricerFromStrings(threshold, fee string) (*Pricer, error) {
	t, err := decimal.NewFromString(threshold)
	if err != nil {
		return nil, fmt.Errorf("free shipping threshold: %w", err)
	}
	f, err := decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("flat shipping fee: %w", err)
	}
	return NewPricer(t, f), nil
}

// Price 满额包邮，否则收固定运费；total = max(0, subtotal - discount + shipping)
func (p *Pricer) Price(subtotal, discount decimal.Decimal) Quote {
	subtotal = subtotal.Round(2)
	discount = clampDiscount(discount, subtotal)

	shipping := p.flatShippingFee.Round(2)
	if subtotal.GreaterThanOrEqual(p.freeShippingThreshold) {
		shipping = decimal.Zero
	}

	total := subtotal.Sub(discount).Add(shipping)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Quote{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		ShippingCost:   shipping,
		Total:          total.Round(2),
	}
}

func clampDiscount(discount, subtotal decimal.Decimal) decimal.Decimal {
	discount = discount.Round(2)
	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}
