package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/repository"
)

var hundred = decimal.NewFromInt(100)

// CouponResult 校验结果；Valid 为 false 时 Reason 是给用户看的原因
type CouponResult struct {
	Valid    bool
	Coupon   *model.Coupon
	Discount decimal.Decimal
	Reason   string
}

// CouponEvaluator 服务端优惠券校验与折扣计算
type CouponEvaluator struct {
	repo repository.CouponRepository
	now  func() time.Time
}

func NewCouponEvaluator(repo repository.CouponRepository) *CouponEvaluator {
	return &CouponEvaluator{repo: repo, now: time.Now}
}

// Validate 依次检查：存在、启用、开始时间、过期时间、总次数、最低金额、每人次数；首个失败即返回
func (e *CouponEvaluator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, userID *uint) (*CouponResult, error) {
	c, err := e.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load coupon: %w", err)
	}
	if c == nil {
		return invalid(nil, "Coupon code not found"), nil
	}
	if !c.Active {
		return invalid(c, "This coupon is not active"), nil
	}
	now := e.now()
	if c.StartsAt != nil && c.StartsAt.After(now) {
		return invalid(c, "This coupon is not valid yet"), nil
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return invalid(c, "This coupon has expired"), nil
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return invalid(c, "This coupon has reached its usage limit"), nil
	}
	if c.MinOrderAmount != nil && subtotal.LessThan(*c.MinOrderAmount) {
		return invalid(c, fmt.Sprintf("Minimum order amount for this coupon is %s", c.MinOrderAmount.StringFixed(2))), nil
	}
	if userID != nil && c.PerUserLimit != nil {
		used, err := e.repo.CountUserRedemptions(ctx, c.ID, *userID)
		if err != nil {
			return nil, fmt.Errorf("count user redemptions: %w", err)
		}
		if used >= int64(*c.PerUserLimit) {
			return invalid(c, "You have already used this coupon the maximum number of times"), nil
		}
	}
	return &CouponResult{Valid: true, Coupon: c, Discount: Discount(c, subtotal)}, nil
}

func invalid(c *model.Coupon, reason string) *CouponResult {
	return &CouponResult{Coupon: c, Discount: decimal.Zero, Reason: reason}
}

// Discount 百分比按小计折算，固定金额直接使用；结果不超过小计
func Discount(c *model.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.DiscountType {
	case model.DiscountPercentage:
		d = subtotal.Mul(c.DiscountValue).Div(hundred)
	case model.DiscountFixed:
		d = c.DiscountValue
	default:
		return decimal.Zero
	}
	return clampDiscount(d, subtotal.Round(2))
}

// Commission 按优惠券当前佣金规则计算本单佣金
func Commission(c *model.Coupon, orderTotal decimal.Decimal) decimal.Decimal {
	if !c.IsInfluencer || c.CommissionValue == nil {
		return decimal.Zero
	}
	switch c.CommissionType {
	case model.CommissionPercentage:
		return orderTotal.Mul(*c.CommissionValue).Div(hundred).Round(2)
	case model.CommissionFixed:
		return c.CommissionValue.Round(2)
	default:
		return decimal.Zero
	}
}
