package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"

	CommissionPercentage = "percentage"
	CommissionFixed      = "fixed"
)

// Coupon 优惠券；Code 统一大写存储
type Coupon struct {
	ID             uint             `json:"id" gorm:"primaryKey"`
	Code           string           `json:"code" gorm:"type:varchar(64);uniqueIndex;not null"`
	DiscountType   string           `json:"discount_type" gorm:"type:varchar(16);not null"`
	DiscountValue  decimal.Decimal  `json:"discount_value" gorm:"type:decimal(10,2);not null"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty" gorm:"type:decimal(10,2)"`
	UsageLimit     *int             `json:"usage_limit,omitempty"`
	PerUserLimit   *int             `json:"per_user_limit,omitempty"`
	UsageCount     int              `json:"usage_count" gorm:"not null;default:0"`
	StartsAt       *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	Active         bool             `json:"active" gorm:"not null;default:true"`

	// 网红推广佣金
	IsInfluencer     bool             `json:"is_influencer" gorm:"not null;default:false"`
	InfluencerName   string           `json:"influencer_name,omitempty" gorm:"type:varchar(128)"`
	CommissionType   string           `json:"commission_type,omitempty" gorm:"type:varchar(16)"`
	CommissionValue  *decimal.Decimal `json:"commission_value,omitempty" gorm:"type:decimal(10,2)"`
	CommissionEarned decimal.Decimal  `json:"commission_earned" gorm:"type:decimal(12,2);not null;default:0"`
	CommissionPaid   bool             `json:"commission_paid" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Coupon) TableName() string { return "coupons" }

// CouponRedemption 每个使用了优惠券的订单一行；记录的是实际抵扣金额，不事后重算
type CouponRedemption struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	CouponID       uint            `json:"coupon_id" gorm:"index;not null"`
	OrderID        uint            `json:"order_id" gorm:"uniqueIndex;not null"`
	UserID         *uint           `json:"user_id,omitempty" gorm:"index"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:decimal(10,2);not null"`

	// 兑换时生效的佣金规则快照
	CommissionType   string           `json:"commission_type,omitempty" gorm:"type:varchar(16)"`
	CommissionValue  *decimal.Decimal `json:"commission_value,omitempty" gorm:"type:decimal(10,2)"`
	CommissionAmount decimal.Decimal  `json:"commission_amount" gorm:"type:decimal(10,2);not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
}

func (CouponRedemption) TableName() string { return "coupon_redemptions" }
