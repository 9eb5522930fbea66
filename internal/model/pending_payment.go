package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PendingPayment 状态
const (
	PaymentPending       = "pending"
	PaymentTokenReceived = "token_received"
	PaymentCompleted     = "completed"
	PaymentFailed        = "failed"
)

// PendingPayment 支付确认前的订单意图，merchant_oid 是整条链路的幂等键
type PendingPayment struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	MerchantOid    string          `json:"merchant_oid" gorm:"type:varchar(64);uniqueIndex;not null"`
	SessionID      string          `json:"session_id" gorm:"type:varchar(128);index;not null"`
	UserID         *uint           `json:"user_id,omitempty"`
	CustomerName   string          `json:"customer_name" gorm:"type:varchar(255);not null"`
	CustomerEmail  string          `json:"customer_email" gorm:"type:varchar(255);not null"`
	CustomerPhone  string          `json:"customer_phone" gorm:"type:varchar(32)"`
	Address        Address         `json:"shipping_address" gorm:"column:shipping_address;type:text;not null"`
	Lines          CartLines       `json:"cart_snapshot" gorm:"column:cart_snapshot;type:text;not null"`
	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	ShippingCost   decimal.Decimal `json:"shipping_cost" gorm:"type:decimal(10,2);not null"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:decimal(10,2);not null"`
	CouponCode     *string         `json:"coupon_code,omitempty" gorm:"type:varchar(64)"`
	Total          decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`
	Status         string          `json:"status" gorm:"type:varchar(16);index:idx_pending_status_expires;not null"`
	FailureReason  string          `json:"failure_reason,omitempty" gorm:"type:varchar(255)"`
	CreateAccount  bool            `json:"create_account" gorm:"not null;default:false"`
	PasswordHash   string          `json:"-" gorm:"type:varchar(255)"`
	ExpiresAt      time.Time       `json:"expires_at" gorm:"index:idx_pending_status_expires;not null"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (PendingPayment) TableName() string { return "pending_payments" }

// IsTerminal completed / failed 之后不再流转
func (p *PendingPayment) IsTerminal() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentFailed
}

// Expired 判断是否已超过有效期
func (p *PendingPayment) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Address 结构化收货地址，以 JSON 存储
type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

func (a Address) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Address) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// CartLine 购物车快照行，价格为创建支付时从商品目录解析出的权威价格
type CartLine struct {
	ProductID          uint            `json:"productId"`
	VariantID          *uint           `json:"variantId,omitempty"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unitPrice"`
	ProductName        string          `json:"productName"`
	VariantDescription string          `json:"variantDescription,omitempty"`
}

// LineTotal 单价 * 数量
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

type CartLines []CartLine

// Subtotal 所有行小计之和
func (ls CartLines) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range ls {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

// ItemCount 商品件数
func (ls CartLines) ItemCount() int {
	n := 0
	for _, l := range ls {
		n += l.Quantity
	}
	return n
}

func (ls CartLines) Value() (driver.Value, error) {
	if ls == nil {
		ls = CartLines{}
	}
	b, err := json.Marshal(ls)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (ls *CartLines) Scan(src interface{}) error {
	return scanJSON(src, ls)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported json column type")
	}
}
