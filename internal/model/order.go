package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 订单模型；创建后金额字段不再变化
type Order struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	OrderNumber    string          `json:"order_number" gorm:"type:varchar(64);uniqueIndex;not null"` // 等于 merchant_oid
	UserID         *uint           `json:"user_id,omitempty" gorm:"index:idx_order_user_created"`
	CustomerName   string          `json:"customer_name" gorm:"type:varchar(255);not null"`
	CustomerEmail  string          `json:"customer_email" gorm:"type:varchar(255);index;not null"`
	CustomerPhone  string          `json:"customer_phone" gorm:"type:varchar(32)"`
	Address        Address         `json:"shipping_address" gorm:"column:shipping_address;type:text;not null"`
	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	ShippingCost   decimal.Decimal `json:"shipping_cost" gorm:"type:decimal(10,2);not null"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:decimal(10,2);not null"`
	Total          decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`
	CouponCode     *string         `json:"coupon_code,omitempty" gorm:"type:varchar(64)"`
	Status         string          `json:"status" gorm:"type:varchar(16);index;not null"`
	PaymentStatus  string          `json:"payment_status" gorm:"type:varchar(16);not null"`
	TrackingNumber string          `json:"tracking_number,omitempty" gorm:"type:varchar(64)"`
	Carrier        string          `json:"carrier,omitempty" gorm:"type:varchar(64)"`
	Notes          string          `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index:idx_order_user_created"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// OrderStatus 订单状态
const (
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// PaymentStatus 支付状态
const (
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// OrderItem 订单行；名称、规格与单价均为下单时快照
type OrderItem struct {
	ID                 uint            `json:"id" gorm:"primaryKey"`
	OrderID            uint            `json:"order_id" gorm:"index;not null"`
	ProductID          uint            `json:"product_id" gorm:"not null"`
	VariantID          *uint           `json:"variant_id,omitempty"`
	ProductName        string          `json:"product_name" gorm:"type:varchar(255);not null"`
	VariantDescription string          `json:"variant_description,omitempty" gorm:"type:varchar(128)"`
	UnitPrice          decimal.Decimal `json:"unit_price" gorm:"type:decimal(10,2);not null"`
	Quantity           int             `json:"quantity" gorm:"not null"`
	Subtotal           decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	CreatedAt          time.Time       `json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }
