package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product 商品
type Product struct {
	ID        uint             `json:"id" gorm:"primaryKey"`
	Name      string           `json:"name" gorm:"type:varchar(255);not null"`
	Slug      string           `json:"slug" gorm:"type:varchar(255);uniqueIndex"`
	Price     decimal.Decimal  `json:"price" gorm:"type:decimal(10,2);not null"`
	SalePrice *decimal.Decimal `json:"sale_price,omitempty" gorm:"type:decimal(10,2)"`
	Active    bool             `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// EffectivePrice 有效售价：促销价存在且更低时取促销价
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice != nil && p.SalePrice.IsPositive() && p.SalePrice.LessThan(p.Price) {
		return *p.SalePrice
	}
	return p.Price
}

// ProductVariant 商品规格（尺码/颜色），库存在规格上维护
type ProductVariant struct {
	ID        uint             `json:"id" gorm:"primaryKey"`
	ProductID uint             `json:"product_id" gorm:"index;not null"`
	SKU       string           `json:"sku" gorm:"type:varchar(64);uniqueIndex"`
	Size      string           `json:"size" gorm:"type:varchar(32)"`
	Color     string           `json:"color" gorm:"type:varchar(32)"`
	Price     *decimal.Decimal `json:"price,omitempty" gorm:"type:decimal(10,2)"` // 为空时沿用商品价格
	Stock     int              `json:"stock" gorm:"not null;default:0"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (ProductVariant) TableName() string { return "product_variants" }

// Description 形如 "M / Black"
func (v *ProductVariant) Description() string {
	parts := make([]string, 0, 2)
	if v.Size != "" {
		parts = append(parts, v.Size)
	}
	if v.Color != "" {
		parts = append(parts, v.Color)
	}
	return strings.Join(parts, " / ")
}

// StockAdjustment 库存变更审计
type StockAdjustment struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	VariantID      uint      `json:"variant_id" gorm:"index;not null"`
	PreviousStock  int       `json:"previous_stock" gorm:"not null"`
	NewStock       int       `json:"new_stock" gorm:"not null"`
	Adjustment     int       `json:"adjustment" gorm:"not null"`
	AdjustmentType string    `json:"adjustment_type" gorm:"type:varchar(16);not null"`
	Reason         string    `json:"reason" gorm:"type:varchar(255)"`
	OrderNumber    string    `json:"order_number,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt      time.Time `json:"created_at"`
}

func (StockAdjustment) TableName() string { return "stock_adjustments" }

const (
	AdjustmentSale    = "sale"
	AdjustmentReturn  = "return"
	AdjustmentRestock = "restock"
	AdjustmentManual  = "manual"
)

// CartItem 购物车行（按 session 归属）
type CartItem struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID string    `json:"session_id" gorm:"type:varchar(128);index;not null"`
	ProductID uint      `json:"product_id" gorm:"not null"`
	VariantID *uint     `json:"variant_id,omitempty"`
	Quantity  int       `json:"quantity" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CartItem) TableName() string { return "cart_items" }
