package model

import "time"

// User 顾客账户；支付成功后才会由结账信息创建
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name         string    `json:"name" gorm:"type:varchar(255)"`
	Phone        string    `json:"phone" gorm:"type:varchar(32)"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// UserAddress 保存的收货地址
type UserAddress struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index;not null"`
	Title     string    `json:"title" gorm:"type:varchar(64)"`
	Address   Address   `json:"address" gorm:"type:text;not null"`
	IsDefault bool      `json:"is_default" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserAddress) TableName() string { return "user_addresses" }

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&Product{}, &ProductVariant{}, &StockAdjustment{}, &CartItem{},
		&Coupon{}, &CouponRedemption{},
		&PendingPayment{}, &Order{}, &OrderItem{},
		&User{}, &UserAddress{},
	}
}
