package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/model"
)

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Create 创建订单；order_number 冲突时返回的错误满足 IsDuplicateKey
	Create(ctx context.Context, order *model.Order) error

	// CreateItems 批量写入订单行（父订单必须已存在）
	CreateItems(ctx context.Context, items []*model.OrderItem) error

	// GetByOrderNumber 根据订单号查询订单，不存在时返回 nil, nil
	GetByOrderNumber(ctx context.Context, orderNumber string) (*model.Order, error)

	// ListItems 查询订单行
	ListItems(ctx context.Context, orderID uint) ([]*model.OrderItem, error)

	WithTx(tx *gorm.DB) OrderRepository
}
