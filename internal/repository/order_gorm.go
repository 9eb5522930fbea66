package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/model"
)

// GormOrderRepository 基于 gorm 的订单仓储实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: tx}
}

// Create 创建订单
func (r *GormOrderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// CreateItems 批量写入订单行
func (r *GormOrderRepository) CreateItems(ctx context.Context, items []*model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if it.OrderID == 0 {
			return fmt.Errorf("order item for product %d has no parent order", it.ProductID)
		}
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

// GetByOrderNumber 根据订单号查询订单
func (r *GormOrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&order).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &order, nil
}

// ListItems 查询订单行
func (r *GormOrderRepository) ListItems(ctx context.Context, orderID uint) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&items).Error
	return items, err
}
