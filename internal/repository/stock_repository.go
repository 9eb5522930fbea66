package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/storefront/internal/model"
)

// StockRepository 库存扣减；必须在事务内调用以保证审计行与库存一致
type StockRepository interface {
	// DecrementForSale 扣减库存（下限为 0）并写入 sale 审计行
	DecrementForSale(ctx context.Context, variantID uint, qty int, orderNumber string) (*model.StockAdjustment, error)
	ListAdjustments(ctx context.Context, variantID uint) ([]*model.StockAdjustment, error)
	WithTx(tx *gorm.DB) StockRepository
}

type stockRepository struct{ db *gorm.DB }

func NewStockRepository(db *gorm.DB) StockRepository { return &stockRepository{db: db} }

func (r *stockRepository) WithTx(tx *gorm.DB) StockRepository { return &stockRepository{db: tx} }

func (r *stockRepository) DecrementForSale(ctx context.Context, variantID uint, qty int, orderNumber string) (*model.StockAdjustment, error) {
	db := r.db.WithContext(ctx)

	// 行锁：并发订单扣减同一规格时串行化（SQLite 方言会忽略 FOR UPDATE，由单写者保证）
	var v model.ProductVariant
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "stock").
		First(&v, variantID).Error; err != nil {
		return nil, fmt.Errorf("load variant %d: %w", variantID, err)
	}

	// 单条原子更新，不回写读到的旧值
	if err := db.Model(&model.ProductVariant{}).
		Where("id = ?", variantID).
		Update("stock", gorm.Expr("CASE WHEN stock > ? THEN stock - ? ELSE 0 END", qty, qty)).Error; err != nil {
		return nil, fmt.Errorf("decrement variant %d: %w", variantID, err)
	}

	newStock := v.Stock - qty
	if newStock < 0 {
		newStock = 0
	}
	adj := &model.StockAdjustment{
		VariantID:      variantID,
		PreviousStock:  v.Stock,
		NewStock:       newStock,
		Adjustment:     newStock - v.Stock,
		AdjustmentType: model.AdjustmentSale,
		Reason:         fmt.Sprintf("Order #%s", orderNumber),
		OrderNumber:    orderNumber,
	}
	if err := db.Create(adj).Error; err != nil {
		return nil, fmt.Errorf("record stock adjustment: %w", err)
	}
	return adj, nil
}

func (r *stockRepository) ListAdjustments(ctx context.Context, variantID uint) ([]*model.StockAdjustment, error) {
	var res []*model.StockAdjustment
	err := r.db.WithContext(ctx).Where("variant_id = ?", variantID).Order("id").Find(&res).Error
	return res, err
}
