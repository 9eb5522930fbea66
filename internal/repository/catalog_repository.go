package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/model"
)

// CatalogRepository 购物车与商品目录读取
type CatalogRepository interface {
	GetCartItems(ctx context.Context, sessionID string) ([]*model.CartItem, error)
	// GetProduct 不存在时返回 nil, nil
	GetProduct(ctx context.Context, id uint) (*model.Product, error)
	// GetProductVariant 不存在时返回 nil, nil
	GetProductVariant(ctx context.Context, id uint) (*model.ProductVariant, error)
	ClearCart(ctx context.Context, sessionID string) error
	WithTx(tx *gorm.DB) CatalogRepository
}

type catalogRepository struct{ db *gorm.DB }

func NewCatalogRepository(db *gorm.DB) CatalogRepository { return &catalogRepository{db: db} }

func (r *catalogRepository) WithTx(tx *gorm.DB) CatalogRepository { return &catalogRepository{db: tx} }

func (r *catalogRepository) GetCartItems(ctx context.Context, sessionID string) ([]*model.CartItem, error) {
	var items []*model.CartItem
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&items).Error
	return items, err
}

func (r *catalogRepository) GetProduct(ctx context.Context, id uint) (*model.Product, error) {
	var p model.Product
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *catalogRepository) GetProductVariant(ctx context.Context, id uint) (*model.ProductVariant, error) {
	var v model.ProductVariant
	if err := r.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *catalogRepository) ClearCart(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.CartItem{}).Error
}
