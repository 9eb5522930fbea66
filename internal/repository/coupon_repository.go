package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/model"
)

type CouponRepository interface {
	// GetByCode 大小写不敏感；不存在时返回 nil, nil
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	CountUserRedemptions(ctx context.Context, couponID, userID uint) (int64, error)
	CountRedemptions(ctx context.Context, couponID uint) (int64, error)
	// IncrementUsage 条件自增：仅当未达到 usage_limit 时成功
	IncrementUsage(ctx context.Context, couponID uint) (bool, error)
	CreateRedemption(ctx context.Context, r *model.CouponRedemption) error
	AddCommission(ctx context.Context, couponID uint, amount decimal.Decimal) error
	WithTx(tx *gorm.DB) CouponRepository
}

type couponRepository struct{ db *gorm.DB }

func NewCouponRepository(db *gorm.DB) CouponRepository { return &couponRepository{db: db} }

func (r *couponRepository) WithTx(tx *gorm.DB) CouponRepository { return &couponRepository{db: tx} }

// NormalizeCode 优惠码统一去空格并大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *couponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var c model.Coupon
	err := r.db.WithContext(ctx).Where("code = ?", NormalizeCode(code)).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *couponRepository) CountUserRedemptions(ctx context.Context, couponID, userID uint) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.CouponRedemption{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&cnt).Error
	return cnt, err
}

func (r *couponRepository) CountRedemptions(ctx context.Context, couponID uint) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.CouponRedemption{}).
		Where("coupon_id = ?", couponID).
		Count(&cnt).Error
	return cnt, err
}

func (r *couponRepository) IncrementUsage(ctx context.Context, couponID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Coupon{}).
		Where("id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)", couponID).
		Update("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *couponRepository) CreateRedemption(ctx context.Context, red *model.CouponRedemption) error {
	return r.db.WithContext(ctx).Create(red).Error
}

func (r *couponRepository) AddCommission(ctx context.Context, couponID uint, amount decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&model.Coupon{}).
		Where("id = ?", couponID).
		Update("commission_earned", gorm.Expr("commission_earned + ?", amount)).Error
}
