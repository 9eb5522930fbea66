package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/model"
)

// PendingPaymentRepository 待支付记录存储
type PendingPaymentRepository interface {
	Create(ctx context.Context, p *model.PendingPayment) error
	// GetByMerchantOid 不存在时返回 nil, nil
	GetByMerchantOid(ctx context.Context, oid string) (*model.PendingPayment, error)
	UpdateStatus(ctx context.Context, oid, status string) error
	// CompareAndSetStatus 仅当当前状态属于 from 时更新，返回是否命中
	CompareAndSetStatus(ctx context.Context, oid string, from []string, to, reason string) (bool, error)
	Delete(ctx context.Context, oid string) error
	// ListExpired 返回已过期且未终结的记录
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.PendingPayment, error)
	WithTx(tx *gorm.DB) PendingPaymentRepository
}

// OpenStatuses 尚可流转的状态
var OpenStatuses = []string{model.PaymentPending, model.PaymentTokenReceived}

type pendingPaymentRepository struct{ db *gorm.DB }

func NewPendingPaymentRepository(db *gorm.DB) PendingPaymentRepository {
	return &pendingPaymentRepository{db: db}
}

func (r *pendingPaymentRepository) WithTx(tx *gorm.DB) PendingPaymentRepository {
	return &pendingPaymentRepository{db: tx}
}

func (r *pendingPaymentRepository) Create(ctx context.Context, p *model.PendingPayment) error {
	if p.Status == "" {
		p.Status = model.PaymentPending
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *pendingPaymentRepository) GetByMerchantOid(ctx context.Context, oid string) (*model.PendingPayment, error) {
	var p model.PendingPayment
	if err := r.db.WithContext(ctx).Where("merchant_oid = ?", oid).First(&p).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &p, nil
}

func (r *pendingPaymentRepository) UpdateStatus(ctx context.Context, oid, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.PendingPayment{}).
		Where("merchant_oid = ?", oid).
		Update("status", status).Error
}

func (r *pendingPaymentRepository) CompareAndSetStatus(ctx context.Context, oid string, from []string, to, reason string) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now()}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	res := r.db.WithContext(ctx).
		Model(&model.PendingPayment{}).
		Where("merchant_oid = ? AND status IN ?", oid, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pendingPaymentRepository) Delete(ctx context.Context, oid string) error {
	return r.db.WithContext(ctx).Where("merchant_oid = ?", oid).Delete(&model.PendingPayment{}).Error
}

func (r *pendingPaymentRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.PendingPayment, error) {
	var res []*model.PendingPayment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", OpenStatuses, now).
		Order("expires_at").
		Limit(limit).
		Find(&res).Error
	return res, err
}
