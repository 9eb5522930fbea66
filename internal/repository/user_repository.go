package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/model"
)

type UserRepository interface {
	// GetByEmail 不存在时返回 nil, nil
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// CreateWithAddress 同一事务内创建用户与默认地址
	CreateWithAddress(ctx context.Context, user *model.User, addr *model.UserAddress) error
}

type userRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &u, nil
}

func (r *userRepository) CreateWithAddress(ctx context.Context, user *model.User, addr *model.UserAddress) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if addr == nil {
			return nil
		}
		addr.UserID = user.ID
		return tx.Create(addr).Error
	})
}
