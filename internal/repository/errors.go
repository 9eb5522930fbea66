package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrDuplicate 唯一约束冲突（幂等路径依赖它）
var ErrDuplicate = errors.New("duplicate record")

// IsDuplicateKey 兼容 TranslateError 与未翻译的驱动错误
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func notFoundAsNil(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
