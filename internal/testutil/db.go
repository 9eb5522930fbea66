// Package testutil 各包测试共用的数据库与数据准备
package testutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/storefront/internal/model"
)

// NewDB 打开已迁移全部表的内存 SQLite；只用一个连接，内存库才不会丢且写入串行
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Dec 解析金额字面量，格式错误直接 panic
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func DecPtr(s string) *decimal.Decimal {
	d := Dec(s)
	return &d
}

func IntPtr(n int) *int { return &n }

func UintPtr(n uint) *uint { return &n }

// SeedProduct 创建一个商品和它唯一的规格
func SeedProduct(t testing.TB, db *gorm.DB, name, price string, stock int) (*model.Product, *model.ProductVariant) {
	t.Helper()
	p := &model.Product{Name: name, Slug: name, Price: Dec(price), Active: true}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	v := &model.ProductVariant{ProductID: p.ID, SKU: name + "-M-BLK", Size: "M", Color: "Black", Stock: stock}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return p, v
}

// SeedCartLine 往 session 购物车放入 qty 件规格 v
func SeedCartLine(t testing.TB, db *gorm.DB, sessionID string, v *model.ProductVariant, qty int) {
	t.Helper()
	item := &model.CartItem{SessionID: sessionID, ProductID: v.ProductID, VariantID: &v.ID, Quantity: qty}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
}
