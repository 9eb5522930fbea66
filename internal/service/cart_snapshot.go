package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/pkg/logger"
)

// CartSnapshotReader 读取购物车并从商品目录重新解析权威价格
type CartSnapshotReader struct {
	catalog repository.CatalogRepository
}

func NewCartSnapshotReader(catalog repository.CatalogRepository) *CartSnapshotReader {
	return &CartSnapshotReader{catalog: catalog}
}

// Read 空购物车返回空切片；引用已删除商品的行直接跳过
func (r *CartSnapshotReader) Read(ctx context.Context, sessionID string) (model.CartLines, error) {
	items, err := r.catalog.GetCartItems(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	lines := make(model.CartLines, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}

		var variant *model.ProductVariant
		productID := it.ProductID
		if it.VariantID != nil {
			variant, err = r.catalog.GetProductVariant(ctx, *it.VariantID)
			if err != nil {
				return nil, fmt.Errorf("load variant %d: %w", *it.VariantID, err)
			}
			if variant == nil {
				logger.Debug("skip cart line with missing variant", zap.Uint("cart_item", it.ID))
				continue
			}
			// 以规格自身的商品引用为准，购物车上的 product_id 可能已过时
			productID = variant.ProductID
		}

		product, err := r.catalog.GetProduct(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("load product %d: %w", productID, err)
		}
		if product == nil {
			logger.Debug("skip cart line with missing product", zap.Uint("cart_item", it.ID))
			continue
		}

		line := model.CartLine{
			ProductID:   product.ID,
			Quantity:    it.Quantity,
			UnitPrice:   product.EffectivePrice(),
			ProductName: product.Name,
		}
		if variant != nil {
			id := variant.ID
			line.VariantID = &id
			line.VariantDescription = variant.Description()
			if variant.Price != nil && variant.Price.IsPositive() {
				line.UnitPrice = *variant.Price
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}
