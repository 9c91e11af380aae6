package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"gorm.io/gorm"
)

// Product is the read-only product directory the counting core looks items up
// in. Catalog maintenance happens elsewhere; this service never writes it.
type Product struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Sku        string    `gorm:"size:100;not null" json:"sku"`
	Barcode    string    `gorm:"index;size:100;not null" json:"barcode"`
	Unit       string    `gorm:"size:20" json:"unit"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductInfo is the subset of a product shown on counting screens.
type ProductInfo struct {
	ProductId int    `json:"product_id"`
	Name      string `json:"name"`
	Sku       string `json:"sku"`
	Barcode   string `json:"barcode"`
	Unit      string `json:"unit"`
}

func (p Product) Info() ProductInfo {
	return ProductInfo{ProductId: p.ID, Name: p.Name, Sku: p.Sku, Barcode: p.Barcode, Unit: p.Unit}
}

const barcodeCacheTTL = 10 * time.Minute

func barcodeCacheKey(businessId string, barcode string) string {
	return fmt.Sprintf("Product:Barcode:%s:%s", businessId, barcode)
}

// GetProductByBarcode looks a product up by barcode (or SKU as fallback).
// Results are cached in redis when it is available.
func GetProductByBarcode(ctx context.Context, db *gorm.DB, businessId string, barcode string) (*Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, validationFailed("barcode is required")
	}

	var product Product
	key := barcodeCacheKey(businessId, barcode)
	if exists, err := config.GetRedisObject(ctx, key, &product); err == nil && exists {
		return &product, nil
	}

	err := db.WithContext(ctx).
		Where("business_id = ? AND (barcode = ? OR sku = ?)", businessId, barcode, barcode).
		Order("id").
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("product")
		}
		return nil, err
	}
	if err := config.SetRedisObject(ctx, key, &product, barcodeCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "product.go", "GetProductByBarcode", "cache product", key, err)
	}
	return &product, nil
}

// GetProductInfos returns directory info keyed by product id.
func GetProductInfos(ctx context.Context, db *gorm.DB, businessId string, productIds []int) (map[int]ProductInfo, error) {
	result := make(map[int]ProductInfo, len(productIds))
	if len(productIds) == 0 {
		return result, nil
	}
	var products []Product
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessId, productIds).
		Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p.Info()
	}
	return result, nil
}
