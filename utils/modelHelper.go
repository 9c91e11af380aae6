package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

/* DB fetching */

// fetch model from db within businessId
// (may return ErrorRecordNotFound)
func FetchModel[T any](ctx context.Context, db *gorm.DB, businessId string, id int, associations ...string) (*T, error) {
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// fetch all models matching condition within businessId
func FetchModelsWhere[T any](ctx context.Context, db *gorm.DB, businessId string, condition string, value ...interface{}) ([]*T, error) {
	var results []*T
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where(condition, value...).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
