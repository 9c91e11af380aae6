package utils

import (
	"context"

	"gorm.io/gorm"
)

// check if id exists within businessId, return ErrorRecordNotFound otherwise.
// db may be a transaction; callers inside a tx must pass it.
func ValidateResourceId[T any](ctx context.Context, db *gorm.DB, businessId string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, db, businessId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// check if ALL ids exist within businessId, return ErrorRecordNotFound otherwise.
func ValidateResourcesId[M any, ID comparable](ctx context.Context, db *gorm.DB, businessId string, ids []ID) error {
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return nil
	}

	count, err := ResourceCountWhere[M](ctx, db, businessId, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}
	return nil
}

// count records, using WHERE business_id = ? AND $condition
func ResourceCountWhere[T any](ctx context.Context, db *gorm.DB, businessId string, condition string, value ...interface{}) (int64, error) {
	var model T

	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	dbCtx = dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
