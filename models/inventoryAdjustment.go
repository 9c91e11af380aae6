package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InventoryAdjustmentType string

const (
	InventoryAdjustmentTypeQuantity InventoryAdjustmentType = "Quantity"
)

type InventoryAdjustmentStatus string

const (
	InventoryAdjustmentStatusDraft    InventoryAdjustmentStatus = "Draft"
	InventoryAdjustmentStatusAdjusted InventoryAdjustmentStatus = "Adjusted"
)

// InventoryAdjustment is the stock ledger's document for one `adjust` call.
// ReferenceNumber is unique per business and doubles as the idempotency key,
// so a retried adjust with the same reference never applies twice.
type InventoryAdjustment struct {
	ID              int                         `gorm:"primary_key" json:"id"`
	BusinessId      string                      `gorm:"index;uniqueIndex:idx_inventory_adjustment_reference;not null" json:"business_id"`
	ReferenceNumber string                      `gorm:"size:100;uniqueIndex:idx_inventory_adjustment_reference;not null" json:"reference_number"`
	AdjustmentType  InventoryAdjustmentType     `gorm:"size:20;not null" json:"adjustment_type"`
	AdjustmentDate  time.Time                   `gorm:"not null" json:"adjustment_date"`
	WarehouseId     int                         `gorm:"index;not null" json:"warehouse_id"`
	CurrentStatus   InventoryAdjustmentStatus   `gorm:"size:20;not null" json:"current_status"`
	Reason          string                      `gorm:"size:255;not null" json:"reason"`
	Details         []InventoryAdjustmentDetail `gorm:"foreignKey:InventoryAdjustmentId" json:"details"`
	CreatedBy       int                         `gorm:"not null" json:"created_by"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

type InventoryAdjustmentDetail struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	InventoryAdjustmentId int             `gorm:"index;not null" json:"inventory_adjustment_id"`
	ProductId             int             `gorm:"index;not null" json:"product_id"`
	QtyBefore             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_before"`
	QtyAfter              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_after"`
	AdjustedQty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"adjusted_qty"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func findInventoryAdjustmentByReference(ctx context.Context, tx *gorm.DB, businessId string, reference string) (*InventoryAdjustment, bool, error) {
	var adj InventoryAdjustment
	result := tx.WithContext(ctx).
		Preload("Details").
		Where("business_id = ? AND reference_number = ?", businessId, reference).
		Limit(1).
		Find(&adj)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}
	return &adj, true, nil
}

// GetInventoryAdjustmentsByPrefix lists adjustments whose reference starts with
// prefix, e.g. every adjustment a counting session committed.
func GetInventoryAdjustmentsByPrefix(ctx context.Context, db *gorm.DB, businessId string, prefix string) ([]*InventoryAdjustment, error) {
	var adjustments []*InventoryAdjustment
	err := db.WithContext(ctx).
		Preload("Details").
		Where("business_id = ? AND reference_number LIKE ?", businessId, prefix+"%").
		Order("id").
		Find(&adjustments).Error
	return adjustments, err
}
