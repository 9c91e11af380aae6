package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrStockTargetNotFound = errors.New("product/location not found")
)

// StockBalance is the live on-hand quantity per (warehouse, product).
type StockBalance struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;uniqueIndex:idx_stock_balance_key;not null" json:"business_id"`
	WarehouseId int             `gorm:"uniqueIndex:idx_stock_balance_key;not null" json:"warehouse_id"`
	ProductId   int             `gorm:"uniqueIndex:idx_stock_balance_key;not null" json:"product_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type StockMovementType string

const (
	StockMovementIn  StockMovementType = "in"
	StockMovementOut StockMovementType = "out"
)

// StockMovement logs every receive/issue (a transfer writes one of each).
type StockMovement struct {
	ID          int               `gorm:"primary_key" json:"id"`
	BusinessId  string            `gorm:"index;not null" json:"business_id"`
	WarehouseId int               `gorm:"index;not null" json:"warehouse_id"`
	ProductId   int               `gorm:"index;not null" json:"product_id"`
	Qty         decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"qty"`
	Type        StockMovementType `gorm:"size:10;not null" json:"type"`
	Note        string            `gorm:"size:255" json:"note"`
	ActorId     int               `gorm:"not null" json:"actor_id"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

type StockAdjustment struct {
	BusinessId      string
	ProductId       int
	WarehouseId     int
	NewQty          decimal.Decimal
	Reason          string
	ActorId         int
	ReferenceNumber string
}

type StockMovementInput struct {
	BusinessId  string
	ProductId   int
	WarehouseId int
	Qty         decimal.Decimal
	Note        string
	ActorId     int
}

type StockTransferInput struct {
	BusinessId      string
	ProductId       int
	FromWarehouseId int
	ToWarehouseId   int
	Qty             decimal.Decimal
	Note            string
	ActorId         int
}

// StockLedger is the stock collaborator the counting core needs. Every call
// takes the caller's transaction so finalize can commit all adjustments and
// the session status together.
type StockLedger interface {
	OnHand(ctx context.Context, tx *gorm.DB, businessId string, warehouseIds []int, productIds []int) ([]StockBalance, error)
	Adjust(ctx context.Context, tx *gorm.DB, adj StockAdjustment) (*InventoryAdjustment, error)
	Receive(ctx context.Context, tx *gorm.DB, in StockMovementInput) error
	Issue(ctx context.Context, tx *gorm.DB, in StockMovementInput) error
	Transfer(ctx context.Context, tx *gorm.DB, in StockTransferInput) error
}

// GormStockLedger keeps balances in stock_balances and writes an
// InventoryAdjustment document per adjust.
type GormStockLedger struct{}

func NewGormStockLedger() *GormStockLedger { return &GormStockLedger{} }

var _ StockLedger = (*GormStockLedger)(nil)

func (l *GormStockLedger) OnHand(ctx context.Context, tx *gorm.DB, businessId string, warehouseIds []int, productIds []int) ([]StockBalance, error) {
	q := tx.WithContext(ctx).Where("business_id = ?", businessId)
	if len(warehouseIds) > 0 {
		q = q.Where("warehouse_id IN ?", warehouseIds)
	}
	if len(productIds) > 0 {
		q = q.Where("product_id IN ?", productIds)
	}
	var balances []StockBalance
	if err := q.Order("warehouse_id, product_id").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

func (l *GormStockLedger) Adjust(ctx context.Context, tx *gorm.DB, adj StockAdjustment) (*InventoryAdjustment, error) {
	if adj.NewQty.IsNegative() {
		return nil, fmt.Errorf("adjusted quantity cannot be negative")
	}
	if strings.TrimSpace(adj.ReferenceNumber) == "" {
		return nil, fmt.Errorf("reference number is required")
	}
	if err := l.validateTarget(ctx, tx, adj.BusinessId, adj.WarehouseId, adj.ProductId); err != nil {
		return nil, err
	}

	// idempotent retry: the same reference was already applied
	if existing, found, err := findInventoryAdjustmentByReference(ctx, tx, adj.BusinessId, adj.ReferenceNumber); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	row, err := l.balanceRow(ctx, tx, adj.BusinessId, adj.WarehouseId, adj.ProductId)
	if err != nil {
		return nil, err
	}
	current := row.Qty
	if err := l.setBalance(ctx, tx, row, adj.NewQty); err != nil {
		return nil, err
	}

	document := InventoryAdjustment{
		BusinessId:      adj.BusinessId,
		ReferenceNumber: adj.ReferenceNumber,
		AdjustmentType:  InventoryAdjustmentTypeQuantity,
		AdjustmentDate:  time.Now().UTC(),
		WarehouseId:     adj.WarehouseId,
		CurrentStatus:   InventoryAdjustmentStatusAdjusted,
		Reason:          adj.Reason,
		CreatedBy:       adj.ActorId,
		Details: []InventoryAdjustmentDetail{{
			ProductId:   adj.ProductId,
			QtyBefore:   current,
			QtyAfter:    adj.NewQty,
			AdjustedQty: adj.NewQty.Sub(current),
		}},
	}
	if err := tx.WithContext(ctx).Create(&document).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, fmt.Errorf("adjustment %s applied concurrently: %w", adj.ReferenceNumber, err)
		}
		return nil, err
	}
	return &document, nil
}

func (l *GormStockLedger) Receive(ctx context.Context, tx *gorm.DB, in StockMovementInput) error {
	if !in.Qty.IsPositive() {
		return fmt.Errorf("qty must be > 0")
	}
	if err := l.validateTarget(ctx, tx, in.BusinessId, in.WarehouseId, in.ProductId); err != nil {
		return err
	}
	return l.move(ctx, tx, in, in.Qty, StockMovementIn)
}

func (l *GormStockLedger) Issue(ctx context.Context, tx *gorm.DB, in StockMovementInput) error {
	if !in.Qty.IsPositive() {
		return fmt.Errorf("qty must be > 0")
	}
	if err := l.validateTarget(ctx, tx, in.BusinessId, in.WarehouseId, in.ProductId); err != nil {
		return err
	}
	return l.move(ctx, tx, in, in.Qty.Neg(), StockMovementOut)
}

func (l *GormStockLedger) Transfer(ctx context.Context, tx *gorm.DB, in StockTransferInput) error {
	if in.FromWarehouseId == in.ToWarehouseId {
		return fmt.Errorf("source and destination warehouse must differ")
	}
	out := StockMovementInput{BusinessId: in.BusinessId, ProductId: in.ProductId, WarehouseId: in.FromWarehouseId, Qty: in.Qty, Note: in.Note, ActorId: in.ActorId}
	if err := l.Issue(ctx, tx, out); err != nil {
		return err
	}
	out.WarehouseId = in.ToWarehouseId
	return l.Receive(ctx, tx, out)
}

func (l *GormStockLedger) move(ctx context.Context, tx *gorm.DB, in StockMovementInput, delta decimal.Decimal, mtype StockMovementType) error {
	row, err := l.balanceRow(ctx, tx, in.BusinessId, in.WarehouseId, in.ProductId)
	if err != nil {
		return err
	}
	next := row.Qty.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: on hand %s, requested %s", ErrInsufficientStock, row.Qty.String(), delta.Neg().String())
	}
	if err := l.setBalance(ctx, tx, row, next); err != nil {
		return err
	}
	return tx.WithContext(ctx).Create(&StockMovement{
		BusinessId:  in.BusinessId,
		WarehouseId: in.WarehouseId,
		ProductId:   in.ProductId,
		Qty:         in.Qty,
		Type:        mtype,
		Note:        in.Note,
		ActorId:     in.ActorId,
	}).Error
}

func (l *GormStockLedger) validateTarget(ctx context.Context, tx *gorm.DB, businessId string, warehouseId int, productId int) error {
	if err := utils.ValidateResourceId[Warehouse](ctx, tx, businessId, warehouseId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return fmt.Errorf("%w: warehouse %d", ErrStockTargetNotFound, warehouseId)
		}
		return err
	}
	if err := utils.ValidateResourceId[Product](ctx, tx, businessId, productId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return fmt.Errorf("%w: product %d", ErrStockTargetNotFound, productId)
		}
		return err
	}
	return nil
}

// balanceRow returns the balance row, or an unsaved zero row (ID 0) when the
// pair has never held stock.
func (l *GormStockLedger) balanceRow(ctx context.Context, tx *gorm.DB, businessId string, warehouseId int, productId int) (*StockBalance, error) {
	var row StockBalance
	result := tx.WithContext(ctx).
		Where("business_id = ? AND warehouse_id = ? AND product_id = ?", businessId, warehouseId, productId).
		Limit(1).
		Find(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return &StockBalance{BusinessId: businessId, WarehouseId: warehouseId, ProductId: productId, Qty: decimal.Zero}, nil
	}
	return &row, nil
}

func (l *GormStockLedger) setBalance(ctx context.Context, tx *gorm.DB, row *StockBalance, qty decimal.Decimal) error {
	if row.ID == 0 {
		row.Qty = qty
		return tx.WithContext(ctx).Create(row).Error
	}
	return tx.WithContext(ctx).Model(row).Update("qty", qty).Error
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
