package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CountLedgerItem is one (product, location) line of a session. Each count
// slot is written at most once.
type CountLedgerItem struct {
	ID                  int                 `gorm:"primary_key" json:"id"`
	BusinessId          string              `gorm:"index;not null" json:"business_id"`
	CountingSessionId   int                 `gorm:"uniqueIndex:idx_count_ledger_item_key;not null" json:"counting_session_id"`
	ProductId           int                 `gorm:"uniqueIndex:idx_count_ledger_item_key;not null" json:"product_id"`
	WarehouseId         int                 `gorm:"uniqueIndex:idx_count_ledger_item_key;not null" json:"warehouse_id"`
	TheoreticalQty      decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"theoretical_qty"`
	Count1Qty           decimal.NullDecimal `gorm:"column:count_1_qty;type:decimal(20,4)" json:"count_1_qty"`
	Count1At            *time.Time          `gorm:"column:count_1_at" json:"count_1_at"`
	Count1By            *int                `gorm:"column:count_1_by" json:"count_1_by"`
	Count2Qty           decimal.NullDecimal `gorm:"column:count_2_qty;type:decimal(20,4)" json:"count_2_qty"`
	Count2At            *time.Time          `gorm:"column:count_2_at" json:"count_2_at"`
	Count2By            *int                `gorm:"column:count_2_by" json:"count_2_by"`
	Count3Qty           decimal.NullDecimal `gorm:"column:count_3_qty;type:decimal(20,4)" json:"count_3_qty"`
	Count3At            *time.Time          `gorm:"column:count_3_at" json:"count_3_at"`
	Count3By            *int                `gorm:"column:count_3_by" json:"count_3_by"`
	FinalQty            decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"final_qty"`
	ResolutionMethod    ResolutionMethod    `gorm:"size:20;index;not null" json:"resolution_method"`
	IsFlagged           bool                `gorm:"not null" json:"is_flagged"`
	FlagReason          FlagReason          `gorm:"size:30;not null" json:"flag_reason"`
	ThirdCountRequested bool                `gorm:"not null" json:"third_count_requested"`
	IsUnexpected        bool                `gorm:"not null" json:"is_unexpected"`
	Notes               string              `gorm:"type:text" json:"notes"`
	OverriddenBy        *int                `json:"overridden_by"`
	OverriddenAt        *time.Time          `json:"overridden_at"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func newCountLedgerItem(session *CountingSession, warehouseId int, productId int, theoretical decimal.Decimal) *CountLedgerItem {
	return &CountLedgerItem{
		BusinessId:        session.BusinessId,
		CountingSessionId: session.ID,
		ProductId:         productId,
		WarehouseId:       warehouseId,
		TheoreticalQty:    theoretical,
		ResolutionMethod:  ResolutionMethodPending,
		FlagReason:        FlagReasonNone,
	}
}

func slotQtyColumn(n CountNumber) string { return fmt.Sprintf("count_%d_qty", n) }
func slotAtColumn(n CountNumber) string  { return fmt.Sprintf("count_%d_at", n) }
func slotByColumn(n CountNumber) string  { return fmt.Sprintf("count_%d_by", n) }

// CountFor returns the quantity recorded in slot n.
func (item *CountLedgerItem) CountFor(n CountNumber) decimal.NullDecimal {
	switch n {
	case CountNumberFirst:
		return item.Count1Qty
	case CountNumberSecond:
		return item.Count2Qty
	case CountNumberThird:
		return item.Count3Qty
	}
	return decimal.NullDecimal{}
}

func (item *CountLedgerItem) countedAt(n CountNumber) *time.Time {
	switch n {
	case CountNumberFirst:
		return item.Count1At
	case CountNumberSecond:
		return item.Count2At
	case CountNumberThird:
		return item.Count3At
	}
	return nil
}

func (item *CountLedgerItem) setCount(n CountNumber, qty decimal.Decimal, at time.Time, userId int) {
	v := decimal.NewNullDecimal(qty)
	switch n {
	case CountNumberFirst:
		item.Count1Qty, item.Count1At, item.Count1By = v, &at, &userId
	case CountNumberSecond:
		item.Count2Qty, item.Count2At, item.Count2By = v, &at, &userId
	case CountNumberThird:
		item.Count3Qty, item.Count3At, item.Count3By = v, &at, &userId
	}
}

func (item *CountLedgerItem) IsResolved() bool {
	return item.ResolutionMethod != ResolutionMethodPending
}

func (item *CountLedgerItem) resolutionInput(session *CountingSession) CountInput {
	return CountInput{
		Theoretical:    item.TheoreticalQty,
		Count1:         item.Count1Qty,
		Count2:         item.Count2Qty,
		Count3:         item.Count3Qty,
		RequiresCount2: session.RequiresCount2,
	}
}

// AdjustmentReference is the stock ledger reference the item commits under.
func (item *CountLedgerItem) AdjustmentReference() string {
	return CountAdjustmentReferencePrefix(item.CountingSessionId) + strconv.Itoa(item.ID)
}

func CountAdjustmentReferencePrefix(sessionId int) string {
	return fmt.Sprintf("COUNT-%d-", sessionId)
}

// resolveItem re-runs the resolution engine and stores the verdict.
// A manual override is never replaced; it returns nil then.
func resolveItem(ctx context.Context, tx *gorm.DB, session *CountingSession, item *CountLedgerItem) (*Resolution, error) {
	if item.ResolutionMethod == ResolutionMethodManualOverride {
		return nil, nil
	}
	r := ResolveCounts(item.resolutionInput(session), session.Thresholds())
	if err := tx.WithContext(ctx).Model(&CountLedgerItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"final_qty":         r.FinalQty,
			"resolution_method": r.Method,
			"is_flagged":        r.IsFlagged,
			"flag_reason":       r.FlagReason,
		}).Error; err != nil {
		return nil, err
	}
	item.FinalQty = r.FinalQty
	item.ResolutionMethod = r.Method
	item.IsFlagged = r.IsFlagged
	item.FlagReason = r.FlagReason
	return &r, nil
}

func loadCountLedgerItem(ctx context.Context, tx *gorm.DB, businessId string, sessionId int, itemId int) (*CountLedgerItem, error) {
	item, err := utils.FetchModel[CountLedgerItem](ctx, tx, businessId, itemId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, notFound("count ledger item")
		}
		return nil, err
	}
	if item.CountingSessionId != sessionId {
		return nil, notFound("count ledger item")
	}
	return item, nil
}

// ListCountLedgerItems returns every item of the session in id order.
func ListCountLedgerItems(ctx context.Context, db *gorm.DB, businessId string, sessionId int) ([]*CountLedgerItem, error) {
	return utils.FetchModelsWhere[CountLedgerItem](ctx, db, businessId, "counting_session_id = ?", sessionId)
}

// submissionSlot finds the slot the actor holds on the session. Only holders
// of an assignment may submit, whatever its status.
func submissionSlot(ctx context.Context, tx *gorm.DB, actor Actor, session *CountingSession) (*CountAssignment, error) {
	if actor.IsAdmin() {
		return nil, authorizationDenied("counts are submitted by assigned counters")
	}
	assignments, err := getSessionAssignments(ctx, tx, actor.BusinessId, session.ID)
	if err != nil {
		return nil, err
	}
	assignment, ok := assignmentOf(assignments, actor.UserId)
	if !ok {
		return nil, authorizationDenied("no assignment on this counting session")
	}
	if err := session.EnsureOpen(); err != nil {
		return nil, err
	}
	return assignment, nil
}

type submitResult struct {
	countNumber CountNumber
	resolution  *Resolution
}

// submitSlot writes the actor's count into their slot, resolves the item and
// advances the session.
func submitSlot(ctx context.Context, tx *gorm.DB, actor Actor, session *CountingSession, assignment *CountAssignment, item *CountLedgerItem, qty decimal.Decimal) (*submitResult, error) {
	n := assignment.CountNumber
	if item.CountFor(n).Valid {
		return nil, slotAlreadyFilled(item.ID, n)
	}
	if !assignment.Status.IsOpen() || !session.admitsSlot(n) {
		return nil, invalidState("count %d is not open while session is %s", n, session.Status)
	}
	if n == CountNumberThird && !item.ThirdCountRequested {
		return nil, invalidState("item %d was not sent to a third count", item.ID)
	}

	now := time.Now().UTC()
	res := tx.WithContext(ctx).Model(&CountLedgerItem{}).
		Where(fmt.Sprintf("id = ? AND %s IS NULL", slotQtyColumn(n)), item.ID).
		Updates(map[string]interface{}{
			slotQtyColumn(n): qty,
			slotAtColumn(n):  now,
			slotByColumn(n):  actor.UserId,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, slotAlreadyFilled(item.ID, n)
	}
	item.setCount(n, qty, now, actor.UserId)

	r, err := resolveItem(ctx, tx, session, item)
	if err != nil {
		return nil, err
	}
	if err := startAssignment(ctx, tx, assignment.ID); err != nil {
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), actor, HistoryActionCount, item.ID, HistoryReferenceCountLedgerItem,
		nil, map[string]interface{}{"count_number": n, "qty": qty},
		fmt.Sprintf("Count %d recorded.", n)); err != nil {
		return nil, err
	}
	if err := advanceCountingSession(ctx, tx, actor, session); err != nil {
		return nil, err
	}
	return &submitResult{countNumber: n, resolution: r}, nil
}

func recordSubmitMetrics(result *submitResult, err error) {
	if err != nil {
		if ce, ok := AsCountingError(err); ok {
			config.CountSubmissionRejected.WithLabelValues(string(ce.Code)).Inc()
		}
		return
	}
	config.CountsSubmitted.WithLabelValues(strconv.Itoa(int(result.countNumber))).Inc()
	if r := result.resolution; r != nil {
		if r.IsResolved() {
			config.ItemsResolved.WithLabelValues(string(r.Method)).Inc()
		}
		if r.IsFlagged {
			config.ItemsFlagged.WithLabelValues(string(r.FlagReason)).Inc()
		}
	}
}

// SubmitCount records the counter's quantity for one item in the slot they
// are assigned to. The returned view is blind.
func SubmitCount(ctx context.Context, actor Actor, sessionId int, itemId int, qty decimal.Decimal) (*CounterItemView, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if qty.IsNegative() {
		err := validationFailed("quantity cannot be negative")
		recordSubmitMetrics(nil, err)
		return nil, err
	}

	db := config.GetDB()
	var (
		result *submitResult
		view   *CounterItemView
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := LockCountingSession(ctx, tx, actor, sessionId)
		if err != nil {
			return err
		}
		assignment, err := submissionSlot(ctx, tx, actor, session)
		if err != nil {
			return err
		}
		item, err := loadCountLedgerItem(ctx, tx, actor.BusinessId, session.ID, itemId)
		if err != nil {
			return err
		}
		if result, err = submitSlot(ctx, tx, actor, session, assignment, item, qty); err != nil {
			return err
		}
		infos, err := GetProductInfos(ctx, tx, actor.BusinessId, []int{item.ProductId})
		if err != nil {
			return err
		}
		view = newCounterItemView(session, item, assignment.CountNumber, infos[item.ProductId])
		return nil
	})
	recordSubmitMetrics(result, err)
	if err != nil {
		if _, ok := AsCountingError(err); !ok {
			config.LogError(config.GetLogger(), "countLedgerItem.go", "SubmitCount", "submit count", map[string]int{"session_id": sessionId, "item_id": itemId}, err)
		}
		return nil, err
	}
	return view, nil
}

type UnexpectedCountInput struct {
	Barcode     string          `json:"barcode" validate:"required,max=100"`
	WarehouseId int             `json:"warehouse_id" validate:"required,gt=0"`
	Qty         *decimal.Decimal `json:"qty"`
}

// SubmitUnexpectedCount records a count for a product found at a location in
// scope that was not seeded. The new item starts with a theoretical
// quantity of zero. When the product is already on the session the count is
// recorded against that item.
func SubmitUnexpectedCount(ctx context.Context, actor Actor, sessionId int, input *UnexpectedCountInput) (*CounterItemView, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, validationFailed("input is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed("%s", formatValidationErrors(err))
	}
	if input.Qty == nil {
		err := validationFailed("qty is required")
		recordSubmitMetrics(nil, err)
		return nil, err
	}
	if input.Qty.IsNegative() {
		err := validationFailed("quantity cannot be negative")
		recordSubmitMetrics(nil, err)
		return nil, err
	}

	db := config.GetDB()
	var (
		result *submitResult
		view   *CounterItemView
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := LockCountingSession(ctx, tx, actor, sessionId)
		if err != nil {
			return err
		}
		assignment, err := submissionSlot(ctx, tx, actor, session)
		if err != nil {
			return err
		}
		if !session.AllowUnexpectedItems {
			return validationFailed("counting session %d does not accept unexpected items", session.ID)
		}
		if session.Status != CountingSessionStatusCount1InProgress {
			return invalidState("unexpected items are recorded during the first count only")
		}
		if !session.inWarehouseScope(input.WarehouseId) {
			return validationFailed("warehouse %d is not part of this count", input.WarehouseId)
		}
		product, err := GetProductByBarcode(ctx, tx, actor.BusinessId, input.Barcode)
		if err != nil {
			return err
		}
		if !session.inProductScope(product.ID) {
			return validationFailed("product %d is not part of this count", product.ID)
		}

		var item CountLedgerItem
		found := tx.WithContext(ctx).
			Where("business_id = ? AND counting_session_id = ? AND product_id = ? AND warehouse_id = ?",
				actor.BusinessId, session.ID, product.ID, input.WarehouseId).
			Limit(1).
			Find(&item)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected == 0 {
			item = *newCountLedgerItem(session, input.WarehouseId, product.ID, decimal.Zero)
			item.IsUnexpected = true
			if err := tx.WithContext(ctx).Create(&item).Error; err != nil {
				return err
			}
			if err := createHistory(tx.WithContext(ctx), actor, HistoryActionCreate, item.ID, HistoryReferenceCountLedgerItem,
				nil, &item, fmt.Sprintf("Unexpected item %s found at warehouse %d.", product.Sku, input.WarehouseId)); err != nil {
				return err
			}
		}

		if result, err = submitSlot(ctx, tx, actor, session, assignment, &item, *input.Qty); err != nil {
			return err
		}
		view = newCounterItemView(session, &item, assignment.CountNumber, product.Info())
		return nil
	})
	recordSubmitMetrics(result, err)
	if err != nil {
		if _, ok := AsCountingError(err); !ok {
			config.LogError(config.GetLogger(), "countLedgerItem.go", "SubmitUnexpectedCount", "submit unexpected count", input, err)
		}
		return nil, err
	}
	return view, nil
}

// OverrideCountLedgerItem sets an item's final quantity by hand. Notes are
// mandatory. Later counts never replace the override.
func OverrideCountLedgerItem(ctx context.Context, actor Actor, sessionId int, itemId int, qty decimal.Decimal, notes string) (*CountLedgerItem, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, validationFailed("notes are required for a manual override")
	}
	if qty.IsNegative() {
		return nil, validationFailed("quantity cannot be negative")
	}

	var item *CountLedgerItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := LockCountingSession(ctx, tx, actor, sessionId)
		if err != nil {
			return err
		}
		if err := session.EnsureOpen(); err != nil {
			return err
		}
		item, err = loadCountLedgerItem(ctx, tx, actor.BusinessId, session.ID, itemId)
		if err != nil {
			return err
		}
		before := *item

		v := ClassifyVariance(item.TheoreticalQty, qty, session.Thresholds())
		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Model(&CountLedgerItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"final_qty":         qty,
				"resolution_method": ResolutionMethodManualOverride,
				"is_flagged":        v.Reason != FlagReasonNone,
				"flag_reason":       v.Reason,
				"notes":             notes,
				"overridden_by":     actor.UserId,
				"overridden_at":     now,
			}).Error; err != nil {
			return err
		}
		item.FinalQty = decimal.NewNullDecimal(qty)
		item.ResolutionMethod = ResolutionMethodManualOverride
		item.IsFlagged = v.Reason != FlagReasonNone
		item.FlagReason = v.Reason
		item.Notes = notes
		item.OverriddenBy = &actor.UserId
		item.OverriddenAt = &now

		if err := createHistory(tx.WithContext(ctx), actor, HistoryActionOverride, item.ID, HistoryReferenceCountLedgerItem,
			&before, item, fmt.Sprintf("Final quantity overridden to %s. %s", qty.String(), notes)); err != nil {
			return err
		}
		return advanceCountingSession(ctx, tx, actor, session)
	})
	if err != nil {
		if _, ok := AsCountingError(err); !ok {
			config.LogError(config.GetLogger(), "countLedgerItem.go", "OverrideCountLedgerItem", "override item", map[string]int{"session_id": sessionId, "item_id": itemId}, err)
		}
		return nil, err
	}
	config.ItemsResolved.WithLabelValues(string(ResolutionMethodManualOverride)).Inc()
	if item.IsFlagged {
		config.ItemsFlagged.WithLabelValues(string(item.FlagReason)).Inc()
	}
	return item, nil
}
