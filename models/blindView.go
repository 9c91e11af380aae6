package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccessLevel string

const (
	AccessLevelFullView  AccessLevel = "FullView"
	AccessLevelBlindView AccessLevel = "BlindView"
	AccessLevelDenied    AccessLevel = "Denied"
)

// CanRead decides what the actor may see of a session. It depends only on
// the actor's role and the session's assignments.
func CanRead(actor Actor, session *CountingSession, assignments []CountAssignment) AccessLevel {
	if session == nil || actor.validate() != nil || session.BusinessId != actor.BusinessId {
		return AccessLevelDenied
	}
	if actor.IsAdmin() {
		return AccessLevelFullView
	}
	for _, a := range assignments {
		if a.CountingSessionId == session.ID && a.UserId == actor.UserId && a.Status.IsOpen() {
			return AccessLevelBlindView
		}
	}
	return AccessLevelDenied
}

// DisclosedCount is an earlier slot's count shown under the Sequential
// disclosure policy.
type DisclosedCount struct {
	CountNumber CountNumber     `json:"count_number"`
	Qty         decimal.Decimal `json:"qty"`
}

// CounterItemView is everything a counter may see of an item. It has no
// field for the system quantity, other counters' identities, or the outcome.
type CounterItemView struct {
	ItemId            int                 `json:"item_id"`
	CountingSessionId int                 `json:"counting_session_id"`
	WarehouseId       int                 `json:"warehouse_id"`
	Product           ProductInfo         `json:"product"`
	CountNumber       CountNumber         `json:"count_number"`
	MyCount           decimal.NullDecimal `json:"my_count"`
	CountedAt         *time.Time          `json:"counted_at"`
	IsUnexpected      bool                `json:"is_unexpected"`
	PreviousCounts    []DisclosedCount    `json:"previous_counts,omitempty"`
}

func newCounterItemView(session *CountingSession, item *CountLedgerItem, slot CountNumber, info ProductInfo) *CounterItemView {
	view := &CounterItemView{
		ItemId:            item.ID,
		CountingSessionId: item.CountingSessionId,
		WarehouseId:       item.WarehouseId,
		Product:           info,
		CountNumber:       slot,
		MyCount:           item.CountFor(slot),
		CountedAt:         item.countedAt(slot),
		IsUnexpected:      item.IsUnexpected,
	}
	if session.ExecutionMode == ExecutionModeSequential && session.DisclosePreviousCounts {
		for n := CountNumberFirst; n < slot; n++ {
			if c := item.CountFor(n); c.Valid {
				view.PreviousCounts = append(view.PreviousCounts, DisclosedCount{CountNumber: n, Qty: c.Decimal})
			}
		}
	}
	return view
}

// CounterTask is one open assignment on the counter's task list.
type CounterTask struct {
	CountingSessionId int                   `json:"counting_session_id"`
	ReferenceNumber   string                `json:"reference_number"`
	SessionStatus     CountingSessionStatus `json:"session_status"`
	ExecutionMode     ExecutionMode         `json:"execution_mode"`
	WarehouseIds      []int                 `json:"warehouse_ids"`
	CountNumber       CountNumber           `json:"count_number"`
	AssignmentStatus  CountAssignmentStatus `json:"assignment_status"`
	CanSubmit         bool                  `json:"can_submit"`
	TotalItems        int64                 `json:"total_items"`
	CountedItems      int64                 `json:"counted_items"`
}

// counterScope resolves the session and the slot through which a counter
// reads it. Anything but BlindView is an authorization failure.
func counterScope(ctx context.Context, db *gorm.DB, actor Actor, sessionId int) (*CountingSession, *CountAssignment, error) {
	if err := actor.validate(); err != nil {
		return nil, nil, err
	}
	if actor.IsAdmin() {
		return nil, nil, authorizationDenied("counter views require a count assignment")
	}
	session, err := loadCountingSession(ctx, db, actor, sessionId)
	if err != nil {
		return nil, nil, err
	}
	assignments, err := getSessionAssignments(ctx, db, actor.BusinessId, session.ID)
	if err != nil {
		return nil, nil, err
	}
	if CanRead(actor, session, assignments) != AccessLevelBlindView {
		return nil, nil, authorizationDenied("no open assignment on this counting session")
	}
	assignment, _ := openAssignmentOf(assignments, actor.UserId)
	return session, assignment, nil
}

// slotItems limits a query to the items a slot has to count.
func slotItems(db *gorm.DB, session *CountingSession, slot CountNumber) *gorm.DB {
	q := db.Where("business_id = ? AND counting_session_id = ?", session.BusinessId, session.ID)
	if slot == CountNumberThird {
		q = q.Where("third_count_requested = ?", true)
	}
	return q
}

// GetCounterTasks lists the counter's open assignments with progress.
func GetCounterTasks(ctx context.Context, actor Actor) ([]CounterTask, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	db := config.GetDB()
	assignments, err := GetOpenAssignments(ctx, db, actor)
	if err != nil {
		return nil, err
	}
	tasks := make([]CounterTask, 0, len(assignments))
	for _, a := range assignments {
		session, err := loadCountingSession(ctx, db, actor, a.CountingSessionId)
		if err != nil {
			return nil, err
		}
		if session.IsFinalized() {
			continue
		}
		task := CounterTask{
			CountingSessionId: session.ID,
			ReferenceNumber:   session.ReferenceNumber,
			SessionStatus:     session.Status,
			ExecutionMode:     session.ExecutionMode,
			WarehouseIds:      session.WarehouseIds,
			CountNumber:       a.CountNumber,
			AssignmentStatus:  a.Status,
			CanSubmit:         session.admitsSlot(a.CountNumber),
		}
		if err := slotItems(db.WithContext(ctx).Model(&CountLedgerItem{}), session, a.CountNumber).
			Count(&task.TotalItems).Error; err != nil {
			return nil, err
		}
		if err := slotItems(db.WithContext(ctx).Model(&CountLedgerItem{}), session, a.CountNumber).
			Where(slotQtyColumn(a.CountNumber) + " IS NOT NULL").
			Count(&task.CountedItems).Error; err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// GetItemsToCount lists the items of the counter's slot, optionally only the
// ones they have not counted yet.
func GetItemsToCount(ctx context.Context, actor Actor, sessionId int, onlyUncounted bool) ([]*CounterItemView, error) {
	db := config.GetDB()
	session, assignment, err := counterScope(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	q := slotItems(db.WithContext(ctx), session, assignment.CountNumber)
	if onlyUncounted {
		q = q.Where(slotQtyColumn(assignment.CountNumber) + " IS NULL")
	}
	var items []*CountLedgerItem
	if err := q.Order("warehouse_id, id").Find(&items).Error; err != nil {
		return nil, err
	}

	productIds := make([]int, 0, len(items))
	for _, item := range items {
		productIds = append(productIds, item.ProductId)
	}
	infos, err := GetProductInfos(ctx, db, actor.BusinessId, productIds)
	if err != nil {
		return nil, err
	}
	views := make([]*CounterItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newCounterItemView(session, item, assignment.CountNumber, infos[item.ProductId]))
	}
	return views, nil
}

// GetCounterItem returns the blind view of one item.
func GetCounterItem(ctx context.Context, actor Actor, sessionId int, itemId int) (*CounterItemView, error) {
	db := config.GetDB()
	session, assignment, err := counterScope(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	item, err := loadCountLedgerItem(ctx, db, actor.BusinessId, session.ID, itemId)
	if err != nil {
		return nil, err
	}
	if assignment.CountNumber == CountNumberThird && !item.ThirdCountRequested {
		return nil, notFound("count ledger item")
	}
	infos, err := GetProductInfos(ctx, db, actor.BusinessId, []int{item.ProductId})
	if err != nil {
		return nil, err
	}
	return newCounterItemView(session, item, assignment.CountNumber, infos[item.ProductId]), nil
}

// LookupItemByBarcode finds the session's item for a scanned barcode at a
// location.
func LookupItemByBarcode(ctx context.Context, actor Actor, sessionId int, barcode string, warehouseId int) (*CounterItemView, error) {
	db := config.GetDB()
	session, assignment, err := counterScope(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	if !session.inWarehouseScope(warehouseId) {
		return nil, validationFailed("warehouse %d is not part of this count", warehouseId)
	}
	product, err := GetProductByBarcode(ctx, db, actor.BusinessId, barcode)
	if err != nil {
		return nil, err
	}
	var item CountLedgerItem
	res := slotItems(db.WithContext(ctx), session, assignment.CountNumber).
		Where("product_id = ? AND warehouse_id = ?", product.ID, warehouseId).
		Limit(1).
		Find(&item)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, notFound("count ledger item")
	}
	return newCounterItemView(session, &item, assignment.CountNumber, product.Info()), nil
}

// ReconciliationItemView is the administrator's full view of an item.
type ReconciliationItemView struct {
	ItemId              int                 `json:"item_id"`
	WarehouseId         int                 `json:"warehouse_id"`
	Product             ProductInfo         `json:"product"`
	TheoreticalQty      decimal.Decimal     `json:"theoretical_qty"`
	Count1Qty           decimal.NullDecimal `json:"count_1_qty"`
	Count1By            *int                `json:"count_1_by"`
	Count2Qty           decimal.NullDecimal `json:"count_2_qty"`
	Count2By            *int                `json:"count_2_by"`
	Count3Qty           decimal.NullDecimal `json:"count_3_qty"`
	Count3By            *int                `json:"count_3_by"`
	FinalQty            decimal.NullDecimal `json:"final_qty"`
	VarianceQty         decimal.NullDecimal `json:"variance_qty"`
	VariancePercent     decimal.NullDecimal `json:"variance_percent"`
	ResolutionMethod    ResolutionMethod    `json:"resolution_method"`
	IsFlagged           bool                `json:"is_flagged"`
	FlagReason          FlagReason          `json:"flag_reason"`
	ThirdCountRequested bool                `json:"third_count_requested"`
	IsUnexpected        bool                `json:"is_unexpected"`
	Notes               string              `json:"notes"`
	OverriddenBy        *int                `json:"overridden_by"`
}

func newReconciliationItemView(session *CountingSession, item *CountLedgerItem, info ProductInfo) ReconciliationItemView {
	view := ReconciliationItemView{
		ItemId:              item.ID,
		WarehouseId:         item.WarehouseId,
		Product:             info,
		TheoreticalQty:      item.TheoreticalQty,
		Count1Qty:           item.Count1Qty,
		Count1By:            item.Count1By,
		Count2Qty:           item.Count2Qty,
		Count2By:            item.Count2By,
		Count3Qty:           item.Count3Qty,
		Count3By:            item.Count3By,
		FinalQty:            item.FinalQty,
		ResolutionMethod:    item.ResolutionMethod,
		IsFlagged:           item.IsFlagged,
		FlagReason:          item.FlagReason,
		ThirdCountRequested: item.ThirdCountRequested,
		IsUnexpected:        item.IsUnexpected,
		Notes:               item.Notes,
		OverriddenBy:        item.OverriddenBy,
	}
	if item.FinalQty.Valid {
		v := ClassifyVariance(item.TheoreticalQty, item.FinalQty.Decimal, session.Thresholds())
		view.VarianceQty = decimal.NewNullDecimal(v.Qty)
		view.VariancePercent = v.Percent
	}
	return view
}

type Reconciliation struct {
	Session *CountingSession         `json:"session"`
	Items   []ReconciliationItemView `json:"items"`
}

func adminScope(ctx context.Context, db *gorm.DB, actor Actor, sessionId int) (*CountingSession, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	session, err := loadCountingSession(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	if CanRead(actor, session, nil) != AccessLevelFullView {
		return nil, authorizationDenied("full view requires an administrator")
	}
	return session, nil
}

// GetReconciliation returns the full side-by-side view of every item.
func GetReconciliation(ctx context.Context, actor Actor, sessionId int) (*Reconciliation, error) {
	db := config.GetDB()
	session, err := adminScope(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	items, err := ListCountLedgerItems(ctx, db, actor.BusinessId, session.ID)
	if err != nil {
		return nil, err
	}
	productIds := make([]int, 0, len(items))
	for _, item := range items {
		productIds = append(productIds, item.ProductId)
	}
	infos, err := GetProductInfos(ctx, db, actor.BusinessId, productIds)
	if err != nil {
		return nil, err
	}
	rec := &Reconciliation{Session: session, Items: make([]ReconciliationItemView, 0, len(items))}
	for _, item := range items {
		rec.Items = append(rec.Items, newReconciliationItemView(session, item, infos[item.ProductId]))
	}
	return rec, nil
}

type CountingSummary struct {
	CountingSessionId  int                      `json:"counting_session_id"`
	Status             CountingSessionStatus    `json:"status"`
	TotalItems         int                      `json:"total_items"`
	AutoResolved       int                      `json:"auto_resolved"`
	ManuallyOverridden int                      `json:"manually_overridden"`
	Pending            int                      `json:"pending"`
	Flagged            int                      `json:"flagged"`
	Critical           int                      `json:"critical"`
	NeedingAttention   int                      `json:"needing_attention"`
	Unexpected         int                      `json:"unexpected"`
	ByMethod           map[ResolutionMethod]int `json:"by_method"`
}

// SummarizeItems tallies items by outcome. Needing attention means
// unresolved or flagged.
func SummarizeItems(session *CountingSession, items []*CountLedgerItem) *CountingSummary {
	summary := newCountingSummary(session, len(items))
	for _, item := range items {
		summary.add(item.ResolutionMethod, item.IsFlagged, item.FlagReason, item.IsUnexpected)
	}
	return summary
}

// Summary tallies the reconciliation's lines the same way SummarizeItems does.
func (rec *Reconciliation) Summary() *CountingSummary {
	summary := newCountingSummary(rec.Session, len(rec.Items))
	for _, v := range rec.Items {
		summary.add(v.ResolutionMethod, v.IsFlagged, v.FlagReason, v.IsUnexpected)
	}
	return summary
}

func newCountingSummary(session *CountingSession, total int) *CountingSummary {
	return &CountingSummary{
		CountingSessionId: session.ID,
		Status:            session.Status,
		TotalItems:        total,
		ByMethod:          make(map[ResolutionMethod]int),
	}
}

func (summary *CountingSummary) add(method ResolutionMethod, flagged bool, reason FlagReason, unexpected bool) {
	summary.ByMethod[method]++
	switch {
	case method == ResolutionMethodPending:
		summary.Pending++
	case method == ResolutionMethodManualOverride:
		summary.ManuallyOverridden++
	case method.IsAutomatic():
		summary.AutoResolved++
	}
	if flagged {
		summary.Flagged++
	}
	if reason == FlagReasonCriticalVariance {
		summary.Critical++
	}
	if unexpected {
		summary.Unexpected++
	}
	if method == ResolutionMethodPending || flagged {
		summary.NeedingAttention++
	}
}

// GetCountingSummary returns the session's outcome tallies.
func GetCountingSummary(ctx context.Context, actor Actor, sessionId int) (*CountingSummary, error) {
	db := config.GetDB()
	session, err := adminScope(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	items, err := ListCountLedgerItems(ctx, db, actor.BusinessId, session.ID)
	if err != nil {
		return nil, err
	}
	return SummarizeItems(session, items), nil
}
