package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CountingSession is one physical count over a set of locations.
type CountingSession struct {
	ID                      int                   `gorm:"primary_key" json:"id"`
	BusinessId              string                `gorm:"index;not null" json:"business_id"`
	ReferenceNumber         string                `gorm:"size:100" json:"reference_number"`
	WarehouseScope          string                `gorm:"column:warehouse_ids;size:1000;not null" json:"-"`
	ProductScope            string                `gorm:"column:product_ids;type:text" json:"-"`
	WarehouseIds            []int                 `gorm:"-" json:"warehouse_ids"`
	ProductIds              []int                 `gorm:"-" json:"product_ids,omitempty"`
	ExecutionMode           ExecutionMode         `gorm:"size:20;not null" json:"execution_mode"`
	RequiresCount2          bool                  `gorm:"column:requires_count_2;not null" json:"requires_count_2"`
	RequiresCount3          bool                  `gorm:"column:requires_count_3;not null" json:"requires_count_3"`
	AllowUnexpectedItems    bool                  `gorm:"not null" json:"allow_unexpected_items"`
	DisclosePreviousCounts  bool                  `gorm:"not null" json:"disclose_previous_counts"`
	Status                  CountingSessionStatus `gorm:"size:20;index;not null" json:"status"`
	Count1UserId            int                   `gorm:"column:count_1_user_id;not null" json:"count_1_user_id"`
	Count2UserId            *int                  `gorm:"column:count_2_user_id" json:"count_2_user_id"`
	Count3UserId            *int                  `gorm:"column:count_3_user_id" json:"count_3_user_id"`
	VarianceFlagPercent     decimal.Decimal       `gorm:"type:decimal(7,4);not null" json:"variance_flag_percent"`
	VarianceCriticalPercent decimal.Decimal       `gorm:"type:decimal(7,4);not null" json:"variance_critical_percent"`
	Notes                   string                `gorm:"type:text" json:"notes"`
	LockVersion             int                   `gorm:"not null;default:0" json:"-"`
	CreatedBy               int                   `gorm:"not null" json:"created_by"`
	FinalizedBy             *int                  `json:"finalized_by"`
	FinalizedAt             *time.Time            `json:"finalized_at"`
	CreatedAt               time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *CountingSession) AfterFind(tx *gorm.DB) (err error) {
	if s.WarehouseIds, err = utils.SplitInts(s.WarehouseScope); err != nil {
		return fmt.Errorf("counting session %d warehouse scope: %w", s.ID, err)
	}
	if s.ProductIds, err = utils.SplitInts(s.ProductScope); err != nil {
		return fmt.Errorf("counting session %d product scope: %w", s.ID, err)
	}
	return nil
}

func (s *CountingSession) IsFinalized() bool {
	return s.Status == CountingSessionStatusFinalized
}

// EnsureOpen fails with INVALID_STATE once the session is finalized.
func (s *CountingSession) EnsureOpen() error {
	if s.IsFinalized() {
		return invalidState("counting session %d is finalized", s.ID)
	}
	return nil
}

// EnsurePendingReview fails with INVALID_STATE unless every count stage is done.
func (s *CountingSession) EnsurePendingReview() error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	if s.Status != CountingSessionStatusPendingReview {
		return invalidState("counting session %d is %s, not %s", s.ID, s.Status, CountingSessionStatusPendingReview)
	}
	return nil
}

func (s *CountingSession) Thresholds() VarianceThresholds {
	return VarianceThresholds{FlagPercent: s.VarianceFlagPercent, CriticalPercent: s.VarianceCriticalPercent}
}

func (s *CountingSession) inWarehouseScope(warehouseId int) bool {
	for _, id := range s.WarehouseIds {
		if id == warehouseId {
			return true
		}
	}
	return false
}

func (s *CountingSession) inProductScope(productId int) bool {
	if len(s.ProductIds) == 0 {
		return true
	}
	for _, id := range s.ProductIds {
		if id == productId {
			return true
		}
	}
	return false
}

// admitsSlot reports whether the current status accepts submissions for slot n.
func (s *CountingSession) admitsSlot(n CountNumber) bool {
	switch n {
	case CountNumberFirst:
		return s.Status == CountingSessionStatusCount1InProgress
	case CountNumberSecond:
		if !s.RequiresCount2 {
			return false
		}
		return s.Status == CountingSessionStatusCount2InProgress ||
			(s.Status == CountingSessionStatusCount1InProgress && s.ExecutionMode == ExecutionModeParallel)
	case CountNumberThird:
		return s.Status == CountingSessionStatusCount3InProgress
	}
	return false
}

type NewCountingSession struct {
	ReferenceNumber        string        `json:"reference_number" validate:"omitempty,max=100"`
	WarehouseIds           []int         `json:"warehouse_ids" validate:"required,min=1,dive,gt=0"`
	ProductIds             []int         `json:"product_ids" validate:"omitempty,dive,gt=0"`
	ExecutionMode          ExecutionMode `json:"execution_mode" validate:"required"`
	RequiresCount2         bool          `json:"requires_count_2"`
	RequiresCount3         bool          `json:"requires_count_3"`
	AllowUnexpectedItems   bool          `json:"allow_unexpected_items"`
	DisclosePreviousCounts bool          `json:"disclose_previous_counts"`
	Count1UserId           int           `json:"count_1_user_id" validate:"required,gt=0"`
	Count2UserId           *int          `json:"count_2_user_id" validate:"omitempty,gt=0"`
	Count3UserId           *int          `json:"count_3_user_id" validate:"omitempty,gt=0"`
	Notes                  string        `json:"notes" validate:"omitempty,max=1000"`
}

func (input *NewCountingSession) validate(ctx context.Context, db *gorm.DB, businessId string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return validationFailed("%s", formatValidationErrors(err))
	}
	if !input.ExecutionMode.IsValid() {
		return validationFailed("invalid execution mode %q", input.ExecutionMode)
	}
	if input.RequiresCount3 && !input.RequiresCount2 {
		return validationFailed("a third count requires a second count")
	}
	if input.ExecutionMode == ExecutionModeParallel && !input.RequiresCount2 {
		return validationFailed("parallel execution needs a second count")
	}
	if input.RequiresCount2 && input.Count2UserId == nil {
		return validationFailed("count 2 user is required")
	}
	if !input.RequiresCount2 && input.Count2UserId != nil {
		return validationFailed("count 2 user given but count 2 is not required")
	}
	if !input.RequiresCount3 && input.Count3UserId != nil {
		return validationFailed("count 3 user given but count 3 is not required")
	}
	users := []int{input.Count1UserId}
	if input.Count2UserId != nil {
		users = append(users, *input.Count2UserId)
	}
	if input.Count3UserId != nil {
		users = append(users, *input.Count3UserId)
	}
	if len(utils.UniqueSlice(users)) != len(users) {
		return validationFailed("each count slot needs a different counter")
	}

	if err := utils.ValidateResourcesId[Warehouse](ctx, db, businessId, input.WarehouseIds); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return validationFailed("unknown warehouse in scope")
		}
		return err
	}
	if err := utils.ValidateResourcesId[Product](ctx, db, businessId, input.ProductIds); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return validationFailed("unknown product in scope")
		}
		return err
	}
	return nil
}

func formatValidationErrors(err error) string {
	fields := utils.ProcessValidationErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for field, msg := range fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// CreateCountingSession opens a session in Count1InProgress, snapshots the
// theoretical quantities of every in-scope (product, location) from the stock
// ledger and assigns the count slots.
func CreateCountingSession(ctx context.Context, actor Actor, input *NewCountingSession, ledger StockLedger) (*CountingSession, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, validationFailed("input is required")
	}
	db := config.GetDB()
	if err := input.validate(ctx, db, actor.BusinessId); err != nil {
		return nil, err
	}
	thresholds := DefaultVarianceThresholds()
	if err := thresholds.validate(); err != nil {
		return nil, err
	}

	session := CountingSession{
		BusinessId:              actor.BusinessId,
		ReferenceNumber:         strings.TrimSpace(input.ReferenceNumber),
		WarehouseScope:          utils.JoinInts(input.WarehouseIds),
		ProductScope:            utils.JoinInts(input.ProductIds),
		ExecutionMode:           input.ExecutionMode,
		RequiresCount2:          input.RequiresCount2,
		RequiresCount3:          input.RequiresCount3,
		AllowUnexpectedItems:    input.AllowUnexpectedItems,
		DisclosePreviousCounts:  input.DisclosePreviousCounts,
		Status:                  CountingSessionStatusCount1InProgress,
		Count1UserId:            input.Count1UserId,
		Count2UserId:            input.Count2UserId,
		Count3UserId:            input.Count3UserId,
		VarianceFlagPercent:     thresholds.FlagPercent,
		VarianceCriticalPercent: thresholds.CriticalPercent,
		Notes:                   input.Notes,
		CreatedBy:               actor.UserId,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(&session).Error; err != nil {
			return err
		}
		if session.ReferenceNumber == "" {
			session.ReferenceNumber = fmt.Sprintf("CNT-%06d", session.ID)
			if err := tx.WithContext(ctx).Model(&session).Update("reference_number", session.ReferenceNumber).Error; err != nil {
				return err
			}
		}

		items, err := seedCountLedgerItems(ctx, tx, ledger, &session, input)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return validationFailed("nothing to count in the selected scope")
		}
		if err := tx.WithContext(ctx).CreateInBatches(items, 200).Error; err != nil {
			return err
		}

		if err := createAssignment(ctx, tx, actor.BusinessId, session.ID, CountNumberFirst, session.Count1UserId); err != nil {
			return err
		}
		if session.RequiresCount2 {
			if err := createAssignment(ctx, tx, actor.BusinessId, session.ID, CountNumberSecond, *session.Count2UserId); err != nil {
				return err
			}
		}
		return createHistory(tx.WithContext(ctx), actor, HistoryActionCreate, session.ID, HistoryReferenceCountingSession,
			nil, &session, fmt.Sprintf("Counting session %s created with %d item(s).", session.ReferenceNumber, len(items)))
	})
	if err != nil {
		if _, ok := AsCountingError(err); !ok {
			config.LogError(config.GetLogger(), "countingSession.go", "CreateCountingSession", "create session", input, err)
		}
		return nil, err
	}
	session.WarehouseIds = utils.UniqueSlice(input.WarehouseIds)
	session.ProductIds = utils.UniqueSlice(input.ProductIds)
	return &session, nil
}

// seedCountLedgerItems builds one item per balance row in scope. With an
// explicit product scope, pairs the ledger has never seen are seeded with a
// theoretical quantity of zero.
func seedCountLedgerItems(ctx context.Context, tx *gorm.DB, ledger StockLedger, session *CountingSession, input *NewCountingSession) ([]*CountLedgerItem, error) {
	warehouseIds := utils.UniqueSlice(input.WarehouseIds)
	productIds := utils.UniqueSlice(input.ProductIds)

	balances, err := ledger.OnHand(ctx, tx, session.BusinessId, warehouseIds, productIds)
	if err != nil {
		return nil, fmt.Errorf("read on-hand: %w", err)
	}

	type pair struct{ warehouseId, productId int }
	seen := make(map[pair]bool, len(balances))
	items := make([]*CountLedgerItem, 0, len(balances))
	add := func(warehouseId, productId int, theoretical decimal.Decimal) {
		key := pair{warehouseId, productId}
		if seen[key] {
			return
		}
		seen[key] = true
		items = append(items, newCountLedgerItem(session, warehouseId, productId, theoretical))
	}
	for _, b := range balances {
		add(b.WarehouseId, b.ProductId, b.Qty)
	}
	for _, warehouseId := range warehouseIds {
		for _, productId := range productIds {
			add(warehouseId, productId, decimal.Zero)
		}
	}
	return items, nil
}

// GetCountingSession loads a session for an administrator.
func GetCountingSession(ctx context.Context, actor Actor, sessionId int) (*CountingSession, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	return loadCountingSession(ctx, config.GetDB(), actor, sessionId)
}

// loadCountingSession hides a missing session from counters behind the same
// error as a session they hold no assignment on.
func loadCountingSession(ctx context.Context, db *gorm.DB, actor Actor, sessionId int) (*CountingSession, error) {
	session, err := utils.FetchModel[CountingSession](ctx, db, actor.BusinessId, sessionId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			if actor.IsAdmin() {
				return nil, notFound("counting session")
			}
			return nil, authorizationDenied("no assignment on this counting session")
		}
		return nil, err
	}
	return session, nil
}

// LockCountingSession bumps lock_version on the session row so every
// mutation of the same session serializes on it, then loads the session.
// A finalized session is returned unlocked; callers must check IsFinalized.
func LockCountingSession(ctx context.Context, tx *gorm.DB, actor Actor, sessionId int) (*CountingSession, error) {
	res := tx.WithContext(ctx).Model(&CountingSession{}).
		Where("id = ? AND business_id = ? AND status <> ?", sessionId, actor.BusinessId, CountingSessionStatusFinalized).
		UpdateColumn("lock_version", gorm.Expr("lock_version + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	return loadCountingSession(ctx, tx, actor, sessionId)
}

func countItemsWhere(ctx context.Context, tx *gorm.DB, sessionId int, condition string, values ...interface{}) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&CountLedgerItem{}).
		Where("counting_session_id = ?", sessionId).
		Where(condition, values...).
		Count(&count).Error
	return count, err
}

// missingSlot counts unresolved items still lacking slot n.
func missingSlot(ctx context.Context, tx *gorm.DB, sessionId int, n CountNumber) (int64, error) {
	return countItemsWhere(ctx, tx, sessionId,
		fmt.Sprintf("%s IS NULL AND resolution_method = ?", slotQtyColumn(n)), ResolutionMethodPending)
}

// advanceCountingSession moves the session forward while stages are complete.
// An override can finish more than one stage at once.
func advanceCountingSession(ctx context.Context, tx *gorm.DB, actor Actor, session *CountingSession) error {
	for {
		moved, err := advanceOnce(ctx, tx, actor, session)
		if err != nil || !moved {
			return err
		}
	}
}

// advanceOnce moves the session to the next stage once the current one is
// complete and closes the finished slot's assignment.
func advanceOnce(ctx context.Context, tx *gorm.DB, actor Actor, session *CountingSession) (bool, error) {
	next := session.Status
	var closeSlots []CountNumber

	switch session.Status {
	case CountingSessionStatusCount1InProgress:
		missing1, err := missingSlot(ctx, tx, session.ID, CountNumberFirst)
		if err != nil || missing1 > 0 {
			return false, err
		}
		closeSlots = append(closeSlots, CountNumberFirst)
		next = CountingSessionStatusCount2InProgress
		if !session.RequiresCount2 {
			next = CountingSessionStatusPendingReview
		} else if session.ExecutionMode == ExecutionModeParallel {
			missing2, err := missingSlot(ctx, tx, session.ID, CountNumberSecond)
			if err != nil {
				return false, err
			}
			if missing2 == 0 {
				closeSlots = append(closeSlots, CountNumberSecond)
				next = CountingSessionStatusPendingReview
			}
		}
	case CountingSessionStatusCount2InProgress:
		missing2, err := missingSlot(ctx, tx, session.ID, CountNumberSecond)
		if err != nil || missing2 > 0 {
			return false, err
		}
		closeSlots = append(closeSlots, CountNumberSecond)
		next = CountingSessionStatusPendingReview
	case CountingSessionStatusCount3InProgress:
		remaining, err := countItemsWhere(ctx, tx, session.ID,
			"third_count_requested = ? AND count_3_qty IS NULL AND resolution_method = ?", true, ResolutionMethodPending)
		if err != nil || remaining > 0 {
			return false, err
		}
		closeSlots = append(closeSlots, CountNumberThird)
		next = CountingSessionStatusPendingReview
	default:
		return false, nil
	}

	for _, n := range closeSlots {
		if err := completeSlot(ctx, tx, session.ID, n); err != nil {
			return false, err
		}
	}
	if next == session.Status {
		return false, nil
	}
	return true, setSessionStatus(ctx, tx, actor, session, next)
}

func setSessionStatus(ctx context.Context, tx *gorm.DB, actor Actor, session *CountingSession, next CountingSessionStatus) error {
	prev := session.Status
	if err := tx.WithContext(ctx).Model(&CountingSession{}).
		Where("id = ?", session.ID).
		Update("status", next).Error; err != nil {
		return err
	}
	session.Status = next
	return createHistory(tx.WithContext(ctx), actor, HistoryActionAdvance, session.ID, HistoryReferenceCountingSession,
		map[string]interface{}{"status": prev}, map[string]interface{}{"status": next},
		fmt.Sprintf("Counting session moved from %s to %s.", prev, next))
}

// TriggerThirdCount sends disagreeing items to a third counter.
// counterUserId defaults to the session's count-3 user.
func TriggerThirdCount(ctx context.Context, actor Actor, sessionId int, itemIds []int, counterUserId *int) (*CountingSession, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	itemIds = utils.UniqueSlice(itemIds)
	if len(itemIds) == 0 {
		return nil, validationFailed("at least one item is required")
	}

	var session *CountingSession
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = LockCountingSession(ctx, tx, actor, sessionId)
		if err != nil {
			return err
		}
		if err := session.EnsureOpen(); err != nil {
			return err
		}
		if !session.RequiresCount3 {
			return invalidState("counting session %d does not use a third count", session.ID)
		}
		if session.Status != CountingSessionStatusPendingReview && session.Status != CountingSessionStatusCount3InProgress {
			return invalidState("third count cannot start while session is %s", session.Status)
		}

		userId := counterUserId
		if userId == nil {
			userId = session.Count3UserId
		}
		if userId == nil || *userId <= 0 {
			return validationFailed("count 3 user is required")
		}
		if *userId == session.Count1UserId || (session.Count2UserId != nil && *userId == *session.Count2UserId) {
			return validationFailed("count 3 user must differ from the count 1 and count 2 users")
		}

		items, err := utils.FetchModelsWhere[CountLedgerItem](ctx, tx, actor.BusinessId,
			"counting_session_id = ? AND id IN ?", session.ID, itemIds)
		if err != nil {
			return err
		}
		if len(items) != len(itemIds) {
			return notFound("count ledger item")
		}
		var ineligible []int
		for _, item := range items {
			if item.ResolutionMethod != ResolutionMethodPending ||
				item.FlagReason != FlagReasonCounterDisagreement ||
				item.Count3Qty.Valid {
				ineligible = append(ineligible, item.ID)
			}
		}
		if len(ineligible) > 0 {
			return &CountingError{
				Code:    ErrCodeValidationFailed,
				Message: "only unresolved items with disagreeing counts and no third count can be recounted",
				ItemIds: ineligible,
			}
		}

		if err := tx.WithContext(ctx).Model(&CountLedgerItem{}).
			Where("counting_session_id = ? AND id IN ?", session.ID, itemIds).
			Update("third_count_requested", true).Error; err != nil {
			return err
		}
		assignments, err := getSessionAssignments(ctx, tx, actor.BusinessId, session.ID)
		if err != nil {
			return err
		}
		if err := assignThirdSlot(ctx, tx, actor.BusinessId, session.ID, *userId, assignments); err != nil {
			return err
		}
		if session.Count3UserId == nil || *session.Count3UserId != *userId {
			if err := tx.WithContext(ctx).Model(&CountingSession{}).
				Where("id = ?", session.ID).
				Update("count_3_user_id", *userId).Error; err != nil {
				return err
			}
			session.Count3UserId = userId
		}
		if err := createHistory(tx.WithContext(ctx), actor, HistoryActionTrigger, session.ID, HistoryReferenceCountingSession,
			nil, map[string]interface{}{"item_ids": itemIds, "user_id": *userId},
			fmt.Sprintf("Third count requested for %d item(s).", len(itemIds))); err != nil {
			return err
		}
		if session.Status != CountingSessionStatusCount3InProgress {
			return setSessionStatus(ctx, tx, actor, session, CountingSessionStatusCount3InProgress)
		}
		return nil
	})
	if err != nil {
		if _, ok := AsCountingError(err); !ok {
			config.LogError(config.GetLogger(), "countingSession.go", "TriggerThirdCount", "trigger third count", itemIds, err)
		}
		return nil, err
	}
	return session, nil
}

// UnresolvedItemIds lists the ids of items still Pending.
func UnresolvedItemIds(items []*CountLedgerItem) []int {
	var ids []int
	for _, item := range items {
		if !item.IsResolved() || !item.FinalQty.Valid {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// MarkCountingSessionFinalized closes the session and every assignment. It
// must run in the transaction that committed the stock adjustments.
func MarkCountingSessionFinalized(ctx context.Context, tx *gorm.DB, actor Actor, session *CountingSession, adjusted int) error {
	now := time.Now().UTC()
	prev := session.Status
	res := tx.WithContext(ctx).Model(&CountingSession{}).
		Where("id = ? AND status <> ?", session.ID, CountingSessionStatusFinalized).
		Updates(map[string]interface{}{
			"status":       CountingSessionStatusFinalized,
			"finalized_by": actor.UserId,
			"finalized_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invalidState("counting session %d is finalized", session.ID)
	}
	if err := completeAllSlots(ctx, tx, session.ID); err != nil {
		return err
	}
	session.Status = CountingSessionStatusFinalized
	session.FinalizedBy = &actor.UserId
	session.FinalizedAt = &now
	return createHistory(tx.WithContext(ctx), actor, HistoryActionFinalize, session.ID, HistoryReferenceCountingSession,
		map[string]interface{}{"status": prev}, map[string]interface{}{"status": session.Status, "adjusted_items": adjusted},
		fmt.Sprintf("Counting session %s finalized; %d stock adjustment(s) committed.", session.ReferenceNumber, adjusted))
}
