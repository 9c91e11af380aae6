package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"gorm.io/gorm"
)

const (
	HistoryReferenceCountingSession = "counting_sessions"
	HistoryReferenceCountLedgerItem = "count_ledger_items"
)

const (
	HistoryActionCreate   = "Create"
	HistoryActionCount    = "Count"
	HistoryActionOverride = "Override"
	HistoryActionTrigger  = "Trigger"
	HistoryActionAdvance  = "Advance"
	HistoryActionFinalize = "Finalize"
)

// History is the audit trail: every mutation of a counting session or one of
// its ledger items leaves a row.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	ActionType    string    `gorm:"size:10;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:255" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actor Actor,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	history := History{
		BusinessId:    actor.BusinessId,
		ActionType:    actionType,
		Description:   description,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		UserId:        actor.UserId,
		UserName:      actor.UserName,
	}
	if before != nil {
		b, _ := json.Marshal(before)
		history.Before = string(b)
	}
	if after != nil {
		a, _ := json.Marshal(after)
		history.After = string(a)
	}
	return tx.Create(&history).Error
}

// GetHistories returns the audit trail of one reference, oldest first.
func GetHistories(ctx context.Context, db *gorm.DB, businessId string, referenceType string, referenceId int) ([]*History, error) {
	var histories []*History
	err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id").
		Find(&histories).Error
	return histories, err
}

// GetCountingSessionHistory returns the session-level audit trail.
func GetCountingSessionHistory(ctx context.Context, actor Actor, sessionId int) ([]*History, error) {
	db := config.GetDB()
	session, err := adminScope(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	return GetHistories(ctx, db, actor.BusinessId, HistoryReferenceCountingSession, session.ID)
}

// GetCountLedgerItemHistory returns the audit trail of one item of the
// session: its counts and any override with the admin's notes.
func GetCountLedgerItemHistory(ctx context.Context, actor Actor, sessionId int, itemId int) ([]*History, error) {
	db := config.GetDB()
	session, err := adminScope(ctx, db, actor, sessionId)
	if err != nil {
		return nil, err
	}
	item, err := loadCountLedgerItem(ctx, db, actor.BusinessId, session.ID, itemId)
	if err != nil {
		return nil, err
	}
	return GetHistories(ctx, db, actor.BusinessId, HistoryReferenceCountLedgerItem, item.ID)
}
