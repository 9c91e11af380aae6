package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CountAssignment binds one counter to one count slot of a session.
// A slot has at most one holder.
type CountAssignment struct {
	ID                int                   `gorm:"primary_key" json:"id"`
	BusinessId        string                `gorm:"index;not null" json:"business_id"`
	CountingSessionId int                   `gorm:"uniqueIndex:idx_count_assignment_slot;not null" json:"counting_session_id"`
	CountNumber       CountNumber           `gorm:"uniqueIndex:idx_count_assignment_slot;not null" json:"count_number"`
	UserId            int                   `gorm:"index;not null" json:"user_id"`
	Status            CountAssignmentStatus `gorm:"size:20;not null" json:"status"`
	AssignedAt        time.Time             `gorm:"not null" json:"assigned_at"`
	CompletedAt       *time.Time            `json:"completed_at"`
	UpdatedAt         time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func getSessionAssignments(ctx context.Context, db *gorm.DB, businessId string, sessionId int) ([]CountAssignment, error) {
	var assignments []CountAssignment
	err := db.WithContext(ctx).
		Where("business_id = ? AND counting_session_id = ?", businessId, sessionId).
		Order("count_number").
		Find(&assignments).Error
	return assignments, err
}

// assignmentOf returns the slot userId holds on the session, in any status.
func assignmentOf(assignments []CountAssignment, userId int) (*CountAssignment, bool) {
	for i := range assignments {
		if assignments[i].UserId == userId {
			return &assignments[i], true
		}
	}
	return nil, false
}

func openAssignmentOf(assignments []CountAssignment, userId int) (*CountAssignment, bool) {
	a, ok := assignmentOf(assignments, userId)
	if !ok || !a.Status.IsOpen() {
		return nil, false
	}
	return a, true
}

func createAssignment(ctx context.Context, tx *gorm.DB, businessId string, sessionId int, n CountNumber, userId int) error {
	return tx.WithContext(ctx).Create(&CountAssignment{
		BusinessId:        businessId,
		CountingSessionId: sessionId,
		CountNumber:       n,
		UserId:            userId,
		Status:            CountAssignmentStatusPending,
		AssignedAt:        time.Now().UTC(),
	}).Error
}

// startAssignment moves a Pending assignment to InProgress on first submission.
func startAssignment(ctx context.Context, tx *gorm.DB, assignmentId int) error {
	return tx.WithContext(ctx).Model(&CountAssignment{}).
		Where("id = ? AND status = ?", assignmentId, CountAssignmentStatusPending).
		Update("status", CountAssignmentStatusInProgress).Error
}

// completeSlot closes the slot's assignment once the stage is done.
func completeSlot(ctx context.Context, tx *gorm.DB, sessionId int, n CountNumber) error {
	now := time.Now().UTC()
	return tx.WithContext(ctx).Model(&CountAssignment{}).
		Where("counting_session_id = ? AND count_number = ? AND status <> ?", sessionId, n, CountAssignmentStatusCompleted).
		Updates(map[string]interface{}{
			"status":       CountAssignmentStatusCompleted,
			"completed_at": now,
		}).Error
}

func completeAllSlots(ctx context.Context, tx *gorm.DB, sessionId int) error {
	for _, n := range []CountNumber{CountNumberFirst, CountNumberSecond, CountNumberThird} {
		if err := completeSlot(ctx, tx, sessionId, n); err != nil {
			return err
		}
	}
	return nil
}

// assignThirdSlot creates the slot-3 assignment, or reopens (and if needed
// reassigns) an existing one for another arbitration round.
func assignThirdSlot(ctx context.Context, tx *gorm.DB, businessId string, sessionId int, userId int, existing []CountAssignment) error {
	for _, a := range existing {
		if a.CountNumber != CountNumberThird {
			continue
		}
		return tx.WithContext(ctx).Model(&CountAssignment{}).
			Where("id = ?", a.ID).
			Updates(map[string]interface{}{
				"user_id":      userId,
				"status":       CountAssignmentStatusPending,
				"completed_at": gorm.Expr("NULL"),
			}).Error
	}
	return createAssignment(ctx, tx, businessId, sessionId, CountNumberThird, userId)
}

// GetOpenAssignments lists the counter's open assignments in the business.
func GetOpenAssignments(ctx context.Context, db *gorm.DB, actor Actor) ([]CountAssignment, error) {
	var assignments []CountAssignment
	err := db.WithContext(ctx).
		Where("business_id = ? AND user_id = ? AND status IN ?", actor.BusinessId, actor.UserId,
			[]CountAssignmentStatus{CountAssignmentStatusPending, CountAssignmentStatusInProgress}).
		Order("counting_session_id, count_number").
		Find(&assignments).Error
	return assignments, err
}
