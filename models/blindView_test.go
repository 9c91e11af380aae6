package models_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/models/countingtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCanRead(t *testing.T) {
	biz := uuid.NewString()
	session := &models.CountingSession{ID: 7, BusinessId: biz}
	admin := models.Actor{BusinessId: biz, UserId: 1, Role: models.UserRoleAdmin}
	counter := models.Actor{BusinessId: biz, UserId: 11, Role: models.UserRoleCounter}
	open := []models.CountAssignment{{CountingSessionId: 7, UserId: 11, CountNumber: 1, Status: models.CountAssignmentStatusInProgress}}
	closed := []models.CountAssignment{{CountingSessionId: 7, UserId: 11, CountNumber: 1, Status: models.CountAssignmentStatusCompleted}}
	elsewhere := []models.CountAssignment{{CountingSessionId: 8, UserId: 11, CountNumber: 1, Status: models.CountAssignmentStatusPending}}

	cases := []struct {
		name        string
		actor       models.Actor
		session     *models.CountingSession
		assignments []models.CountAssignment
		want        models.AccessLevel
	}{
		{"admin", admin, session, nil, models.AccessLevelFullView},
		{"admin of another business", models.Actor{BusinessId: uuid.NewString(), UserId: 1, Role: models.UserRoleAdmin}, session, nil, models.AccessLevelDenied},
		{"assigned counter", counter, session, open, models.AccessLevelBlindView},
		{"completed assignment", counter, session, closed, models.AccessLevelDenied},
		{"assignment on another session", counter, session, elsewhere, models.AccessLevelDenied},
		{"unassigned counter", counter, session, nil, models.AccessLevelDenied},
		{"unknown role", models.Actor{BusinessId: biz, UserId: 11, Role: "Auditor"}, session, open, models.AccessLevelDenied},
		{"no session", admin, nil, nil, models.AccessLevelDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, models.CanRead(tc.actor, tc.session, tc.assignments))
		})
	}
}

func TestCounterViewsNeverCarryTheoreticalQuantity(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	in := f.TwoCountInput(models.ExecutionModeSequential, false)
	in.DisclosePreviousCounts = true
	session := f.CreateSession(t, in)
	rice := f.ItemFor(t, session.ID, 0, 0)

	views, err := models.GetItemsToCount(ctx, f.Counter1, session.ID, false)
	require.NoError(t, err)
	require.Len(t, views, 2)

	submitted := f.Submit(t, f.Counter1, session.ID, rice.ID, 97)
	item, err := models.GetCounterItem(ctx, f.Counter1, session.ID, rice.ID)
	require.NoError(t, err)
	lookup, err := models.LookupItemByBarcode(ctx, f.Counter1, session.ID, f.Products[0].Barcode, f.Warehouses[0].ID)
	require.NoError(t, err)
	tasks, err := models.GetCounterTasks(ctx, f.Counter1)
	require.NoError(t, err)

	for _, body := range []interface{}{views, submitted, item, lookup, tasks} {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		require.NotContains(t, string(raw), "theoretical")
		require.NotContains(t, string(raw), "final_qty")
		require.NotContains(t, string(raw), "flag_reason")
		require.NotContains(t, string(raw), "resolution_method")
	}
}

func TestParallelCountersCannotSeeEachOther(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	in := f.TwoCountInput(models.ExecutionModeParallel, false)
	// disclosure never applies to parallel sessions
	in.DisclosePreviousCounts = true
	session := f.CreateSession(t, in)
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)

	f.Submit(t, f.Counter1, session.ID, rice.ID, 97)

	view, err := models.GetCounterItem(ctx, f.Counter2, session.ID, rice.ID)
	require.NoError(t, err)
	require.Equal(t, models.CountNumberSecond, view.CountNumber)
	require.False(t, view.MyCount.Valid)
	require.Empty(t, view.PreviousCounts)
	raw, err := json.Marshal(view)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"my_count":null`)
	require.NotContains(t, string(raw), "97")

	uncounted, err := models.GetItemsToCount(ctx, f.Counter2, session.ID, true)
	require.NoError(t, err)
	require.Len(t, uncounted, 2, "counter 2's to-do list must not shrink from counter 1's work")

	// both slots are open at once
	submitted := f.Submit(t, f.Counter2, session.ID, rice.ID, 97)
	require.Empty(t, submitted.PreviousCounts)
	f.Submit(t, f.Counter2, session.ID, oil.ID, 41)
	require.Equal(t, models.CountingSessionStatusCount1InProgress, f.Session(t, session.ID).Status)

	f.Submit(t, f.Counter1, session.ID, oil.ID, 40)
	require.Equal(t, models.CountingSessionStatusPendingReview, f.Session(t, session.ID).Status)

	rice = f.ItemFor(t, session.ID, 0, 0)
	require.Equal(t, models.ResolutionMethodAutoCountersAgree, rice.ResolutionMethod)
	oil = f.ItemFor(t, session.ID, 0, 1)
	require.Equal(t, models.FlagReasonCounterDisagreement, oil.FlagReason)
}

func TestSequentialDisclosureShowsEarlierCounts(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()

	for _, disclose := range []bool{true, false} {
		in := f.TwoCountInput(models.ExecutionModeSequential, false)
		in.DisclosePreviousCounts = disclose
		session := f.CreateSession(t, in)
		rice := f.ItemFor(t, session.ID, 0, 0)
		oil := f.ItemFor(t, session.ID, 0, 1)
		f.Submit(t, f.Counter1, session.ID, rice.ID, 97)
		f.Submit(t, f.Counter1, session.ID, oil.ID, 40)

		view, err := models.GetCounterItem(ctx, f.Counter2, session.ID, rice.ID)
		require.NoError(t, err)
		if !disclose {
			require.Empty(t, view.PreviousCounts)
			continue
		}
		require.Len(t, view.PreviousCounts, 1)
		require.Equal(t, models.CountNumberFirst, view.PreviousCounts[0].CountNumber)
		require.True(t, view.PreviousCounts[0].Qty.Equal(decimal.NewFromInt(97)))
	}
}

func TestUnassignedCounterIsDeniedOnEveryPath(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	in := f.SessionInput()
	in.AllowUnexpectedItems = true
	session := f.CreateSession(t, in)
	rice := f.ItemFor(t, session.ID, 0, 0)
	qty := decimal.NewFromInt(1)
	otherBusiness := models.Actor{BusinessId: uuid.NewString(), UserId: countingtest.Counter1Id, Role: models.UserRoleCounter}

	for _, actor := range []models.Actor{f.Outsider, otherBusiness} {
		calls := map[string]func() error{
			"items": func() error {
				_, err := models.GetItemsToCount(ctx, actor, session.ID, false)
				return err
			},
			"item": func() error {
				_, err := models.GetCounterItem(ctx, actor, session.ID, rice.ID)
				return err
			},
			"lookup": func() error {
				_, err := models.LookupItemByBarcode(ctx, actor, session.ID, f.Products[0].Barcode, f.Warehouses[0].ID)
				return err
			},
			"submit": func() error {
				_, err := models.SubmitCount(ctx, actor, session.ID, rice.ID, qty)
				return err
			},
			"unexpected": func() error {
				_, err := models.SubmitUnexpectedCount(ctx, actor, session.ID, &models.UnexpectedCountInput{
					Barcode: f.Products[3].Barcode, WarehouseId: f.Warehouses[0].ID, Qty: &qty,
				})
				return err
			},
			"reconciliation": func() error {
				_, err := models.GetReconciliation(ctx, actor, session.ID)
				return err
			},
			"summary": func() error {
				_, err := models.GetCountingSummary(ctx, actor, session.ID)
				return err
			},
			"override": func() error {
				_, err := models.OverrideCountLedgerItem(ctx, actor, session.ID, rice.ID, qty, "no")
				return err
			},
			"missing session": func() error {
				_, err := models.GetItemsToCount(ctx, actor, session.ID+100, false)
				return err
			},
		}
		for name, call := range calls {
			require.ErrorIs(t, call(), models.ErrAuthorizationDenied, "user %d business %s: %s", actor.UserId, actor.BusinessId, name)
		}
	}

	// nothing was written by the rejected calls
	rice = f.ItemFor(t, session.ID, 0, 0)
	require.False(t, rice.Count1Qty.Valid)
	require.Len(t, f.Items(t, session.ID), 2)
}

func TestAdministratorsDoNotUseCounterViews(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.SessionInput())
	rice := f.ItemFor(t, session.ID, 0, 0)

	_, err := models.GetItemsToCount(ctx, f.Admin, session.ID, false)
	require.ErrorIs(t, err, models.ErrAuthorizationDenied)
	_, err = models.SubmitCount(ctx, f.Admin, session.ID, rice.ID, decimal.NewFromInt(100))
	require.ErrorIs(t, err, models.ErrAuthorizationDenied)

	_, err = models.GetReconciliation(ctx, f.Admin, session.ID+100)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestLookupItemByBarcode(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.SessionInput())
	rice := f.ItemFor(t, session.ID, 0, 0)

	view, err := models.LookupItemByBarcode(ctx, f.Counter1, session.ID, f.Products[0].Barcode, f.Warehouses[0].ID)
	require.NoError(t, err)
	require.Equal(t, rice.ID, view.ItemId)
	require.Equal(t, f.Products[0].Sku, view.Product.Sku)

	// sku works as a fallback code
	view, err = models.LookupItemByBarcode(ctx, f.Counter1, session.ID, f.Products[0].Sku, f.Warehouses[0].ID)
	require.NoError(t, err)
	require.Equal(t, rice.ID, view.ItemId)

	_, err = models.LookupItemByBarcode(ctx, f.Counter1, session.ID, f.Products[0].Barcode, f.Warehouses[1].ID)
	require.ErrorIs(t, err, models.ErrValidationFailed)
	_, err = models.LookupItemByBarcode(ctx, f.Counter1, session.ID, f.Products[3].Barcode, f.Warehouses[0].ID)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = models.LookupItemByBarcode(ctx, f.Counter1, session.ID, "0000", f.Warehouses[0].ID)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = models.LookupItemByBarcode(ctx, f.Counter1, session.ID, " ", f.Warehouses[0].ID)
	require.ErrorIs(t, err, models.ErrValidationFailed)
}

func TestGetCounterTasksTracksProgress(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeSequential, false))
	rice := f.ItemFor(t, session.ID, 0, 0)

	tasks, err := models.GetCounterTasks(ctx, f.Counter1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, session.ID, tasks[0].CountingSessionId)
	require.Equal(t, models.CountNumberFirst, tasks[0].CountNumber)
	require.True(t, tasks[0].CanSubmit)
	require.EqualValues(t, 2, tasks[0].TotalItems)
	require.EqualValues(t, 0, tasks[0].CountedItems)

	f.Submit(t, f.Counter1, session.ID, rice.ID, 100)
	tasks, err = models.GetCounterTasks(ctx, f.Counter1)
	require.NoError(t, err)
	require.EqualValues(t, 1, tasks[0].CountedItems)
	require.Equal(t, models.CountAssignmentStatusInProgress, tasks[0].AssignmentStatus)

	// counter 2 already holds the slot but cannot submit yet
	tasks, err = models.GetCounterTasks(ctx, f.Counter2)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.False(t, tasks[0].CanSubmit)

	tasks, err = models.GetCounterTasks(ctx, f.Outsider)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestReconciliationAndSummary(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeSequential, false))
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)
	f.Submit(t, f.Counter1, session.ID, rice.ID, 95)
	f.Submit(t, f.Counter1, session.ID, oil.ID, 40)
	f.Submit(t, f.Counter2, session.ID, rice.ID, 102)
	f.Submit(t, f.Counter2, session.ID, oil.ID, 40)

	summary, err := models.GetCountingSummary(ctx, f.Admin, session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalItems)
	require.Equal(t, 1, summary.AutoResolved)
	require.Equal(t, 1, summary.Pending)
	require.Equal(t, 1, summary.Flagged)
	require.Equal(t, 1, summary.NeedingAttention)
	require.Equal(t, 0, summary.ManuallyOverridden)

	_, err = models.OverrideCountLedgerItem(ctx, f.Admin, session.ID, rice.ID, decimal.NewFromInt(80), "shelf recount by supervisor")
	require.NoError(t, err)

	rec, err := models.GetReconciliation(ctx, f.Admin, session.ID)
	require.NoError(t, err)
	require.Len(t, rec.Items, 2)
	var riceLine models.ReconciliationItemView
	for _, line := range rec.Items {
		if line.ItemId == rice.ID {
			riceLine = line
		}
	}
	require.True(t, riceLine.TheoreticalQty.Equal(decimal.NewFromInt(100)))
	require.True(t, riceLine.Count1Qty.Decimal.Equal(decimal.NewFromInt(95)))
	require.True(t, riceLine.Count2Qty.Decimal.Equal(decimal.NewFromInt(102)))
	require.True(t, riceLine.VarianceQty.Decimal.Equal(decimal.NewFromInt(-20)))
	require.True(t, riceLine.VariancePercent.Decimal.Equal(decimal.NewFromInt(20)))
	require.Equal(t, models.FlagReasonCriticalVariance, riceLine.FlagReason)
	require.Equal(t, models.ResolutionMethodManualOverride, riceLine.ResolutionMethod)
	require.Equal(t, f.Products[0].Name, riceLine.Product.Name)

	summary = rec.Summary()
	require.Equal(t, 1, summary.AutoResolved)
	require.Equal(t, 1, summary.ManuallyOverridden)
	require.Equal(t, 0, summary.Pending)
	require.Equal(t, 1, summary.Critical)
	require.Equal(t, 1, summary.NeedingAttention)
	require.Equal(t, 1, summary.ByMethod[models.ResolutionMethodManualOverride])
}

func TestSummarizeItems(t *testing.T) {
	now := time.Now()
	session := &models.CountingSession{ID: 3, Status: models.CountingSessionStatusPendingReview}
	items := []*models.CountLedgerItem{
		{ResolutionMethod: models.ResolutionMethodAutoAllMatch, FlagReason: models.FlagReasonNone},
		{ResolutionMethod: models.ResolutionMethodThirdCountDecisive, IsFlagged: true, FlagReason: models.FlagReasonVarianceFromTheoretical},
		{ResolutionMethod: models.ResolutionMethodPending, IsFlagged: true, FlagReason: models.FlagReasonCounterDisagreement},
		{ResolutionMethod: models.ResolutionMethodManualOverride, FlagReason: models.FlagReasonNone, OverriddenAt: &now},
		{ResolutionMethod: models.ResolutionMethodAutoCountersAgree, IsFlagged: true, FlagReason: models.FlagReasonCriticalVariance, IsUnexpected: true},
	}
	s := models.SummarizeItems(session, items)
	require.Equal(t, 5, s.TotalItems)
	require.Equal(t, 3, s.AutoResolved)
	require.Equal(t, 1, s.ManuallyOverridden)
	require.Equal(t, 1, s.Pending)
	require.Equal(t, 3, s.Flagged)
	require.Equal(t, 1, s.Critical)
	require.Equal(t, 3, s.NeedingAttention)
	require.Equal(t, 1, s.Unexpected)
}
