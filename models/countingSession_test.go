package models_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/models/countingtest"
	"github.com/shopspring/decimal"
)

func TestCreateCountingSessionSnapshotsTheoreticalQuantities(t *testing.T) {
	f := countingtest.New(t)
	session := f.CreateSession(t, f.SessionInput())

	if session.Status != models.CountingSessionStatusCount1InProgress {
		t.Fatalf("status: got %s", session.Status)
	}
	if !strings.HasPrefix(session.ReferenceNumber, "CNT-") {
		t.Fatalf("reference: got %q", session.ReferenceNumber)
	}
	items := f.Items(t, session.ID)
	if len(items) != 2 {
		t.Fatalf("items: got %d want 2", len(items))
	}
	if got := f.ItemFor(t, session.ID, 0, 0).TheoreticalQty; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("theoretical product 0: got %s", got)
	}
	if got := f.ItemFor(t, session.ID, 0, 1).TheoreticalQty; !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("theoretical product 1: got %s", got)
	}
	for _, item := range items {
		if item.ResolutionMethod != models.ResolutionMethodPending || item.FlagReason != models.FlagReasonNone {
			t.Fatalf("item %d not pending: %s/%s", item.ID, item.ResolutionMethod, item.FlagReason)
		}
	}

	// later stock movements do not change the snapshot
	f.Receive(t, 0, 0, 5)
	if got := f.ItemFor(t, session.ID, 0, 0).TheoreticalQty; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("snapshot moved: got %s", got)
	}
}

func TestCreateCountingSessionProductScopeSeedsMissingPairs(t *testing.T) {
	f := countingtest.New(t)
	in := f.SessionInput()
	in.ReferenceNumber = "Q3 shelf count"
	in.ProductIds = []int{f.Products[0].ID, f.Products[3].ID}
	session := f.CreateSession(t, in)

	if session.ReferenceNumber != "Q3 shelf count" {
		t.Fatalf("reference: got %q", session.ReferenceNumber)
	}
	items := f.Items(t, session.ID)
	if len(items) != 2 {
		t.Fatalf("items: got %d want 2", len(items))
	}
	if got := f.ItemFor(t, session.ID, 0, 3).TheoreticalQty; !got.IsZero() {
		t.Fatalf("never-stocked pair should start at zero, got %s", got)
	}
}

func TestCreateCountingSessionValidation(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		actor models.Actor
		input func() *models.NewCountingSession
		want  error
	}{
		{"counter cannot create", f.Counter1, f.SessionInput, models.ErrAuthorizationDenied},
		{"no warehouses", f.Admin, func() *models.NewCountingSession {
			in := f.SessionInput()
			in.WarehouseIds = nil
			return in
		}, models.ErrValidationFailed},
		{"unknown warehouse", f.Admin, func() *models.NewCountingSession {
			in := f.SessionInput()
			in.WarehouseIds = []int{9999}
			return in
		}, models.ErrValidationFailed},
		{"unknown product", f.Admin, func() *models.NewCountingSession {
			in := f.SessionInput()
			in.ProductIds = []int{9999}
			return in
		}, models.ErrValidationFailed},
		{"bad mode", f.Admin, func() *models.NewCountingSession {
			in := f.SessionInput()
			in.ExecutionMode = "Batch"
			return in
		}, models.ErrValidationFailed},
		{"third without second", f.Admin, func() *models.NewCountingSession {
			in := f.SessionInput()
			in.RequiresCount3 = true
			return in
		}, models.ErrValidationFailed},
		{"parallel needs a second count", f.Admin, func() *models.NewCountingSession {
			in := f.SessionInput()
			in.ExecutionMode = models.ExecutionModeParallel
			return in
		}, models.ErrValidationFailed},
		{"second count without user", f.Admin, func() *models.NewCountingSession {
			in := f.TwoCountInput(models.ExecutionModeSequential, false)
			in.Count2UserId = nil
			return in
		}, models.ErrValidationFailed},
		{"same counter twice", f.Admin, func() *models.NewCountingSession {
			in := f.TwoCountInput(models.ExecutionModeSequential, false)
			in.Count2UserId = countingtest.IntPtr(countingtest.Counter1Id)
			return in
		}, models.ErrValidationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := models.CreateCountingSession(ctx, tc.actor, tc.input(), f.Ledger)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestSingleCountSession(t *testing.T) {
	f := countingtest.New(t)
	session := f.CreateSession(t, f.SessionInput())
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)

	view := f.Submit(t, f.Counter1, session.ID, rice.ID, 100)
	if !view.MyCount.Valid || !view.MyCount.Decimal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("my count: got %v", view.MyCount)
	}
	rice = f.ItemFor(t, session.ID, 0, 0)
	if rice.ResolutionMethod != models.ResolutionMethodAutoAllMatch || rice.IsFlagged {
		t.Fatalf("rice: got %s flagged=%v", rice.ResolutionMethod, rice.IsFlagged)
	}
	if !rice.FinalQty.Decimal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("rice final: got %s", rice.FinalQty.Decimal)
	}
	if f.Session(t, session.ID).Status != models.CountingSessionStatusCount1InProgress {
		t.Fatalf("session advanced with items left")
	}

	// 34 of 40 is a 15% variance
	f.Submit(t, f.Counter1, session.ID, oil.ID, 34)
	oil = f.ItemFor(t, session.ID, 0, 1)
	if oil.ResolutionMethod != models.ResolutionMethodAutoCountersAgree {
		t.Fatalf("oil method: got %s", oil.ResolutionMethod)
	}
	if !oil.IsFlagged || oil.FlagReason != models.FlagReasonCriticalVariance {
		t.Fatalf("oil flag: got %v/%s", oil.IsFlagged, oil.FlagReason)
	}
	if oil.Count1By == nil || *oil.Count1By != countingtest.Counter1Id || oil.Count1At == nil {
		t.Fatalf("oil submission not stamped: %+v", oil)
	}

	if got := f.Session(t, session.ID).Status; got != models.CountingSessionStatusPendingReview {
		t.Fatalf("status: got %s", got)
	}
	tasks, err := models.GetCounterTasks(context.Background(), f.Counter1)
	if err != nil {
		t.Fatalf("GetCounterTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("completed assignment still listed: %+v", tasks)
	}
}

func TestSequentialTwoCountSession(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeSequential, false))
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)

	if _, err := models.SubmitCount(ctx, f.Counter2, session.ID, rice.ID, decimal.NewFromInt(100)); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("count 2 before count 1 finished: got %v", err)
	}

	f.Submit(t, f.Counter1, session.ID, rice.ID, 95)
	f.Submit(t, f.Counter1, session.ID, oil.ID, 40)
	if got := f.Session(t, session.ID).Status; got != models.CountingSessionStatusCount2InProgress {
		t.Fatalf("status after count 1: got %s", got)
	}
	if _, err := models.SubmitCount(ctx, f.Counter1, session.ID, rice.ID, decimal.NewFromInt(96)); !errors.Is(err, models.ErrSlotAlreadyFilled) {
		t.Fatalf("resubmit count 1: got %v", err)
	}

	f.Submit(t, f.Counter2, session.ID, rice.ID, 102)
	f.Submit(t, f.Counter2, session.ID, oil.ID, 40)
	if got := f.Session(t, session.ID).Status; got != models.CountingSessionStatusPendingReview {
		t.Fatalf("status after count 2: got %s", got)
	}

	rice = f.ItemFor(t, session.ID, 0, 0)
	if rice.IsResolved() || rice.FinalQty.Valid || rice.FlagReason != models.FlagReasonCounterDisagreement {
		t.Fatalf("rice should be disputed: %s final=%v %s", rice.ResolutionMethod, rice.FinalQty, rice.FlagReason)
	}
	oil = f.ItemFor(t, session.ID, 0, 1)
	if oil.ResolutionMethod != models.ResolutionMethodAutoCountersAgree || !oil.FinalQty.Decimal.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("oil: got %s final=%v", oil.ResolutionMethod, oil.FinalQty)
	}

	if _, err := models.SubmitCount(ctx, f.Counter2, session.ID, oil.ID, decimal.NewFromInt(41)); !errors.Is(err, models.ErrSlotAlreadyFilled) {
		t.Fatalf("resubmit count 2: got %v", err)
	}
	if _, err := models.SubmitCount(ctx, f.Counter1, session.ID, oil.ID, decimal.NewFromInt(-1)); !errors.Is(err, models.ErrValidationFailed) {
		t.Fatalf("negative qty: got %v", err)
	}
}

func TestThirdCountArbitration(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeSequential, true))
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)

	f.Submit(t, f.Counter1, session.ID, rice.ID, 95)
	f.Submit(t, f.Counter1, session.ID, oil.ID, 40)
	f.Submit(t, f.Counter2, session.ID, rice.ID, 102)
	f.Submit(t, f.Counter2, session.ID, oil.ID, 40)

	if _, err := models.TriggerThirdCount(ctx, f.Counter1, session.ID, []int{rice.ID}, nil); !errors.Is(err, models.ErrAuthorizationDenied) {
		t.Fatalf("counter triggering: got %v", err)
	}
	_, err := models.TriggerThirdCount(ctx, f.Admin, session.ID, []int{rice.ID, oil.ID}, nil)
	ce, ok := models.AsCountingError(err)
	if !ok || ce.Code != models.ErrCodeValidationFailed || len(ce.ItemIds) != 1 || ce.ItemIds[0] != oil.ID {
		t.Fatalf("agreed item sent to third count: got %v", err)
	}

	updated, err := models.TriggerThirdCount(ctx, f.Admin, session.ID, []int{rice.ID}, nil)
	if err != nil {
		t.Fatalf("TriggerThirdCount: %v", err)
	}
	if updated.Status != models.CountingSessionStatusCount3InProgress {
		t.Fatalf("status: got %s", updated.Status)
	}

	views, err := models.GetItemsToCount(ctx, f.Counter3, session.ID, false)
	if err != nil {
		t.Fatalf("GetItemsToCount: %v", err)
	}
	if len(views) != 1 || views[0].ItemId != rice.ID || views[0].CountNumber != models.CountNumberThird {
		t.Fatalf("third counter should only see the disputed item: %+v", views)
	}
	if _, err := models.SubmitCount(ctx, f.Counter3, session.ID, oil.ID, decimal.NewFromInt(40)); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("third count on undisputed item: got %v", err)
	}

	f.Submit(t, f.Counter3, session.ID, rice.ID, 95)
	rice = f.ItemFor(t, session.ID, 0, 0)
	if rice.ResolutionMethod != models.ResolutionMethodThirdCountDecisive {
		t.Fatalf("method: got %s", rice.ResolutionMethod)
	}
	if !rice.FinalQty.Decimal.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("final: got %s", rice.FinalQty.Decimal)
	}
	if got := f.Session(t, session.ID).Status; got != models.CountingSessionStatusPendingReview {
		t.Fatalf("status: got %s", got)
	}
}

func TestThreeDistinctCountsNeedOverride(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeSequential, true))
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)

	f.Submit(t, f.Counter1, session.ID, rice.ID, 95)
	f.Submit(t, f.Counter1, session.ID, oil.ID, 40)
	f.Submit(t, f.Counter2, session.ID, rice.ID, 102)
	f.Submit(t, f.Counter2, session.ID, oil.ID, 40)
	if _, err := models.TriggerThirdCount(ctx, f.Admin, session.ID, []int{rice.ID}, nil); err != nil {
		t.Fatalf("TriggerThirdCount: %v", err)
	}
	f.Submit(t, f.Counter3, session.ID, rice.ID, 99)

	rice = f.ItemFor(t, session.ID, 0, 0)
	if rice.IsResolved() || rice.FlagReason != models.FlagReasonCounterDisagreement {
		t.Fatalf("three distinct counts resolved automatically: %s", rice.ResolutionMethod)
	}
	if got := f.Session(t, session.ID).Status; got != models.CountingSessionStatusPendingReview {
		t.Fatalf("status: got %s", got)
	}
	// already has a third count; only an override is left
	if _, err := models.TriggerThirdCount(ctx, f.Admin, session.ID, []int{rice.ID}, nil); !errors.Is(err, models.ErrValidationFailed) {
		t.Fatalf("second arbitration round: got %v", err)
	}
	item, err := models.OverrideCountLedgerItem(ctx, f.Admin, session.ID, rice.ID, decimal.NewFromInt(99), "supervisor recount")
	if err != nil {
		t.Fatalf("OverrideCountLedgerItem: %v", err)
	}
	if item.ResolutionMethod != models.ResolutionMethodManualOverride {
		t.Fatalf("method: got %s", item.ResolutionMethod)
	}
}

func TestOverrideCountLedgerItem(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeSequential, false))
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)

	if _, err := models.OverrideCountLedgerItem(ctx, f.Admin, session.ID, rice.ID, decimal.NewFromInt(90), "  "); !errors.Is(err, models.ErrValidationFailed) {
		t.Fatalf("override without notes: got %v", err)
	}
	if _, err := models.OverrideCountLedgerItem(ctx, f.Counter1, session.ID, rice.ID, decimal.NewFromInt(90), "mine"); !errors.Is(err, models.ErrAuthorizationDenied) {
		t.Fatalf("override by counter: got %v", err)
	}
	if _, err := models.OverrideCountLedgerItem(ctx, f.Admin, session.ID, 9999, decimal.NewFromInt(90), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("override unknown item: got %v", err)
	}

	item, err := models.OverrideCountLedgerItem(ctx, f.Admin, session.ID, rice.ID, decimal.NewFromInt(90), "damaged pallet written down")
	if err != nil {
		t.Fatalf("OverrideCountLedgerItem: %v", err)
	}
	if item.ResolutionMethod != models.ResolutionMethodManualOverride || item.Notes != "damaged pallet written down" {
		t.Fatalf("override not applied: %+v", item)
	}
	if item.FlagReason != models.FlagReasonVarianceFromTheoretical {
		t.Fatalf("10%% override variance: got %s", item.FlagReason)
	}

	// the overridden item no longer holds up the first count
	f.Submit(t, f.Counter1, session.ID, oil.ID, 40)
	if got := f.Session(t, session.ID).Status; got != models.CountingSessionStatusCount2InProgress {
		t.Fatalf("status: got %s", got)
	}
	// a later count is recorded but never replaces the override
	f.Submit(t, f.Counter2, session.ID, rice.ID, 100)
	rice = f.ItemFor(t, session.ID, 0, 0)
	if rice.ResolutionMethod != models.ResolutionMethodManualOverride || !rice.FinalQty.Decimal.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("override replaced: %s final=%s", rice.ResolutionMethod, rice.FinalQty.Decimal)
	}
	if !rice.Count2Qty.Valid {
		t.Fatalf("count 2 not recorded")
	}
}

func TestCountingSessionHistory(t *testing.T) {
	f := countingtest.New(t)
	session := f.CreateSession(t, f.SessionInput())
	for _, item := range f.Items(t, session.ID) {
		f.Submit(t, f.Counter1, session.ID, item.ID, 1)
	}

	histories, err := models.GetHistories(context.Background(), f.DB, f.BusinessId, models.HistoryReferenceCountingSession, session.ID)
	if err != nil {
		t.Fatalf("GetHistories: %v", err)
	}
	if len(histories) != 2 {
		t.Fatalf("histories: got %d want 2", len(histories))
	}
	if histories[0].ActionType != models.HistoryActionCreate || histories[1].ActionType != models.HistoryActionAdvance {
		t.Fatalf("actions: got %s, %s", histories[0].ActionType, histories[1].ActionType)
	}
	if histories[1].UserId != countingtest.Counter1Id {
		t.Fatalf("advance attributed to %d", histories[1].UserId)
	}

	item := f.Items(t, session.ID)[0]
	itemHistories, err := models.GetHistories(context.Background(), f.DB, f.BusinessId, models.HistoryReferenceCountLedgerItem, item.ID)
	if err != nil {
		t.Fatalf("GetHistories: %v", err)
	}
	if len(itemHistories) != 1 || itemHistories[0].ActionType != models.HistoryActionCount {
		t.Fatalf("item history: %+v", itemHistories)
	}
}

func TestCountLedgerItemHistory(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.SessionInput())
	rice := f.ItemFor(t, session.ID, 0, 0)
	f.Submit(t, f.Counter1, session.ID, rice.ID, 97)
	if _, err := models.OverrideCountLedgerItem(ctx, f.Admin, session.ID, rice.ID, decimal.NewFromInt(99), "two sacks behind the pallet"); err != nil {
		t.Fatalf("OverrideCountLedgerItem: %v", err)
	}

	histories, err := models.GetCountLedgerItemHistory(ctx, f.Admin, session.ID, rice.ID)
	if err != nil {
		t.Fatalf("GetCountLedgerItemHistory: %v", err)
	}
	if len(histories) != 2 || histories[0].ActionType != models.HistoryActionCount || histories[1].ActionType != models.HistoryActionOverride {
		t.Fatalf("item history: %+v", histories)
	}
	if !strings.Contains(histories[1].Description, "two sacks behind the pallet") {
		t.Fatalf("override notes missing: %q", histories[1].Description)
	}
	if histories[1].UserId != countingtest.AdminId {
		t.Fatalf("override attributed to %d", histories[1].UserId)
	}

	sessionHistories, err := models.GetCountingSessionHistory(ctx, f.Admin, session.ID)
	if err != nil {
		t.Fatalf("GetCountingSessionHistory: %v", err)
	}
	for _, h := range sessionHistories {
		if h.ReferenceType != models.HistoryReferenceCountingSession {
			t.Fatalf("session history carries %s rows", h.ReferenceType)
		}
	}

	if _, err := models.GetCountLedgerItemHistory(ctx, f.Counter1, session.ID, rice.ID); !errors.Is(err, models.ErrAuthorizationDenied) {
		t.Fatalf("counter reading item history: got %v", err)
	}
	other := f.CreateSession(t, f.SessionInput())
	if _, err := models.GetCountLedgerItemHistory(ctx, f.Admin, other.ID, rice.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("item through another session: got %v", err)
	}
}
