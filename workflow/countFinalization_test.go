package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/models/countingtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// failingLedger rejects adjustments for one product and delegates the rest.
type failingLedger struct {
	*models.GormStockLedger
	productId int
}

func (l *failingLedger) Adjust(ctx context.Context, tx *gorm.DB, adj models.StockAdjustment) (*models.InventoryAdjustment, error) {
	if adj.ProductId == l.productId {
		return nil, fmt.Errorf("ledger offline for product %d", adj.ProductId)
	}
	return l.GormStockLedger.Adjust(ctx, tx, adj)
}

// countedSession runs a single-count session over warehouse A: rice 97
// (theoretical 100), oil 40 (theoretical 40).
func countedSession(t *testing.T, f *countingtest.Fixture) *models.CountingSession {
	t.Helper()
	session := f.CreateSession(t, f.SessionInput())
	f.Submit(t, f.Counter1, session.ID, f.ItemFor(t, session.ID, 0, 0).ID, 97)
	f.Submit(t, f.Counter1, session.ID, f.ItemFor(t, session.ID, 0, 1).ID, 40)
	require.Equal(t, models.CountingSessionStatusPendingReview, f.Session(t, session.ID).Status)
	return session
}

func TestFinalizeCommitsFinalQuantities(t *testing.T) {
	f := countingtest.New(t)
	session := countedSession(t, f)

	result, err := FinalizeCountingSession(context.Background(), f.Admin, session.ID, f.Ledger)
	require.NoError(t, err)
	require.Equal(t, models.CountingSessionStatusFinalized, result.Session.Status)
	require.Len(t, result.Adjustments, 2)

	require.True(t, f.Balance(t, 0, 0).Equal(decimal.NewFromInt(97)), "rice balance %s", f.Balance(t, 0, 0))
	require.True(t, f.Balance(t, 0, 1).Equal(decimal.NewFromInt(40)), "oil balance %s", f.Balance(t, 0, 1))
	// out of scope stock is untouched
	require.True(t, f.Balance(t, 1, 2).Equal(decimal.NewFromInt(10)))

	adjustments, err := models.GetInventoryAdjustmentsByPrefix(context.Background(), f.DB, f.BusinessId, models.CountAdjustmentReferencePrefix(session.ID))
	require.NoError(t, err)
	require.Len(t, adjustments, 2)
	for _, adj := range adjustments {
		require.Len(t, adj.Details, 1)
		if adj.Details[0].ProductId == f.Products[0].ID {
			require.True(t, adj.Details[0].AdjustedQty.Equal(decimal.NewFromInt(-3)), "adjusted %s", adj.Details[0].AdjustedQty)
		}
	}

	reloaded := f.Session(t, session.ID)
	require.Equal(t, models.CountingSessionStatusFinalized, reloaded.Status)
	require.NotNil(t, reloaded.FinalizedAt)
	require.Equal(t, countingtest.AdminId, *reloaded.FinalizedBy)
}

func TestFinalizeRefusesUnresolvedItems(t *testing.T) {
	f := countingtest.New(t)
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeParallel, false))
	rice := f.ItemFor(t, session.ID, 0, 0)
	oil := f.ItemFor(t, session.ID, 0, 1)
	f.Submit(t, f.Counter1, session.ID, rice.ID, 95)
	f.Submit(t, f.Counter2, session.ID, rice.ID, 102)
	f.Submit(t, f.Counter1, session.ID, oil.ID, 40)
	f.Submit(t, f.Counter2, session.ID, oil.ID, 40)

	_, err := FinalizeCountingSession(context.Background(), f.Admin, session.ID, f.Ledger)
	require.True(t, errors.Is(err, models.ErrUnresolvedItemsRemain), "got %v", err)
	ce, ok := models.AsCountingError(err)
	require.True(t, ok)
	require.Equal(t, []int{rice.ID}, ce.ItemIds)

	require.Equal(t, models.CountingSessionStatusPendingReview, f.Session(t, session.ID).Status)
	require.True(t, f.Balance(t, 0, 0).Equal(decimal.NewFromInt(100)))
	require.True(t, f.Balance(t, 0, 1).Equal(decimal.NewFromInt(40)))

	// resolving the item by hand unblocks finalize
	_, err = models.OverrideCountLedgerItem(context.Background(), f.Admin, session.ID, rice.ID, decimal.NewFromInt(98), "recounted by supervisor")
	require.NoError(t, err)
	_, err = FinalizeCountingSession(context.Background(), f.Admin, session.ID, f.Ledger)
	require.NoError(t, err)
	require.True(t, f.Balance(t, 0, 0).Equal(decimal.NewFromInt(98)))
}

func TestFinalizeRequiresPendingReview(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := f.CreateSession(t, f.TwoCountInput(models.ExecutionModeSequential, false))

	_, err := FinalizeCountingSession(ctx, f.Admin, session.ID, f.Ledger)
	require.True(t, errors.Is(err, models.ErrInvalidState), "count 1 in progress: %v", err)

	f.Submit(t, f.Counter1, session.ID, f.ItemFor(t, session.ID, 0, 0).ID, 97)
	f.Submit(t, f.Counter1, session.ID, f.ItemFor(t, session.ID, 0, 1).ID, 40)
	require.Equal(t, models.CountingSessionStatusCount2InProgress, f.Session(t, session.ID).Status)

	_, err = FinalizeCountingSession(ctx, f.Admin, session.ID, f.Ledger)
	require.True(t, errors.Is(err, models.ErrInvalidState), "count 2 in progress: %v", err)
	require.Equal(t, models.CountingSessionStatusCount2InProgress, f.Session(t, session.ID).Status)
	require.True(t, f.Balance(t, 0, 0).Equal(decimal.NewFromInt(100)))
	adjustments, err := models.GetInventoryAdjustmentsByPrefix(ctx, f.DB, f.BusinessId, models.CountAdjustmentReferencePrefix(session.ID))
	require.NoError(t, err)
	require.Empty(t, adjustments)
}

func TestFinalizeRollsBackWhenLedgerRejects(t *testing.T) {
	f := countingtest.New(t)
	session := countedSession(t, f)
	oil := f.ItemFor(t, session.ID, 0, 1)
	ledger := &failingLedger{GormStockLedger: f.Ledger, productId: f.Products[1].ID}

	_, err := FinalizeCountingSession(context.Background(), f.Admin, session.ID, ledger)
	require.True(t, errors.Is(err, models.ErrUpstreamAdjustmentFailed), "got %v", err)
	ce, _ := models.AsCountingError(err)
	require.Equal(t, []int{oil.ID}, ce.ItemIds)
	require.ErrorContains(t, err, "ledger offline")

	// the rice adjustment made before the failure is rolled back too
	require.True(t, f.Balance(t, 0, 0).Equal(decimal.NewFromInt(100)), "rice balance %s", f.Balance(t, 0, 0))
	require.Equal(t, models.CountingSessionStatusPendingReview, f.Session(t, session.ID).Status)
	adjustments, err := models.GetInventoryAdjustmentsByPrefix(context.Background(), f.DB, f.BusinessId, models.CountAdjustmentReferencePrefix(session.ID))
	require.NoError(t, err)
	require.Empty(t, adjustments)

	// a retry with a working ledger goes through
	_, err = FinalizeCountingSession(context.Background(), f.Admin, session.ID, f.Ledger)
	require.NoError(t, err)
	require.True(t, f.Balance(t, 0, 0).Equal(decimal.NewFromInt(97)))
}

func TestFinalizedSessionIsClosed(t *testing.T) {
	f := countingtest.New(t)
	ctx := context.Background()
	session := countedSession(t, f)
	rice := f.ItemFor(t, session.ID, 0, 0)

	_, err := FinalizeCountingSession(ctx, f.Admin, session.ID, f.Ledger)
	require.NoError(t, err)

	_, err = FinalizeCountingSession(ctx, f.Admin, session.ID, f.Ledger)
	require.True(t, errors.Is(err, models.ErrInvalidState), "second finalize: %v", err)

	_, err = models.SubmitCount(ctx, f.Counter1, session.ID, rice.ID, decimal.NewFromInt(1))
	require.True(t, errors.Is(err, models.ErrInvalidState), "submit after finalize: %v", err)

	_, err = models.OverrideCountLedgerItem(ctx, f.Admin, session.ID, rice.ID, decimal.NewFromInt(1), "late fix")
	require.True(t, errors.Is(err, models.ErrInvalidState), "override after finalize: %v", err)

	// blind access ends with the assignment
	_, err = models.GetItemsToCount(ctx, f.Counter1, session.ID, false)
	require.True(t, errors.Is(err, models.ErrAuthorizationDenied), "counter view after finalize: %v", err)
}

func TestFinalizeRequiresAdministrator(t *testing.T) {
	f := countingtest.New(t)
	session := countedSession(t, f)

	_, err := FinalizeCountingSession(context.Background(), f.Counter1, session.ID, f.Ledger)
	require.True(t, errors.Is(err, models.ErrAuthorizationDenied), "got %v", err)
	require.Equal(t, models.CountingSessionStatusPendingReview, f.Session(t, session.ID).Status)

	_, err = FinalizeCountingSession(context.Background(), f.Admin, 4242, f.Ledger)
	require.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)
}

func TestExportReconciliation(t *testing.T) {
	f := countingtest.New(t)
	session := countedSession(t, f)

	rec, err := models.GetReconciliation(context.Background(), f.Admin, session.ID)
	require.NoError(t, err)
	data, err := ExportReconciliation(rec)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	book, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer book.Close()
	require.Equal(t, []string{"Reconciliation", "Summary"}, book.GetSheetList())

	rows, err := book.GetRows("Reconciliation")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "ItemId", rows[0][0])
	names := []string{rows[1][3], rows[2][3]}
	require.ElementsMatch(t, []string{f.Products[0].Name, f.Products[1].Name}, names)

	total, err := book.GetCellValue("Summary", "B3")
	require.NoError(t, err)
	require.Equal(t, "2", total)
}
