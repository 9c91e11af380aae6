package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/models/reports"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("stockcount-finalization")

type FinalizeResult struct {
	Session     *models.CountingSession       `json:"session"`
	Adjustments []*models.InventoryAdjustment `json:"adjustments"`
}

// FinalizeCountingSession commits every item's final quantity to the stock
// ledger and marks the session Finalized, all in one transaction. Nothing is
// committed if any item is unresolved or any adjustment fails.
func FinalizeCountingSession(ctx context.Context, actor models.Actor, sessionId int, ledger models.StockLedger) (*FinalizeResult, error) {
	ctx, span := tracer.Start(ctx, "FinalizeCountingSession", trace.WithAttributes(
		attribute.String("business_id", actor.BusinessId),
		attribute.Int("counting_session_id", sessionId),
	))
	defer span.End()

	result, err := finalize(ctx, actor, sessionId, ledger)
	if err != nil {
		outcome := "error"
		if ce, ok := models.AsCountingError(err); ok {
			outcome = strings.ToLower(string(ce.Code))
		} else {
			config.LogError(config.GetLogger(), "countFinalization.go", "FinalizeCountingSession", "finalize", sessionId, err)
		}
		config.Finalizations.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	config.Finalizations.WithLabelValues("finalized").Inc()
	span.SetAttributes(attribute.Int("adjustments", len(result.Adjustments)))

	afterFinalize(ctx, actor, result)
	return result, nil
}

func finalize(ctx context.Context, actor models.Actor, sessionId int, ledger models.StockLedger) (*FinalizeResult, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger is required")
	}

	release := obtainCountingLock(ctx, actor.BusinessId, sessionId)
	defer release()

	var result *FinalizeResult
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := models.LockCountingSession(ctx, tx, actor, sessionId)
		if err != nil {
			return err
		}
		if err := session.EnsurePendingReview(); err != nil {
			return err
		}
		items, err := models.ListCountLedgerItems(ctx, tx, actor.BusinessId, session.ID)
		if err != nil {
			return err
		}
		if unresolved := models.UnresolvedItemIds(items); len(unresolved) > 0 {
			return models.UnresolvedItemsRemain(unresolved)
		}

		adjustments := make([]*models.InventoryAdjustment, 0, len(items))
		for _, item := range items {
			adj, err := ledger.Adjust(ctx, tx, models.StockAdjustment{
				BusinessId:      actor.BusinessId,
				ProductId:       item.ProductId,
				WarehouseId:     item.WarehouseId,
				NewQty:          item.FinalQty.Decimal,
				Reason:          "inventory count " + session.ReferenceNumber,
				ActorId:         actor.UserId,
				ReferenceNumber: item.AdjustmentReference(),
			})
			if err != nil {
				return models.UpstreamAdjustmentFailed(item.ID, err)
			}
			adjustments = append(adjustments, adj)
		}

		if err := models.MarkCountingSessionFinalized(ctx, tx, actor, session, len(adjustments)); err != nil {
			return err
		}
		result = &FinalizeResult{Session: session, Adjustments: adjustments}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// afterFinalize publishes the finalized event and archives the workbook.
// Both are best effort: failures are logged, the commit stands.
func afterFinalize(ctx context.Context, actor models.Actor, result *FinalizeResult) {
	logger := config.RequestLogger(ctx).WithFields(logrus.Fields{
		"field":               "afterFinalize",
		"counting_session_id": result.Session.ID,
	})

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	msgId, err := config.PublishCountingEvent(ctx, config.CountingEvent{
		Type:              config.CountingEventSessionFinalized,
		BusinessId:        actor.BusinessId,
		CountingSessionId: result.Session.ID,
		ReferenceNumber:   result.Session.ReferenceNumber,
		ItemCount:         len(result.Adjustments),
		ActorId:           actor.UserId,
		OccurredAt:        time.Now().UTC(),
		CorrelationId:     correlationId,
	})
	if err != nil {
		config.LogError(config.GetLogger(), "countFinalization.go", "afterFinalize", "publish finalized event", result.Session.ID, err)
	} else if msgId != "" {
		logger.WithField("message_id", msgId).Info("counting session finalized event published")
	}

	if bucket := config.CountArchiveBucket(); bucket != "" {
		object, err := ArchiveReconciliation(ctx, actor, result.Session.ID, bucket)
		if err != nil {
			config.LogError(config.GetLogger(), "countFinalization.go", "afterFinalize", "archive reconciliation", result.Session.ID, err)
			return
		}
		logger.WithField("object", object).Info("reconciliation workbook archived")
	}
}

// ArchiveReconciliation uploads the session's reconciliation workbook to
// gs://bucket/<business>/counting/<file> and returns the object name.
func ArchiveReconciliation(ctx context.Context, actor models.Actor, sessionId int, bucket string) (string, error) {
	rec, err := models.GetReconciliation(ctx, actor, sessionId)
	if err != nil {
		return "", err
	}
	data, err := ExportReconciliation(rec)
	if err != nil {
		return "", err
	}
	object := fmt.Sprintf("%s/counting/%s", actor.BusinessId, reports.ReconciliationWorkbookName(rec.Session))
	if err := utils.UploadBytesToGCS(ctx, bucket, object, utils.XlsxContentType, data); err != nil {
		return "", err
	}
	return object, nil
}

// ExportReconciliation renders a reconciliation (with its summary sheet) as xlsx.
func ExportReconciliation(rec *models.Reconciliation) ([]byte, error) {
	return reports.ReconciliationWorkbookBytes(rec, rec.Summary())
}
