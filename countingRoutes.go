package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/mmdatafocus/stockcount_backend/middlewares"
	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/models/reports"
	"github.com/mmdatafocus/stockcount_backend/utils"
	"github.com/mmdatafocus/stockcount_backend/workflow"
	"github.com/shopspring/decimal"
)

type countInput struct {
	Qty *decimal.Decimal `json:"qty"`
}

type overrideInput struct {
	Qty   *decimal.Decimal `json:"qty"`
	Notes string           `json:"notes"`
}

type thirdCountInput struct {
	ItemIds       []int `json:"item_ids"`
	CounterUserId *int  `json:"counter_user_id"`
}

func registerCountingRoutes(g *gin.RouterGroup, ledger models.StockLedger) {
	// counter paths; the blind view gateway rejects everyone without an open assignment
	g.GET("/tasks", listTasksHandler())
	g.GET("/sessions/:id/items", listItemsToCountHandler())
	g.GET("/sessions/:id/items/:itemId", getCounterItemHandler())
	g.GET("/sessions/:id/lookup", lookupBarcodeHandler())
	g.POST("/sessions/:id/items/:itemId/count", submitCountHandler())
	g.POST("/sessions/:id/unexpected", submitUnexpectedHandler())

	admin := g.Group("", middlewares.RequireRole(models.UserRoleAdmin))
	admin.POST("/sessions", createSessionHandler(ledger))
	admin.GET("/sessions/:id", getSessionHandler())
	admin.GET("/sessions/:id/reconciliation", reconciliationHandler())
	admin.GET("/sessions/:id/summary", summaryHandler())
	admin.GET("/sessions/:id/export", exportHandler())
	admin.GET("/sessions/:id/history", historyHandler())
	admin.GET("/sessions/:id/items/:itemId/history", itemHistoryHandler())
	admin.POST("/sessions/:id/items/:itemId/override", overrideHandler())
	admin.POST("/sessions/:id/third-count", thirdCountHandler())
	admin.POST("/sessions/:id/finalize", finalizeHandler(ledger))
}

// respondError writes CountingErrors with their status and code; anything
// else is logged and hidden behind a 500.
func respondError(c *gin.Context, err error) {
	if ce, ok := models.AsCountingError(err); ok {
		c.JSON(ce.HTTPStatus(), ce)
		return
	}
	_ = c.Error(err)
	config.RequestLogger(c.Request.Context()).WithField("path", c.FullPath()).Error(err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": models.ErrCodeValidationFailed, "error": message})
}

func requestActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := models.ActorFromContext(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return actor, ok
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func listTasksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		tasks, err := models.GetCounterTasks(c.Request.Context(), actor)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tasks)
	}
}

func listItemsToCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		uncounted := strings.EqualFold(c.Query("uncounted"), "true")
		items, err := models.GetItemsToCount(c.Request.Context(), actor, sessionId, uncounted)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func getCounterItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		itemId, ok := intParam(c, "itemId")
		if !ok {
			return
		}
		item, err := models.GetCounterItem(c.Request.Context(), actor, sessionId, itemId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func lookupBarcodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		warehouseId, err := strconv.Atoi(c.Query("warehouse_id"))
		if err != nil || warehouseId <= 0 {
			badRequest(c, "invalid warehouse_id")
			return
		}
		item, err := models.LookupItemByBarcode(c.Request.Context(), actor, sessionId, c.Query("barcode"), warehouseId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func submitCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		itemId, ok := intParam(c, "itemId")
		if !ok {
			return
		}
		var input countInput
		if err := c.ShouldBindJSON(&input); err != nil || input.Qty == nil {
			badRequest(c, "qty is required")
			return
		}
		item, err := models.SubmitCount(c.Request.Context(), actor, sessionId, itemId, *input.Qty)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func submitUnexpectedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		var input models.UnexpectedCountInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request")
			return
		}
		item, err := models.SubmitUnexpectedCount(c.Request.Context(), actor, sessionId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func createSessionHandler(ledger models.StockLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		var input models.NewCountingSession
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
		session, err := models.CreateCountingSession(c.Request.Context(), actor, &input, ledger)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

func getSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		session, err := models.GetCountingSession(c.Request.Context(), actor, sessionId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func reconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		rec, err := models.GetReconciliation(c.Request.Context(), actor, sessionId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func summaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		summary, err := models.GetCountingSummary(c.Request.Context(), actor, sessionId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func exportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		rec, err := models.GetReconciliation(c.Request.Context(), actor, sessionId)
		if err != nil {
			respondError(c, err)
			return
		}
		data, err := workflow.ExportReconciliation(rec)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+reports.ReconciliationWorkbookName(rec.Session))
		c.Data(http.StatusOK, utils.XlsxContentType, data)
	}
}

func historyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		histories, err := models.GetCountingSessionHistory(c.Request.Context(), actor, sessionId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, histories)
	}
}

func itemHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		itemId, ok := intParam(c, "itemId")
		if !ok {
			return
		}
		histories, err := models.GetCountLedgerItemHistory(c.Request.Context(), actor, sessionId, itemId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, histories)
	}
}

func overrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		itemId, ok := intParam(c, "itemId")
		if !ok {
			return
		}
		var input overrideInput
		if err := c.ShouldBindJSON(&input); err != nil || input.Qty == nil {
			badRequest(c, "qty is required")
			return
		}
		item, err := models.OverrideCountLedgerItem(c.Request.Context(), actor, sessionId, itemId, *input.Qty, input.Notes)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func thirdCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		var input thirdCountInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request")
			return
		}
		session, err := models.TriggerThirdCount(c.Request.Context(), actor, sessionId, input.ItemIds, input.CounterUserId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func finalizeHandler(ledger models.StockLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requestActor(c)
		if !ok {
			return
		}
		sessionId, ok := intParam(c, "id")
		if !ok {
			return
		}
		result, err := workflow.FinalizeCountingSession(c.Request.Context(), actor, sessionId, ledger)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
