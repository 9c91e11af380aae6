package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/stockcount_backend/utils"
)

const CorrelationHeader = "X-Correlation-Id"

// CorrelationMiddleware propagates X-Correlation-Id, generating one when absent.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := strings.TrimSpace(c.Request.Header.Get(CorrelationHeader))
		if correlationId == "" || len(correlationId) > 100 {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Header(CorrelationHeader, correlationId)
		c.Next()
	}
}
