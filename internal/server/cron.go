package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gstflow/gstflow/internal/scheduler"
)

// TriggerRecurringInvoices runs one recurring generation batch. The response
// body always carries the batch result; the status code distinguishes full
// success, partial success, a run already in progress and total failure.
func (s *Server) TriggerRecurringInvoices(c *gin.Context) {
	result, err := s.scheduler.GenerateDueRecurringInvoices(c.Request.Context())
	if errors.Is(err, scheduler.ErrRunInProgress) {
		c.JSON(http.StatusConflict, result)
		return
	}
	if err != nil && result.ProcessedCount == 0 && result.FailedCount == 0 {
		// Infrastructure failure before any template was attempted.
		c.JSON(http.StatusInternalServerError, result)
		return
	}

	switch {
	case result.FailedCount == 0:
		c.JSON(http.StatusOK, result)
	case result.ProcessedCount > 0:
		c.JSON(http.StatusMultiStatus, result)
	default:
		c.JSON(http.StatusInternalServerError, result)
	}
}

func (s *Server) RecurringInvoiceStats(c *gin.Context) {
	stats, err := s.scheduler.TaskStatistics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
