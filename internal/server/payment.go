package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	paymentdomain "github.com/gstflow/gstflow/internal/payment/domain"
)

type recordPaymentRequest struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
	Reference string `json:"reference"`
	Notes     string `json:"notes"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice id"))
		return
	}

	payment, err := s.paymentSvc.RecordPayment(c.Request.Context(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Method:    paymentdomain.Method(strings.TrimSpace(req.Method)),
		Reference: strings.TrimSpace(req.Reference),
		Notes:     req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

func (s *Server) ListPayments(c *gin.Context) {
	req := paymentdomain.ListPaymentRequest{}
	if raw := strings.TrimSpace(c.Query("invoice_id")); raw != "" {
		invoiceID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice id"))
			return
		}
		req.InvoiceID = invoiceID
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments})
}
