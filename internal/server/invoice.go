package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	"github.com/gstflow/gstflow/internal/invoice/numbering"
	"github.com/gstflow/gstflow/internal/invoice/recurrence"
	"github.com/gstflow/gstflow/pkg/db/pagination"
)

type createInvoiceItemRequest struct {
	Description string          `json:"description"`
	HSNCode     string          `json:"hsn_code"`
	Quantity    int64           `json:"quantity"`
	UnitAmount  int64           `json:"unit_amount"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

type createInvoiceRequest struct {
	CustomerID        string                     `json:"customer_id"`
	InvoiceNumber     string                     `json:"invoice_number"`
	BusinessName      string                     `json:"business_name"`
	BusinessGSTIN     string                     `json:"business_gstin"`
	BusinessStateCode string                     `json:"business_state_code"`
	CustomerName      string                     `json:"customer_name"`
	CustomerGSTIN     string                     `json:"customer_gstin"`
	CustomerStateCode string                     `json:"customer_state_code"`
	InvoiceDate       *time.Time                 `json:"invoice_date"`
	Notes             string                     `json:"notes"`
	NumberingStyle    string                     `json:"numbering_style"`
	IsRecurring       bool                       `json:"is_recurring"`
	Recurring         *recurrence.Config         `json:"recurring"`
	Items             []createInvoiceItemRequest `json:"items"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
		return
	}

	inv := invoicedomain.Invoice{
		CustomerID:        customerID,
		InvoiceNumber:     strings.TrimSpace(req.InvoiceNumber),
		BusinessName:      strings.TrimSpace(req.BusinessName),
		BusinessGSTIN:     strings.ToUpper(strings.TrimSpace(req.BusinessGSTIN)),
		BusinessStateCode: strings.TrimSpace(req.BusinessStateCode),
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerGSTIN:     strings.ToUpper(strings.TrimSpace(req.CustomerGSTIN)),
		CustomerStateCode: strings.TrimSpace(req.CustomerStateCode),
		Notes:             req.Notes,
		IsRecurring:       req.IsRecurring,
	}
	if req.InvoiceDate != nil {
		inv.InvoiceDate = *req.InvoiceDate
	}
	if style := strings.TrimSpace(req.NumberingStyle); style != "" {
		inv.NumberingStyle = numbering.Style(style)
	}
	if req.Recurring != nil {
		inv.Recurring = *req.Recurring
	}
	for _, item := range req.Items {
		inv.Items = append(inv.Items, invoicedomain.InvoiceItem{
			Description: strings.TrimSpace(item.Description),
			HSNCode:     strings.TrimSpace(item.HSNCode),
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			TaxRate:     item.TaxRate,
		})
	}

	created, err := s.invoiceSvc.Create(c.Request.Context(), inv)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": created})
}

func (s *Server) ListInvoices(c *gin.Context) {
	req := invoicedomain.ListInvoiceRequest{
		Pagination: pagination.Pagination{
			PageToken: c.Query("page_token"),
		},
		Status:        invoicedomain.InvoiceStatus(strings.TrimSpace(c.Query("status"))),
		RecurringOnly: c.Query("recurring_only") == "true",
	}
	if size, err := strconv.Atoi(c.Query("page_size")); err == nil {
		req.PageSize = size
	}
	if raw := strings.TrimSpace(c.Query("customer_id")); raw != "" {
		customerID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
			return
		}
		req.CustomerID = customerID
	}
	if raw := strings.TrimSpace(c.Query("is_recurring")); raw != "" {
		recurring := raw == "true"
		req.IsRecurring = &recurring
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) PauseRecurring(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	template, err := s.invoiceSvc.PauseRecurring(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": template})
}

func (s *Server) ResumeRecurring(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	template, err := s.invoiceSvc.ResumeRecurring(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": template})
}

func (s *Server) FutureDates(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	req := invoicedomain.FutureDatesRequest{TemplateID: id}
	if max, err := strconv.Atoi(c.Query("max_dates")); err == nil {
		req.MaxDates = max
	}

	resp, err := s.invoiceSvc.FutureDates(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GenerateRecurringInvoice triggers a single template's generation outside
// the batch path, for manual catch-up.
func (s *Server) GenerateRecurringInvoice(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	child, err := s.invoiceSvc.GenerateRecurringInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": child})
}

func (s *Server) pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
