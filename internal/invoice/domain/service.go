package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/gstflow/gstflow/pkg/db/pagination"
)

var (
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrTemplateNotFound      = errors.New("template_not_found")
	ErrNotDueForGeneration   = errors.New("not_due_for_generation")
	ErrMaxOccurrencesReached = errors.New("max_occurrences_reached")
	ErrInvalidInvoice        = errors.New("invalid_invoice")
)

// ConfigValidationError carries every recurring config violation found.
type ConfigValidationError struct {
	Violations []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid_recurring_config: %s", strings.Join(e.Violations, "; "))
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status        InvoiceStatus
	IsRecurring   *bool
	RecurringOnly bool
	CustomerID    snowflake.ID
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type FutureDatesRequest struct {
	TemplateID snowflake.ID
	MaxDates   int
}

type FutureDatesResponse struct {
	TemplateID snowflake.ID `json:"template_id"`
	Dates      []time.Time  `json:"dates"`
}

type Service interface {
	Create(ctx context.Context, invoice Invoice) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	PauseRecurring(ctx context.Context, templateID snowflake.ID) (Invoice, error)
	ResumeRecurring(ctx context.Context, templateID snowflake.ID) (Invoice, error)
	FutureDates(ctx context.Context, req FutureDatesRequest) (FutureDatesResponse, error)
	GenerateRecurringInvoice(ctx context.Context, templateID snowflake.ID) (Invoice, error)
}
