// Package domain defines payment records against invoices.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Method enumerates accepted settlement channels.
type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodUPI          Method = "upi"
	MethodCard         Method = "card"
	MethodCash         Method = "cash"
	MethodCheque       Method = "cheque"
)

// Payment is one settlement applied to an invoice. Amount is in paise.
type Payment struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"not null;index" json:"org_id"`
	InvoiceID snowflake.ID      `gorm:"not null;index" json:"invoice_id"`
	Amount    int64             `gorm:"not null" json:"amount"`
	Method    Method            `gorm:"type:text;not null" json:"method"`
	Reference string            `gorm:"type:text" json:"reference,omitempty"`
	Notes     string            `gorm:"type:text" json:"notes,omitempty"`
	PaidAt    time.Time         `gorm:"not null" json:"paid_at"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

type RecordPaymentRequest struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
	Amount    int64        `json:"amount"`
	Method    Method       `json:"method"`
	Reference string       `json:"reference"`
	Notes     string       `json:"notes"`
}

type ListPaymentRequest struct {
	InvoiceID snowflake.ID
}

type ListPaymentResponse struct {
	Payments []Payment `json:"payments"`
}

type Service interface {
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (Payment, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidMethod       = errors.New("invalid_method")
	ErrInvoiceNotPayable   = errors.New("invoice_not_payable")
	ErrOverpayment         = errors.New("overpayment_not_allowed")
)
