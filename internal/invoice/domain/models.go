// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/gstflow/gstflow/internal/invoice/numbering"
	"github.com/gstflow/gstflow/internal/invoice/recurrence"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// PaymentStatus represents how much of an invoice has been settled.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPartial  PaymentStatus = "partial"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentTermsDays is the fixed window between invoice date and due date.
const PaymentTermsDays = 30

// Invoice is both an ordinary invoice and, when IsRecurring is set, a
// recurring template. Children point back via ParentInvoiceID and are
// plain invoices. All amounts are in paise.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoice_org_number" json:"org_id"`
	CustomerID    snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	InvoiceNumber string        `gorm:"type:text;not null;uniqueIndex:ux_invoice_org_number" json:"invoice_number"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:'draft'" json:"status"`
	PaymentStatus PaymentStatus `gorm:"type:text;not null;default:'unpaid'" json:"payment_status"`

	// Seller and buyer snapshot, frozen at creation time.
	BusinessName      string `gorm:"type:text;not null" json:"business_name"`
	BusinessGSTIN     string `gorm:"type:text" json:"business_gstin"`
	BusinessStateCode string `gorm:"type:text;not null" json:"business_state_code"`
	CustomerName      string `gorm:"type:text;not null" json:"customer_name"`
	CustomerGSTIN     string `gorm:"type:text" json:"customer_gstin"`
	CustomerStateCode string `gorm:"type:text;not null" json:"customer_state_code"`

	Currency    string `gorm:"type:text;not null;default:'INR'" json:"currency"`
	Subtotal    int64  `gorm:"not null;default:0" json:"subtotal"`
	CGSTAmount  int64  `gorm:"not null;default:0" json:"cgst_amount"`
	SGSTAmount  int64  `gorm:"not null;default:0" json:"sgst_amount"`
	IGSTAmount  int64  `gorm:"not null;default:0" json:"igst_amount"`
	TotalAmount int64  `gorm:"not null;default:0" json:"total_amount"`
	AmountPaid  int64  `gorm:"not null;default:0" json:"amount_paid"`

	InvoiceDate time.Time `gorm:"not null" json:"invoice_date"`
	DueDate     time.Time `gorm:"not null" json:"due_date"`
	Notes       string    `gorm:"type:text" json:"notes,omitempty"`

	IsRecurring     bool              `gorm:"not null;default:false;index" json:"is_recurring"`
	ParentInvoiceID *snowflake.ID     `gorm:"index" json:"parent_invoice_id,omitempty"`
	NumberingStyle  numbering.Style   `gorm:"type:text;not null;default:'suffix'" json:"numbering_style"`
	Recurring       recurrence.Config `gorm:"embedded;embeddedPrefix:recurring_" json:"recurring"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// IsIntraState reports whether seller and buyer share a GST state code,
// which decides the CGST+SGST versus IGST split.
func (i Invoice) IsIntraState() bool {
	return i.BusinessStateCode != "" && i.BusinessStateCode == i.CustomerStateCode
}

// BalanceDue is the unpaid remainder in paise.
func (i Invoice) BalanceDue() int64 {
	if i.AmountPaid >= i.TotalAmount {
		return 0
	}
	return i.TotalAmount - i.AmountPaid
}

// InvoiceItem represents a line on an invoice. Unit and line amounts are
// in paise; TaxRate is the GST percentage applied to the line.
type InvoiceItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID    `gorm:"not null;index" json:"org_id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Description string          `gorm:"type:text;not null" json:"description"`
	HSNCode     string          `gorm:"type:text" json:"hsn_code,omitempty"`
	Quantity    int64           `gorm:"not null;default:1" json:"quantity"`
	UnitAmount  int64           `gorm:"not null" json:"unit_amount"`
	TaxRate     decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	Amount      int64           `gorm:"not null" json:"amount"`
	TaxAmount   int64           `gorm:"not null;default:0" json:"tax_amount"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
