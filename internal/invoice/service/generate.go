package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	"github.com/gstflow/gstflow/internal/invoice/numbering"
	"github.com/gstflow/gstflow/pkg/db"
)

// duplicateNumberRetries bounds how often a generation attempt is replayed
// after the unique index on (org_id, invoice_number) rejects the insert.
const duplicateNumberRetries = 3

// GenerateRecurringInvoice produces the next child invoice for a template.
// The whole attempt runs in one transaction: lock template, check due and
// occurrence cap, allocate a number, snapshot the child, advance the cursor.
// Any failure rolls the attempt back whole.
func (s *Service) GenerateRecurringInvoice(ctx context.Context, templateID snowflake.ID) (invoicedomain.Invoice, error) {
	var child invoicedomain.Invoice
	var err error

	for attempt := 0; ; attempt++ {
		child, err = s.generateOnce(ctx, templateID)
		if err == nil {
			return child, nil
		}
		if !db.IsDuplicateKeyErr(err) || attempt >= duplicateNumberRetries {
			return invoicedomain.Invoice{}, err
		}
		s.log.Warn("invoice number collided at commit, retrying",
			zap.String("template_id", templateID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
}

func (s *Service) generateOnce(ctx context.Context, templateID snowflake.ID) (invoicedomain.Invoice, error) {
	now := s.clock.Now()

	var child invoicedomain.Invoice
	var template *invoicedomain.Invoice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadAnyTemplateForUpdate(ctx, tx, templateID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return invoicedomain.ErrTemplateNotFound
		}
		template = loaded

		if !template.Recurring.ShouldGenerate(now) {
			return invoicedomain.ErrNotDueForGeneration
		}

		generated, err := s.countChildren(ctx, tx, templateID)
		if err != nil {
			return err
		}
		if template.Recurring.HasReachedMaxOccurrences(generated) {
			return invoicedomain.ErrMaxOccurrencesReached
		}

		number, err := s.allocateNumber(ctx, tx, template, generated+1, now)
		if err != nil {
			return err
		}

		child = s.snapshotChild(template, number, now)

		items, err := s.loadTemplateItems(ctx, tx, templateID)
		if err != nil {
			return err
		}
		for _, item := range items {
			child.Items = append(child.Items, invoicedomain.InvoiceItem{
				ID:          s.genID.Generate(),
				OrgID:       child.OrgID,
				InvoiceID:   child.ID,
				Description: item.Description,
				HSNCode:     item.HSNCode,
				Quantity:    item.Quantity,
				UnitAmount:  item.UnitAmount,
				TaxRate:     item.TaxRate,
				Amount:      item.Amount,
				TaxAmount:   item.TaxAmount,
				CreatedAt:   now,
			})
		}

		if err := tx.Create(&child).Error; err != nil {
			return err
		}

		advanced, err := template.Recurring.AfterGeneration()
		if err != nil {
			return err
		}
		if err := tx.Model(&invoicedomain.Invoice{}).
			Where("id = ?", templateID).
			Updates(map[string]any{
				"recurring_next_generation_date": advanced.NextGenerationDate,
				"updated_at":                     now,
			}).Error; err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, child.OrgID, "invoice.recurring_generated", child.ID, map[string]any{
		"template_id":    templateID.String(),
		"invoice_number": child.InvoiceNumber,
		"invoice_date":   child.InvoiceDate.Format(time.RFC3339),
	})
	s.log.Info("recurring invoice generated",
		zap.String("template_id", templateID.String()),
		zap.String("invoice_id", child.ID.String()),
		zap.String("invoice_number", child.InvoiceNumber),
	)

	return child, nil
}

// loadAnyTemplateForUpdate fetches and row-locks the template without an org
// filter; the task runner crosses organizations. The recurring flag is still
// checked so a plain invoice id fails the same way as a missing one.
func (s *Service) loadAnyTemplateForUpdate(ctx context.Context, tx *gorm.DB, templateID snowflake.ID) (*invoicedomain.Invoice, error) {
	var rows []invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoices
		 WHERE id = ?
		 FOR UPDATE`,
		templateID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].ID == 0 || !rows[0].IsRecurring {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Service) loadTemplateItems(ctx context.Context, tx *gorm.DB, templateID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := tx.WithContext(ctx).
		Where("invoice_id = ?", templateID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (s *Service) allocateNumber(ctx context.Context, tx *gorm.DB, template *invoicedomain.Invoice, startSeq int, now time.Time) (string, error) {
	exists := func(ctx context.Context, candidate string) (bool, error) {
		var count int64
		err := tx.WithContext(ctx).
			Model(&invoicedomain.Invoice{}).
			Where("org_id = ? AND invoice_number = ?", template.OrgID, candidate).
			Count(&count).Error
		return count > 0, err
	}
	return numbering.Unique(ctx, template.InvoiceNumber, startSeq, numbering.DefaultMaxAttempts, template.NumberingStyle, now, exists)
}

func (s *Service) snapshotChild(template *invoicedomain.Invoice, number string, now time.Time) invoicedomain.Invoice {
	invoiceDate := template.Recurring.Cursor()
	parentID := template.ID

	return invoicedomain.Invoice{
		ID:            s.genID.Generate(),
		OrgID:         template.OrgID,
		CustomerID:    template.CustomerID,
		InvoiceNumber: number,
		Status:        invoicedomain.InvoiceStatusDraft,
		PaymentStatus: invoicedomain.PaymentStatusUnpaid,

		BusinessName:      template.BusinessName,
		BusinessGSTIN:     template.BusinessGSTIN,
		BusinessStateCode: template.BusinessStateCode,
		CustomerName:      template.CustomerName,
		CustomerGSTIN:     template.CustomerGSTIN,
		CustomerStateCode: template.CustomerStateCode,

		Currency:    template.Currency,
		Subtotal:    template.Subtotal,
		CGSTAmount:  template.CGSTAmount,
		SGSTAmount:  template.SGSTAmount,
		IGSTAmount:  template.IGSTAmount,
		TotalAmount: template.TotalAmount,

		InvoiceDate: invoiceDate,
		DueDate:     invoiceDate.AddDate(0, 0, invoicedomain.PaymentTermsDays),
		Notes:       template.Notes,

		IsRecurring:     false,
		ParentInvoiceID: &parentID,
		NumberingStyle:  template.NumberingStyle,

		CreatedAt: now,
		UpdatedAt: now,
	}
}
