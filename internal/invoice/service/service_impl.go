package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
	"github.com/gstflow/gstflow/internal/clock"
	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	"github.com/gstflow/gstflow/internal/invoice/numbering"
	"github.com/gstflow/gstflow/internal/invoice/recurrence"
	"github.com/gstflow/gstflow/internal/orgcontext"
	"github.com/gstflow/gstflow/internal/tax"
	"github.com/gstflow/gstflow/pkg/db/option"
	"github.com/gstflow/gstflow/pkg/db/pagination"
	"github.com/gstflow/gstflow/pkg/repository"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	invoicerepo repository.Repository[invoicedomain.Invoice]
	auditSvc    auditdomain.Service
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, invoice invoicedomain.Invoice) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoice.OrgID = orgID
	if err := s.validateInvoice(&invoice); err != nil {
		return invoicedomain.Invoice{}, err
	}

	now := s.clock.Now()
	if invoice.IsRecurring {
		if violations := recurrence.Validate(invoice.Recurring); len(violations) > 0 {
			return invoicedomain.Invoice{}, &invoicedomain.ConfigValidationError{Violations: violations}
		}
		if invoice.Recurring.NextGenerationDate == nil {
			start := invoice.Recurring.StartDate
			invoice.Recurring.NextGenerationDate = &start
		}
	}

	if invoice.InvoiceDate.IsZero() {
		invoice.InvoiceDate = now
	}
	if invoice.DueDate.IsZero() {
		invoice.DueDate = invoice.InvoiceDate.AddDate(0, 0, invoicedomain.PaymentTermsDays)
	}
	if invoice.Currency == "" {
		invoice.Currency = "INR"
	}
	if invoice.NumberingStyle != numbering.StylePrefix {
		invoice.NumberingStyle = numbering.StyleSuffix
	}
	invoice.Status = invoicedomain.InvoiceStatusDraft
	invoice.PaymentStatus = invoicedomain.PaymentStatusUnpaid

	var totals tax.Totals
	intra := invoice.IsIntraState()
	for i := range invoice.Items {
		item := &invoice.Items[i]
		item.Amount = item.Quantity * item.UnitAmount
		line, err := tax.ComputeLine(item.Amount, item.TaxRate, intra)
		if err != nil {
			return invoicedomain.Invoice{}, err
		}
		item.TaxAmount = line.Total
		totals.Add(line)
	}
	invoice.Subtotal = totals.Subtotal
	invoice.CGSTAmount = totals.CGST
	invoice.SGSTAmount = totals.SGST
	invoice.IGSTAmount = totals.IGST
	invoice.TotalAmount = totals.Grand()

	invoice.ID = s.genID.Generate()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	for i := range invoice.Items {
		invoice.Items[i].ID = s.genID.Generate()
		invoice.Items[i].OrgID = orgID
		invoice.Items[i].InvoiceID = invoice.ID
		invoice.Items[i].CreatedAt = now
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&invoice).Error
	}); err != nil {
		return invoicedomain.Invoice{}, err
	}

	action := "invoice.created"
	if invoice.IsRecurring {
		action = "invoice.template_created"
	}
	s.audit(ctx, orgID, action, invoice.ID, map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"total_amount":   invoice.TotalAmount,
	})

	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	filter := &invoicedomain.Invoice{OrgID: orgID}
	if req.Status != "" {
		filter.Status = req.Status
	}
	if req.CustomerID != 0 {
		filter.CustomerID = req.CustomerID
	}
	if req.RecurringOnly || (req.IsRecurring != nil && *req.IsRecurring) {
		filter.IsRecurring = true
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Default: "created_at", Desc: true}),
		option.WithLimit(pageSize + 1),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LT,
			Value:    createdAt,
		}))
	}

	items, err := s.invoicerepo.Find(ctx, filter, opts...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := invoicedomain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	found, err := s.invoicerepo.FindOne(ctx,
		&invoicedomain.Invoice{ID: id, OrgID: orgID},
		option.WithPreload("Items"),
	)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if found == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *found, nil
}

func (s *Service) PauseRecurring(ctx context.Context, templateID snowflake.ID) (invoicedomain.Invoice, error) {
	return s.setRecurringActive(ctx, templateID, false, "invoice.recurring_paused")
}

func (s *Service) ResumeRecurring(ctx context.Context, templateID snowflake.ID) (invoicedomain.Invoice, error) {
	return s.setRecurringActive(ctx, templateID, true, "invoice.recurring_resumed")
}

func (s *Service) setRecurringActive(ctx context.Context, templateID snowflake.ID, active bool, action string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var template invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadTemplateForUpdate(ctx, tx, orgID, templateID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return invoicedomain.ErrTemplateNotFound
		}

		if err := tx.Model(&invoicedomain.Invoice{}).
			Where("id = ?", templateID).
			Update("recurring_is_active", active).Error; err != nil {
			return err
		}

		loaded.Recurring.IsActive = active
		template = *loaded
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, orgID, action, templateID, nil)
	return template, nil
}

func (s *Service) FutureDates(ctx context.Context, req invoicedomain.FutureDatesRequest) (invoicedomain.FutureDatesResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.FutureDatesResponse{}, err
	}

	found, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: req.TemplateID, OrgID: orgID})
	if err != nil {
		return invoicedomain.FutureDatesResponse{}, err
	}
	if found == nil || !found.IsRecurring {
		return invoicedomain.FutureDatesResponse{}, invoicedomain.ErrTemplateNotFound
	}

	prior, err := s.countChildren(ctx, s.db, req.TemplateID)
	if err != nil {
		return invoicedomain.FutureDatesResponse{}, err
	}

	maxDates := req.MaxDates
	if maxDates <= 0 {
		maxDates = 12
	}
	dates, err := recurrence.FutureDates(found.Recurring, maxDates, prior)
	if err != nil {
		return invoicedomain.FutureDatesResponse{}, err
	}

	return invoicedomain.FutureDatesResponse{TemplateID: req.TemplateID, Dates: dates}, nil
}

func (s *Service) validateInvoice(invoice *invoicedomain.Invoice) error {
	if invoice.CustomerID == 0 || strings.TrimSpace(invoice.CustomerName) == "" {
		return invoicedomain.ErrInvalidInvoice
	}
	if strings.TrimSpace(invoice.InvoiceNumber) == "" {
		return invoicedomain.ErrInvalidInvoice
	}
	if len(invoice.Items) == 0 {
		return invoicedomain.ErrInvalidInvoice
	}
	for _, item := range invoice.Items {
		if item.Quantity <= 0 || item.UnitAmount < 0 {
			return invoicedomain.ErrInvalidInvoice
		}
	}
	return nil
}

func (s *Service) loadTemplateForUpdate(ctx context.Context, tx *gorm.DB, orgID, templateID snowflake.ID) (*invoicedomain.Invoice, error) {
	var rows []invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoices
		 WHERE id = ? AND org_id = ?
		 FOR UPDATE`,
		templateID, orgID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].ID == 0 || !rows[0].IsRecurring {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Service) countChildren(ctx context.Context, db *gorm.DB, templateID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("parent_invoice_id = ?", templateID).
		Count(&count).Error
	return int(count), err
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	target := targetID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "invoice", &target, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
