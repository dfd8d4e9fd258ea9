package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
	"github.com/gstflow/gstflow/internal/clock"
	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	"github.com/gstflow/gstflow/internal/orgcontext"
	paymentdomain "github.com/gstflow/gstflow/internal/payment/domain"
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
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func New(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) RecordPayment(ctx context.Context, req paymentdomain.RecordPaymentRequest) (paymentdomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidOrganization
	}
	if req.Amount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	if !validMethod(req.Method) {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidMethod
	}

	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
		PaidAt:    now,
		CreatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, orgID, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return paymentdomain.ErrInvoiceNotFound
		}
		if invoice.Status == invoicedomain.InvoiceStatusCancelled ||
			invoice.PaymentStatus == invoicedomain.PaymentStatusRefunded {
			return paymentdomain.ErrInvoiceNotPayable
		}
		if req.Amount > invoice.BalanceDue() {
			return paymentdomain.ErrOverpayment
		}

		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		paid := invoice.AmountPaid + req.Amount
		status := invoicedomain.PaymentStatusPartial
		updates := map[string]any{
			"amount_paid":    paid,
			"payment_status": status,
			"updated_at":     now,
		}
		if paid >= invoice.TotalAmount {
			status = invoicedomain.PaymentStatusPaid
			updates["payment_status"] = status
			updates["status"] = invoicedomain.InvoiceStatusPaid
		}

		return tx.Model(&invoicedomain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(updates).Error
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	target := payment.InvoiceID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, "payment.recorded", "invoice", &target, map[string]any{
		"payment_id": payment.ID.String(),
		"amount":     payment.Amount,
		"method":     string(payment.Method),
	}); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}

	return payment, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.ListPaymentResponse{}, paymentdomain.ErrInvalidOrganization
	}

	var payments []paymentdomain.Payment
	stmt := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if req.InvoiceID != 0 {
		stmt = stmt.Where("invoice_id = ?", req.InvoiceID)
	}
	if err := stmt.Order("paid_at DESC, id DESC").Find(&payments).Error; err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	return paymentdomain.ListPaymentResponse{Payments: payments}, nil
}

func (s *Service) loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	var rows []invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoices
		 WHERE id = ? AND org_id = ?
		 FOR UPDATE`,
		invoiceID, orgID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].ID == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func validMethod(m paymentdomain.Method) bool {
	switch m {
	case paymentdomain.MethodBankTransfer, paymentdomain.MethodUPI, paymentdomain.MethodCard,
		paymentdomain.MethodCash, paymentdomain.MethodCheque:
		return true
	default:
		return false
	}
}
