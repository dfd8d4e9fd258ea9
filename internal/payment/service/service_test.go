package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
	"github.com/gstflow/gstflow/internal/clock"
	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	"github.com/gstflow/gstflow/internal/orgcontext"
	paymentdomain "github.com/gstflow/gstflow/internal/payment/domain"
)

type noopAudit struct{}

func (noopAudit) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (noopAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	svc     paymentdomain.Service
	db      *gorm.DB
	node    *snowflake.Node
	orgID   snowflake.ID
	ctx     context.Context
	invoice invoicedomain.Invoice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate))

	require.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}, &invoicedomain.InvoiceItem{}, &paymentdomain.Payment{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	orgID := node.Generate()

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)),
		AuditSvc: noopAudit{},
	})

	invoice := invoicedomain.Invoice{
		ID:            node.Generate(),
		OrgID:         orgID,
		CustomerID:    node.Generate(),
		InvoiceNumber: "INV-PAY-1",
		Status:        invoicedomain.InvoiceStatusSent,
		PaymentStatus: invoicedomain.PaymentStatusUnpaid,
		BusinessName:  "Acme Traders",
		CustomerName:  "Bharat Retail",
		TotalAmount:   100000,
		InvoiceDate:   time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&invoice).Error)

	return &fixture{
		svc:     svc,
		db:      db,
		node:    node,
		orgID:   orgID,
		ctx:     orgcontext.WithOrgID(context.Background(), orgID),
		invoice: invoice,
	}
}

func (f *fixture) reload(t *testing.T) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", f.invoice.ID).Error)
	return inv
}

func TestRecordPayment_PartialThenPaid(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: f.invoice.ID,
		Amount:    40000,
		Method:    paymentdomain.MethodUPI,
	})
	require.NoError(t, err)

	inv := f.reload(t)
	assert.Equal(t, invoicedomain.PaymentStatusPartial, inv.PaymentStatus)
	assert.Equal(t, int64(40000), inv.AmountPaid)
	assert.Equal(t, int64(60000), inv.BalanceDue())

	_, err = f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: f.invoice.ID,
		Amount:    60000,
		Method:    paymentdomain.MethodBankTransfer,
	})
	require.NoError(t, err)

	inv = f.reload(t)
	assert.Equal(t, invoicedomain.PaymentStatusPaid, inv.PaymentStatus)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, int64(0), inv.BalanceDue())
}

func TestRecordPayment_RejectsOverpayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: f.invoice.ID,
		Amount:    100001,
		Method:    paymentdomain.MethodUPI,
	})
	require.ErrorIs(t, err, paymentdomain.ErrOverpayment)

	inv := f.reload(t)
	assert.Equal(t, int64(0), inv.AmountPaid)
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: f.invoice.ID, Amount: 0, Method: paymentdomain.MethodUPI,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: f.invoice.ID, Amount: 100, Method: paymentdomain.Method("crypto"),
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidMethod)

	_, err = f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: f.node.Generate(), Amount: 100, Method: paymentdomain.MethodUPI,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotFound)

	_, err = f.svc.RecordPayment(context.Background(), paymentdomain.RecordPaymentRequest{
		InvoiceID: f.invoice.ID, Amount: 100, Method: paymentdomain.MethodUPI,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidOrganization)
}

func TestRecordPayment_CancelledInvoiceNotPayable(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).
		Where("id = ?", f.invoice.ID).
		Update("status", invoicedomain.InvoiceStatusCancelled).Error)

	_, err := f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: f.invoice.ID, Amount: 100, Method: paymentdomain.MethodUPI,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotPayable)
}

func TestListPayments(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []int64{10000, 20000} {
		_, err := f.svc.RecordPayment(f.ctx, paymentdomain.RecordPaymentRequest{
			InvoiceID: f.invoice.ID,
			Amount:    amount,
			Method:    paymentdomain.MethodCash,
		})
		require.NoError(t, err)
	}

	resp, err := f.svc.List(f.ctx, paymentdomain.ListPaymentRequest{InvoiceID: f.invoice.ID})
	require.NoError(t, err)
	assert.Len(t, resp.Payments, 2)
}
