package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
	auditrepository "github.com/gstflow/gstflow/internal/audit/repository"
	auditservice "github.com/gstflow/gstflow/internal/audit/service"
	"github.com/gstflow/gstflow/internal/clock"
	"github.com/gstflow/gstflow/internal/config"
	customerdomain "github.com/gstflow/gstflow/internal/customer/domain"
	customerrepository "github.com/gstflow/gstflow/internal/customer/repository"
	customerservice "github.com/gstflow/gstflow/internal/customer/service"
	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	invoiceservice "github.com/gstflow/gstflow/internal/invoice/service"
	obsmetrics "github.com/gstflow/gstflow/internal/observability/metrics"
	paymentdomain "github.com/gstflow/gstflow/internal/payment/domain"
	paymentservice "github.com/gstflow/gstflow/internal/payment/service"
	"github.com/gstflow/gstflow/internal/scheduler"
)

const testCronSecret = "cron-secret"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// SQLite does not understand FOR UPDATE; strip it before execution.
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&customerdomain.Customer{},
		&paymentdomain.Payment{},
		&auditdomain.AuditLog{},
		&scheduler.TaskLease{},
	))
	return db
}

type serverFixture struct {
	server *Server
	db     *gorm.DB
	clock  *clock.FakeClock
	node   *snowflake.Node
	orgID  snowflake.ID
}

func newServerFixture(t *testing.T, start time.Time) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.ResetHTTPMetricsForTest()

	db := openTestDB(t)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(start)
	log := zap.NewNop()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.NewRepository(),
	})
	customerSvc := customerservice.New(customerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  customerrepository.Provide(),
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		AuditSvc: auditSvc,
	})
	paymentSvc := paymentservice.New(paymentservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		AuditSvc: auditSvc,
	})
	sched, err := scheduler.New(scheduler.Params{
		DB:         db,
		Log:        log,
		InvoiceSvc: invoiceSvc,
		AuditSvc:   auditSvc,
		GenID:      node,
		Clock:      fake,
	})
	require.NoError(t, err)

	cfg := config.Config{
		HTTPAddr:   ":0",
		CronSecret: testCronSecret,
	}

	srv := NewServer(ServerParams{
		Gin:         NewEngine(obsmetrics.HTTP()),
		Cfg:         cfg,
		DB:          db,
		GenID:       node,
		AuditSvc:    auditSvc,
		CustomerSvc: customerSvc,
		InvoiceSvc:  invoiceSvc,
		PaymentSvc:  paymentSvc,
		Scheduler:   sched,
	})

	return &serverFixture{
		server: srv,
		db:     db,
		clock:  fake,
		node:   node,
		orgID:  node.Generate(),
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderOrg, f.orgID.String())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) createTemplate(t *testing.T, number string, maxOccurrences int, start time.Time) snowflake.ID {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/api/invoices", gin.H{
		"customer_id":         f.node.Generate().String(),
		"invoice_number":      number,
		"business_name":       "Acme Traders",
		"business_gstin":      "27AAACA1234A1Z5",
		"business_state_code": "27",
		"customer_name":       "Bharat Retail",
		"customer_gstin":      "27AAACB5678B1Z9",
		"customer_state_code": "27",
		"is_recurring":        true,
		"recurring": gin.H{
			"frequency":       "monthly",
			"interval":        1,
			"start_date":      start.Format(time.RFC3339),
			"max_occurrences": maxOccurrences,
			"is_active":       true,
		},
		"items": []gin.H{
			{
				"description": "Retainer",
				"hsn_code":    "9983",
				"quantity":    1,
				"unit_amount": 100000,
				"tax_rate":    18,
			},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data invoicedomain.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data.ID
}

func TestCronTrigger_AllSucceed(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)
	f.createTemplate(t, "INV-A", 12, start)

	rec := f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: testCronSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result scheduler.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Zero(t, result.FailedCount)
	require.Len(t, result.GeneratedInvoices, 1)
	assert.Equal(t, "INV-A-001", result.GeneratedInvoices[0].InvoiceNumber)
}

func TestCronTrigger_PartialFailureIsMultiStatus(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)
	f.createTemplate(t, "INV-A", 12, start)
	middle := f.createTemplate(t, "INV-B", 1, start)

	// First run consumes INV-B's single allowed occurrence.
	rec := f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: testCronSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.clock.Set(start.AddDate(0, 1, 0))
	rec = f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: testCronSecret})
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	var result scheduler.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, middle.String(), result.Errors[0].TemplateID)
}

func TestCronTrigger_LeaseHeldIsConflict(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)

	require.NoError(t, f.db.Create(&scheduler.TaskLease{
		TaskName:  "recurring_invoices",
		Owner:     "other-instance",
		ExpiresAt: start.Add(time.Hour),
		UpdatedAt: start,
	}).Error)

	rec := f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: testCronSecret})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestCronTrigger_RequiresSecret(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)

	rec := f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCronStats(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)
	f.createTemplate(t, "INV-A", 12, start)

	rec := f.do(t, http.MethodGet, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: testCronSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats scheduler.TaskStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.DueInvoicesCount)
	assert.Equal(t, int64(1), stats.ActiveTemplatesCount)
	assert.False(t, stats.IsRunning)
}

func TestCreateInvoice_InvalidRecurringConfigIsUnprocessable(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)

	rec := f.do(t, http.MethodPost, "/api/invoices", gin.H{
		"customer_id":         f.node.Generate().String(),
		"invoice_number":      "INV-X",
		"business_name":       "Acme Traders",
		"business_state_code": "27",
		"customer_name":       "Bharat Retail",
		"customer_state_code": "27",
		"is_recurring":        true,
		"recurring": gin.H{
			"frequency":  "hourly",
			"interval":   0,
			"start_date": start.Format(time.RFC3339),
			"is_active":  true,
		},
		"items": []gin.H{
			{"description": "Retainer", "quantity": 1, "unit_amount": 100000, "tax_rate": 18},
		},
	}, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "invalid_recurring_config")
}

func TestManualGenerate_NotDueIsConflict(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)
	id := f.createTemplate(t, "INV-A", 12, start.AddDate(0, 1, 0))

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%s/generate", id), nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestGetInvoice_UnknownIsNotFound(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/invoices/%s", f.node.Generate()), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseResumeRecurring(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)
	id := f.createTemplate(t, "INV-A", 12, start)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%s/recurring/pause", id), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A paused template is skipped by the batch.
	rec = f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: testCronSecret})
	require.Equal(t, http.StatusOK, rec.Code)
	var result scheduler.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Zero(t, result.ProcessedCount)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/invoices/%s/recurring/resume", id), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/cron/recurring-invoices", nil,
		map[string]string{HeaderCronSecret: testCronSecret})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.ProcessedCount)
}

func TestRecordPaymentFlow(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)

	invoiceID := f.node.Generate()
	require.NoError(t, f.db.Create(&invoicedomain.Invoice{
		ID:            invoiceID,
		OrgID:         f.orgID,
		CustomerID:    f.node.Generate(),
		InvoiceNumber: "INV-P",
		CustomerName:  "Bharat Retail",
		Status:        invoicedomain.InvoiceStatusSent,
		PaymentStatus: invoicedomain.PaymentStatusUnpaid,
		InvoiceDate:   start,
		DueDate:       start.AddDate(0, 0, 30),
		TotalAmount:   118000,
	}).Error)

	rec := f.do(t, http.MethodPost, "/api/payments", gin.H{
		"invoice_id": invoiceID.String(),
		"amount":     118000,
		"method":     "upi",
		"reference":  "UTR123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/payments?invoice_id=%s", invoiceID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UTR123")

	var reloaded invoicedomain.Invoice
	require.NoError(t, f.db.First(&reloaded, "id = ?", invoiceID).Error)
	assert.Equal(t, invoicedomain.PaymentStatusPaid, reloaded.PaymentStatus)
}

func TestCreateAndGetCustomer(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)

	rec := f.do(t, http.MethodPost, "/api/customers", gin.H{
		"name":       "Bharat Retail",
		"email":      "accounts@bharatretail.example",
		"gstin":      "27aaacb5678b1z9",
		"state_code": "27",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data customerdomain.Customer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "27AAACB5678B1Z9", created.Data.GSTIN)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/customers/%s", created.Data.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := newServerFixture(t, start)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
