package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
	"github.com/gstflow/gstflow/internal/clock"
	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	obscontext "github.com/gstflow/gstflow/internal/observability/context"
	obsmetrics "github.com/gstflow/gstflow/internal/observability/metrics"
	"github.com/gstflow/gstflow/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidConfig reports missing scheduler dependencies.
var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

const recurringTask = "recurring_invoices"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service

	// owner identifies this process instance in task_leases rows.
	owner   string
	running atomic.Bool
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.InvoiceSvc == nil || p.AuditSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
		owner:      p.GenID.Generate().String(),
	}, nil
}

// BatchError identifies which template failed and why.
type BatchError struct {
	TemplateID string `json:"templateId"`
	Message    string `json:"message"`
}

// GeneratedInvoice is one successful generation within a batch.
type GeneratedInvoice struct {
	TemplateID    string `json:"templateId"`
	InvoiceID     string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
}

// BatchResult reports the outcome of one recurring generation run.
// Success is true only when no template failed.
type BatchResult struct {
	Success           bool               `json:"success"`
	ProcessedCount    int                `json:"processedCount"`
	FailedCount       int                `json:"failedCount"`
	Errors            []BatchError       `json:"errors"`
	GeneratedInvoices []GeneratedInvoice `json:"generatedInvoices"`
}

// workTemplate is the claim projection for due recurring templates.
type workTemplate struct {
	ID    snowflake.ID
	OrgID snowflake.ID
}

// GenerateDueRecurringInvoices runs one generation batch under the task
// lease. A concurrent holder yields ErrRunInProgress and an empty result;
// per-template failures are collected, never fatal to the batch.
func (s *Scheduler) GenerateDueRecurringInvoices(ctx context.Context) (BatchResult, error) {
	result := BatchResult{
		Errors:            []BatchError{},
		GeneratedInvoices: []GeneratedInvoice{},
	}
	schedMetrics := obsmetrics.Scheduler()

	if err := s.acquireLease(ctx, recurringTask, s.owner); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			schedMetrics.IncLeaseConflict()
			s.logger(ctx).Warn("recurring run rejected, lease held elsewhere",
				zap.String("task", recurringTask),
			)
			return result, ErrRunInProgress
		}
		return result, fmt.Errorf("acquire lease: %w", err)
	}
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		if err := s.releaseLease(context.WithoutCancel(ctx), recurringTask, s.owner); err != nil {
			s.log.Warn("release lease failed", zap.String("task", recurringTask), zap.Error(err))
		}
	}()

	s.auditLeaseAcquired(ctx)

	var jobErr error
	var lastID snowflake.ID
	now := s.clock.Now()

	for {
		if ctx.Err() != nil {
			return s.finish(result), errors.Join(jobErr, ctx.Err())
		}

		templates, err := s.fetchDueTemplates(ctx, now, lastID, s.cfg.BatchSize)
		if err != nil {
			return s.finish(result), errors.Join(jobErr, fmt.Errorf("fetch due templates: %w", err))
		}
		if len(templates) == 0 {
			break
		}

		for _, tpl := range templates {
			lastID = tpl.ID
			genCtx := orgcontext.WithOrgID(ctx, tpl.OrgID)
			child, err := s.invoiceSvc.GenerateRecurringInvoice(genCtx, tpl.ID)
			if err != nil {
				result.FailedCount++
				result.Errors = append(result.Errors, BatchError{
					TemplateID: tpl.ID.String(),
					Message:    err.Error(),
				})
				jobErr = errors.Join(jobErr, fmt.Errorf("template %s: %w", tpl.ID, err))
				schedMetrics.IncGeneratedInvoice("failed")
				s.logger(genCtx).Error("recurring generation failed",
					zap.String("template_id", tpl.ID.String()),
					zap.String("org_id", tpl.OrgID.String()),
					zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
					zap.Error(err),
				)
				continue
			}

			result.ProcessedCount++
			result.GeneratedInvoices = append(result.GeneratedInvoices, GeneratedInvoice{
				TemplateID:    tpl.ID.String(),
				InvoiceID:     child.ID.String(),
				InvoiceNumber: child.InvoiceNumber,
			})
			schedMetrics.IncGeneratedInvoice("generated")
		}
	}

	return s.finish(result), jobErr
}

func (s *Scheduler) finish(result BatchResult) BatchResult {
	result.Success = result.FailedCount == 0
	return result
}

// fetchDueTemplates mirrors the in-memory dueness rule in SQL so only
// templates that would pass ShouldGenerate are claimed.
func (s *Scheduler) fetchDueTemplates(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]workTemplate, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	var templates []workTemplate
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id
		 FROM invoices
		 WHERE is_recurring = ?
		   AND parent_invoice_id IS NULL
		   AND recurring_is_active = ?
		   AND COALESCE(recurring_next_generation_date, recurring_start_date) <= ?
		   AND (recurring_end_date IS NULL OR recurring_end_date >= ?)
		   AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		true, true, now, now, int64(afterID), limit,
	).Scan(&templates).Error
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// MarkOverdueInvoices flips sent invoices past their due date to overdue.
// The status guard lives in the WHERE clause so a concurrent payment that
// already settled the invoice is never clobbered.
func (s *Scheduler) MarkOverdueInvoices(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("status = ? AND payment_status <> ? AND due_date < ? AND is_recurring = ?",
			invoicedomain.InvoiceStatusSent, invoicedomain.PaymentStatusPaid, now, false).
		Updates(map[string]any{
			"status":     invoicedomain.InvoiceStatusOverdue,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// IsTaskRunning reports whether this process is mid-run. It is a cheap local
// answer; cross-process exclusion is the lease's job.
func (s *Scheduler) IsTaskRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
	}

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes a full scheduler pass: the recurring generation batch
// followed by the overdue sweep. A lease held by another instance is not an
// error for the loop path.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	err = errors.Join(err, s.runJob(parent, "generate_recurring", s.cfg.JobTimeout, func(ctx context.Context) error {
		run := jobRunFromContext(ctx)
		result, batchErr := s.GenerateDueRecurringInvoices(ctx)
		if errors.Is(batchErr, ErrRunInProgress) {
			return nil
		}
		run.AddProcessed(result.ProcessedCount)
		for range result.Errors {
			run.IncError()
		}
		return batchErr
	}))

	err = errors.Join(err, s.runJob(parent, "mark_overdue", s.cfg.JobTimeout, func(ctx context.Context) error {
		run := jobRunFromContext(ctx)
		marked, sweepErr := s.MarkOverdueInvoices(ctx)
		run.AddProcessed(int(marked))
		return sweepErr
	}))

	return err
}

// RunForever drives RunOnce on a ticker until the context is cancelled. The
// HTTP cron trigger is the primary invocation path; this loop covers
// deployments without an external scheduler.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) auditLeaseAcquired(ctx context.Context) {
	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeCron), "scheduler")
	task := recurringTask
	if err := s.auditSvc.AuditLog(ctx, nil, string(auditdomain.ActorTypeCron), nil,
		"scheduler.lease.acquired", "task_lease", &task,
		map[string]any{"owner": s.owner, "ttl": s.cfg.LeaseTTL.String()},
	); err != nil {
		s.log.Warn("audit lease acquisition failed", zap.Error(err))
	}
}
