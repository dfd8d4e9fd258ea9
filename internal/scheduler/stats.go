package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	"gorm.io/gorm"
)

// TaskStatistics is the read-only dashboard view of the recurring task.
type TaskStatistics struct {
	DueInvoicesCount     int64      `json:"dueInvoicesCount"`
	ActiveTemplatesCount int64      `json:"activeTemplatesCount"`
	IsRunning            bool       `json:"isRunning"`
	NextExecution        *time.Time `json:"nextExecution,omitempty"`
	ScheduleDescription  string     `json:"scheduleDescription,omitempty"`
}

// TaskStatistics reports due and active template counts plus run state.
// IsRunning consults the lease table so the answer holds across instances.
func (s *Scheduler) TaskStatistics(ctx context.Context) (TaskStatistics, error) {
	now := s.clock.Now()
	stats := TaskStatistics{
		IsRunning:           s.running.Load(),
		ScheduleDescription: fmt.Sprintf("every %s", s.cfg.RunInterval),
	}

	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM invoices
		 WHERE is_recurring = ?
		   AND parent_invoice_id IS NULL
		   AND recurring_is_active = ?
		   AND COALESCE(recurring_next_generation_date, recurring_start_date) <= ?
		   AND (recurring_end_date IS NULL OR recurring_end_date >= ?)`,
		true, true, now, now,
	).Scan(&stats.DueInvoicesCount).Error
	if err != nil {
		return TaskStatistics{}, err
	}

	err = s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM invoices
		 WHERE is_recurring = ?
		   AND parent_invoice_id IS NULL
		   AND recurring_is_active = ?`,
		true, true,
	).Scan(&stats.ActiveTemplatesCount).Error
	if err != nil {
		return TaskStatistics{}, err
	}

	if !stats.IsRunning {
		var live int64
		err = s.db.WithContext(ctx).Raw(
			`SELECT COUNT(*) FROM task_leases WHERE task_name = ? AND expires_at > ?`,
			recurringTask, now,
		).Scan(&live).Error
		if err != nil {
			return TaskStatistics{}, err
		}
		stats.IsRunning = live > 0
	}

	var soonest invoicedomain.Invoice
	err = s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Select("recurring_next_generation_date", "recurring_start_date").
		Where("is_recurring = ? AND parent_invoice_id IS NULL AND recurring_is_active = ?", true, true).
		Order("COALESCE(recurring_next_generation_date, recurring_start_date) ASC").
		Take(&soonest).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return TaskStatistics{}, err
	default:
		next := soonest.Recurring.Cursor()
		if next.Before(now) {
			next = now
		}
		stats.NextExecution = &next
	}

	return stats, nil
}
