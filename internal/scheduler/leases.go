package scheduler

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrRunInProgress reports that another owner currently holds the task lease.
var ErrRunInProgress = errors.New("run_in_progress")

// TaskLease is a store-backed mutual exclusion row. Holding the row means
// holding the right to run the named task until ExpiresAt. Crash recovery is
// implicit: an expired lease is reclaimable by any owner.
type TaskLease struct {
	TaskName  string    `gorm:"column:task_name;primaryKey;size:64"`
	Owner     string    `gorm:"column:owner;size:64;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (TaskLease) TableName() string {
	return "task_leases"
}

// acquireLease takes the named lease for owner, or returns ErrRunInProgress
// when a live lease is held by someone else. Re-acquiring an own or expired
// lease refreshes the expiry.
func (s *Scheduler) acquireLease(ctx context.Context, task, owner string) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lease TaskLease
		err := tx.Raw(
			`SELECT task_name, owner, expires_at FROM task_leases WHERE task_name = ? FOR UPDATE`,
			task,
		).Scan(&lease).Error
		if err != nil {
			return err
		}

		if lease.TaskName == "" {
			return tx.Create(&TaskLease{
				TaskName:  task,
				Owner:     owner,
				ExpiresAt: now.Add(s.cfg.LeaseTTL),
				UpdatedAt: now,
			}).Error
		}

		if lease.Owner != owner && lease.ExpiresAt.After(now) {
			return ErrRunInProgress
		}

		return tx.Model(&TaskLease{}).
			Where("task_name = ?", task).
			Updates(map[string]any{
				"owner":      owner,
				"expires_at": now.Add(s.cfg.LeaseTTL),
				"updated_at": now,
			}).Error
	})
}

// releaseLease drops the lease if this owner still holds it. A lease that
// expired and was taken over is left alone.
func (s *Scheduler) releaseLease(ctx context.Context, task, owner string) error {
	return s.db.WithContext(ctx).
		Where("task_name = ? AND owner = ?", task, owner).
		Delete(&TaskLease{}).Error
}
