package repos

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// JobRepo is the durable queue described in §4.2: enqueue, priority
// lease with SKIP LOCKED, complete/fail with retry backoff, and
// release of expired leases.
type JobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *JobRepo { return &JobRepo{db: db} }

// Enqueue inserts a new pending job. scheduledFor may be zero, meaning
// "ready now".
func (r *JobRepo) Enqueue(ctx context.Context, queue, jobType string, payload []byte, priority int, scheduledFor time.Time) (uint64, error) {
	if scheduledFor.IsZero() {
		scheduledFor = time.Now().UTC()
	}
	job := domain.Job{
		Queue:        queue,
		Type:         jobType,
		Payload:      payload,
		Priority:     priority,
		Status:       domain.JobPending,
		MaxAttempts:  5,
		ScheduledFor: scheduledFor,
	}
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// Lease atomically picks the highest-priority ready job across the
// given queues and marks it processing, per §4.2's ordering guarantee
// (priority DESC, scheduled_for ASC). Uses a row-level SELECT ... FOR
// UPDATE SKIP LOCKED so concurrent workers never observe the same row.
func (r *JobRepo) Lease(ctx context.Context, queues []string, workerID string, visibility time.Duration) (*domain.Job, error) {
	var job domain.Job
	now := time.Now().UTC()
	staleBefore := now.Add(-visibility)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("scheduled_for <= ?", now).
			Where(
				tx.Where("status = ?", domain.JobPending).
					Or("status = ? AND locked_at < ?", domain.JobProcessing, staleBefore),
			)
		if len(queues) > 0 {
			q = q.Where("queue IN ?", queues)
		}
		if err := q.Order("priority DESC, scheduled_for ASC").
			Limit(1).
			Find(&job).Error; err != nil {
			return err
		}
		if job.ID == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&domain.Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"status":    domain.JobProcessing,
			"locked_at": now,
			"locked_by": workerID,
			"attempts":  gorm.Expr("attempts + 1"),
		}).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("lease job: %w", err)
	}
	job.Status = domain.JobProcessing
	job.LockedAt = &now
	job.LockedBy = workerID
	job.Attempts++
	return &job, nil
}

func (r *JobRepo) Complete(ctx context.Context, jobID uint64, result []byte) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":       domain.JobCompleted,
		"result":       result,
		"completed_at": now,
	}).Error
}

// Fail records a handler error. If the job has attempts remaining it
// is rescheduled with exponential backoff (min(60s*2^attempts, 1h));
// otherwise it is marked permanently failed.
func (r *JobRepo) Fail(ctx context.Context, jobID uint64, cause error) error {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return fmt.Errorf("load job for fail: %w", err)
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if job.Attempts < job.MaxAttempts {
		delay := backoffDelay(job.Attempts)
		return r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", jobID).Updates(map[string]any{
			"status":        domain.JobPending,
			"last_error":    errMsg,
			"scheduled_for": time.Now().UTC().Add(delay),
			"locked_at":     nil,
			"locked_by":     "",
		}).Error
	}
	return r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":     domain.JobFailed,
		"last_error": errMsg,
	}).Error
}

// backoffDelay implements §4.2's retry schedule: min(60s*2^attempts, 1h).
func backoffDelay(attempts int) time.Duration {
	d := time.Duration(60) * time.Second * time.Duration(math.Pow(2, float64(attempts)))
	cap := time.Hour
	if d > cap {
		return cap
	}
	return d
}

// Release immediately returns jobID to pending with no backoff delay
// and no error recorded, for a worker that leased a job but then
// observed shutdown before dispatching it (§4.3): the job is
// re-leasable right away instead of waiting out the visibility
// timeout or Fail's backoff schedule.
func (r *JobRepo) Release(ctx context.Context, jobID uint64) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":    domain.JobPending,
		"locked_at": nil,
		"locked_by": "",
	}).Error
}

// ReleaseStale returns any processing job whose lease has expired
// back to pending. Run by the orchestrator every 3 minutes per §4.7.
func (r *JobRepo) ReleaseStale(ctx context.Context, visibility time.Duration) (int64, error) {
	staleBefore := time.Now().UTC().Add(-visibility)
	tx := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ? AND locked_at < ?", domain.JobProcessing, staleBefore).
		Updates(map[string]any{
			"status":    domain.JobPending,
			"locked_at": nil,
			"locked_by": "",
		})
	return tx.RowsAffected, tx.Error
}

func (r *JobRepo) PendingCount(ctx context.Context, queue string) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&domain.Job{}).Where("status = ?", domain.JobPending)
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	err := q.Count(&count).Error
	return count, err
}

// QueueStats returns recent job counts by status for one queue,
// restricted to jobs touched since `since`, for the failure-rate
// check in §4.7.
func (r *JobRepo) QueueStats(ctx context.Context, queue string, since time.Time) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("queue = ? AND updated_at >= ?", queue, since).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
