package repos

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// ScrapingJobRepo tracks the long-running bookkeeping for one adapter
// run, separate from the generic Job queue row per §3.
type ScrapingJobRepo struct {
	db *gorm.DB
}

func NewScrapingJobRepo(db *gorm.DB) *ScrapingJobRepo { return &ScrapingJobRepo{db: db} }

func (r *ScrapingJobRepo) Start(ctx context.Context, registry string, jobType domain.ScrapingJobType, workerID string) (*domain.ScrapingJob, error) {
	now := time.Now().UTC()
	job := domain.ScrapingJob{
		Registry:      registry,
		Type:          jobType,
		Status:        domain.ScrapingJobRunning,
		StartedAt:     now,
		LastHeartbeat: now,
		WorkerID:      workerID,
		ErrorLog:      datatypes.NewJSONType([]string{}),
	}
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *ScrapingJobRepo) Heartbeat(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&domain.ScrapingJob{}).Where("id = ?", id).
		Update("last_heartbeat", time.Now().UTC()).Error
}

func (r *ScrapingJobRepo) UpdateProgress(ctx context.Context, id uint64, processed, failed int, progress []byte) error {
	return r.db.WithContext(ctx).Model(&domain.ScrapingJob{}).Where("id = ?", id).Updates(map[string]any{
		"processed_items": processed,
		"failed_items":    failed,
		"progress":        progress,
		"last_heartbeat":  time.Now().UTC(),
	}).Error
}

func (r *ScrapingJobRepo) AppendError(ctx context.Context, id uint64, message string) error {
	var job domain.ScrapingJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return err
	}
	logEntries := append(job.ErrorLog.Data(), message)
	return r.db.WithContext(ctx).Model(&domain.ScrapingJob{}).Where("id = ?", id).
		Update("error_log", datatypes.NewJSONType(logEntries)).Error
}

func (r *ScrapingJobRepo) Complete(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.ScrapingJob{}).Where("id = ?", id).Updates(map[string]any{
		"status":       domain.ScrapingJobCompleted,
		"completed_at": now,
	}).Error
}

func (r *ScrapingJobRepo) Fail(ctx context.Context, id uint64, reason string) error {
	if reason != "" {
		_ = r.AppendError(ctx, id, reason)
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.ScrapingJob{}).Where("id = ?", id).Updates(map[string]any{
		"status":       domain.ScrapingJobFailed,
		"completed_at": now,
	}).Error
}

// StaleHeartbeats returns running scraping jobs whose last heartbeat
// is older than maxAge (§4.7: > 5 min → mark failed, release worker).
func (r *ScrapingJobRepo) StaleHeartbeats(ctx context.Context, maxAge time.Duration) ([]domain.ScrapingJob, error) {
	var out []domain.ScrapingJob
	cutoff := time.Now().UTC().Add(-maxAge)
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_heartbeat < ?", domain.ScrapingJobRunning, cutoff).
		Find(&out).Error
	return out, err
}
