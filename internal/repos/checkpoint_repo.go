package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// CheckpointRepo is an append-only store of per-ScrapingJob resumption
// markers. The latest row for a (scraping_job_id, type) pair wins on
// resume, per §3.
type CheckpointRepo struct {
	db *gorm.DB
}

func NewCheckpointRepo(db *gorm.DB) *CheckpointRepo { return &CheckpointRepo{db: db} }

func (r *CheckpointRepo) Persist(ctx context.Context, scrapingJobID uint64, checkpointType string, data []byte, itemsProcessed int) error {
	cp := domain.Checkpoint{
		ScrapingJobID:  scrapingJobID,
		Type:           checkpointType,
		Data:           data,
		ItemsProcessed: itemsProcessed,
		CreatedAt:      time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&cp).Error
}

// Latest returns the most recently persisted checkpoint for a
// scraping job + type, or nil if none exists (fresh start).
func (r *CheckpointRepo) Latest(ctx context.Context, scrapingJobID uint64, checkpointType string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := r.db.WithContext(ctx).
		Where("scraping_job_id = ? AND type = ?", scrapingJobID, checkpointType).
		Order("created_at DESC").
		First(&cp).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
