package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// MetricRepo is the append-only time-series sink backing Monitoring's
// periodic samples (§4.7).
type MetricRepo struct {
	db *gorm.DB
}

func NewMetricRepo(db *gorm.DB) *MetricRepo { return &MetricRepo{db: db} }

func (r *MetricRepo) Record(ctx context.Context, name string, value float64, labels []byte) error {
	m := domain.Metric{
		Name:      name,
		Value:     value,
		Labels:    labels,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *MetricRepo) Recent(ctx context.Context, name string, since time.Time) ([]domain.Metric, error) {
	var out []domain.Metric
	err := r.db.WithContext(ctx).
		Where("name = ? AND created_at >= ?", name, since).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// AlertRepo is the append-only alert sink, per §4.7's taxonomy.
type AlertRepo struct {
	db *gorm.DB
}

func NewAlertRepo(db *gorm.DB) *AlertRepo { return &AlertRepo{db: db} }

func (r *AlertRepo) Emit(ctx context.Context, alert *domain.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *AlertRepo) Unacknowledged(ctx context.Context, limit int) ([]domain.Alert, error) {
	var out []domain.Alert
	q := r.db.WithContext(ctx).Where("acknowledged_by IS NULL").Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *AlertRepo) Acknowledge(ctx context.Context, id uint64, by string) error {
	return r.db.WithContext(ctx).Model(&domain.Alert{}).Where("id = ?", id).Update("acknowledged_by", by).Error
}
