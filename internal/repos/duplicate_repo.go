package repos

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// DuplicateRepo stores cross-registry duplicate edges. Edges are
// always written in canonical (min, max) key order by the caller
// (internal/dedup), so a cycle can never form (§9).
type DuplicateRepo struct {
	db *gorm.DB
}

func NewDuplicateRepo(db *gorm.DB) *DuplicateRepo { return &DuplicateRepo{db: db} }

// WithTx returns a DuplicateRepo whose calls run against tx instead of
// the pool — see TrialRepo.WithTx.
func (r *DuplicateRepo) WithTx(tx *gorm.DB) *DuplicateRepo { return &DuplicateRepo{db: tx} }

func (r *DuplicateRepo) Exists(ctx context.Context, primaryKey, duplicateKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.DuplicateEdge{}).
		Where("primary_key = ? AND duplicate_key = ?", primaryKey, duplicateKey).
		Count(&count).Error
	return count > 0, err
}

func (r *DuplicateRepo) Create(ctx context.Context, edge *domain.DuplicateEdge) error {
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(edge).Error
}

func (r *DuplicateRepo) Unverified(ctx context.Context, limit int) ([]domain.DuplicateEdge, error) {
	var out []domain.DuplicateEdge
	q := r.db.WithContext(ctx).Where("verified = ?", false)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// Verified returns edges already marked verified, for the merger to
// fold into their primary trial.
func (r *DuplicateRepo) Verified(ctx context.Context, limit int) ([]domain.DuplicateEdge, error) {
	var out []domain.DuplicateEdge
	q := r.db.WithContext(ctx).Where("verified = ?", true)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *DuplicateRepo) MarkVerified(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&domain.DuplicateEdge{}).Where("id = ?", id).Update("verified", true).Error
}

func (r *DuplicateRepo) ForPrimary(ctx context.Context, primaryKey string) ([]domain.DuplicateEdge, error) {
	var out []domain.DuplicateEdge
	err := r.db.WithContext(ctx).Where("primary_key = ?", primaryKey).Find(&out).Error
	return out, err
}

// NewEdge is a small constructor keeping reasons/score/match_type
// assembly in one place for the dedup detector.
func NewEdge(primaryKey, duplicateKey string, score float64, reasons []string, matchType domain.MatchType, verified bool) domain.DuplicateEdge {
	return domain.DuplicateEdge{
		PrimaryKey:   primaryKey,
		DuplicateKey: duplicateKey,
		Score:        score,
		Reasons:      datatypes.NewJSONType(reasons),
		MatchType:    matchType,
		Verified:     verified,
	}
}
