package repos

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// EmbeddingRepo tracks TrialEmbedding freshness against the canonical
// store's derived text, per §3's staleness invariant.
type EmbeddingRepo struct {
	db *gorm.DB
}

func NewEmbeddingRepo(db *gorm.DB) *EmbeddingRepo { return &EmbeddingRepo{db: db} }

func (r *EmbeddingRepo) Upsert(ctx context.Context, trialKey string, vector []float32, sourceTextHash string) error {
	row := domain.TrialEmbedding{
		TrialKey:       trialKey,
		Vector:         datatypes.NewJSONType(vector),
		SourceTextHash: sourceTextHash,
		UpdatedAt:      time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trial_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "source_text_hash", "updated_at"}),
	}).Create(&row).Error
}

func (r *EmbeddingRepo) Get(ctx context.Context, trialKey string) (*domain.TrialEmbedding, error) {
	var e domain.TrialEmbedding
	err := r.db.WithContext(ctx).Where("trial_key = ?", trialKey).First(&e).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Stale returns trial_keys of active trials whose embedding is
// missing or whose source_text_hash no longer matches currentHash(trial).
func (r *EmbeddingRepo) Stale(ctx context.Context, currentHash map[string]string) ([]string, error) {
	var existing []domain.TrialEmbedding
	if err := r.db.WithContext(ctx).Select("trial_key, source_text_hash").Find(&existing).Error; err != nil {
		return nil, err
	}
	have := make(map[string]string, len(existing))
	for _, e := range existing {
		have[e.TrialKey] = e.SourceTextHash
	}
	var stale []string
	for key, hash := range currentHash {
		if have[key] != hash {
			stale = append(stale, key)
		}
	}
	return stale, nil
}
