package repos

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// GeocodeRepo caches resolved lat/long per normalized location string
// so the geocoder only ever spends its 1-req/sec Nominatim budget on a
// location it hasn't already resolved.
type GeocodeRepo struct {
	db *gorm.DB
}

func NewGeocodeRepo(db *gorm.DB) *GeocodeRepo { return &GeocodeRepo{db: db} }

func (r *GeocodeRepo) Get(ctx context.Context, locationKey string) (*domain.GeocodeCache, error) {
	var row domain.GeocodeCache
	err := r.db.WithContext(ctx).Where("location_key = ?", locationKey).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Put upserts the resolved (or permanently-unresolvable) result for a
// location key, so a failed lookup isn't retried on every pass.
func (r *GeocodeRepo) Put(ctx context.Context, entry domain.GeocodeCache) error {
	if entry.ResolvedAt.IsZero() {
		entry.ResolvedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "location_key"}},
		UpdateAll: true,
	}).Create(&entry).Error
}
