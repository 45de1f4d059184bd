package db

import (
	"gorm.io/gorm"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// AutoMigrateAll creates or updates every table this module owns. Run
// once at startup by NewService and again explicitly by tests via
// testutil.DB.
func AutoMigrateAll(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&domain.CanonicalTrial{},
		&domain.TrialEmbedding{},
		&domain.DuplicateEdge{},
		&domain.Job{},
		&domain.ScrapingJob{},
		&domain.Checkpoint{},
		&domain.Metric{},
		&domain.Alert{},
		&domain.GeocodeCache{},
	)
}
