package repos

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// TrialRepo is the canonical-trial store. Upsert implements §3's
// diff-merge lifecycle rule: arrays unioned, scalars overwritten only
// when the incoming value is non-empty and newer.
type TrialRepo struct {
	db *gorm.DB
}

func NewTrialRepo(db *gorm.DB) *TrialRepo { return &TrialRepo{db: db} }

// WithTx returns a TrialRepo whose calls run against tx instead of the
// pool, so a caller composing several repo calls into one atomic unit
// (e.g. dedup.Merger.mergeEdge) can pass the same tx to every repo
// involved.
func (r *TrialRepo) WithTx(tx *gorm.DB) *TrialRepo { return &TrialRepo{db: tx} }

// Transaction runs fn inside a transaction rooted at this repo's db,
// passing the *gorm.DB handle so the caller can build WithTx-scoped
// repos from it. GORM turns a Transaction call made from inside an
// already-open transaction into a savepoint, so this composes safely
// with Upsert's own internal Transaction call.
func (r *TrialRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *TrialRepo) Get(ctx context.Context, trialKey string) (*domain.CanonicalTrial, error) {
	var t domain.CanonicalTrial
	err := r.db.WithContext(ctx).Where("trial_key = ?", trialKey).First(&t).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Upsert writes incoming as the new state for trial_key, merging with
// any existing row per §3's lifecycle rule. The merge itself runs
// inside a transaction so concurrent scrapers racing the same
// trial_key serialize on the row lock rather than losing updates.
func (r *TrialRepo) Upsert(ctx context.Context, incoming *domain.CanonicalTrial) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.CanonicalTrial
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("trial_key = ?", incoming.TrialKey).
			First(&existing).Error

		if err == gorm.ErrRecordNotFound {
			incoming.CreatedAt = time.Now().UTC()
			incoming.UpdatedAt = incoming.CreatedAt
			if incoming.IsActive == false && incoming.MergedIntoKey == nil {
				incoming.IsActive = true
			}
			return tx.Create(incoming).Error
		}
		if err != nil {
			return fmt.Errorf("load existing trial: %w", err)
		}

		merged := mergeTrial(existing, *incoming)
		merged.UpdatedAt = time.Now().UTC()
		return tx.Model(&domain.CanonicalTrial{}).
			Where("trial_key = ?", merged.TrialKey).
			Select("*").
			Updates(&merged).Error
	})
}

// mergeTrial implements §3's diff-merge rule: array fields unioned,
// scalar fields overwritten only if the new value is non-empty and
// the incoming source's last_update is newer than what's on file.
func mergeTrial(existing, incoming domain.CanonicalTrial) domain.CanonicalTrial {
	out := existing

	newer := isNewer(incoming.LastUpdateDate, existing.LastUpdateDate)

	out.ExternalIDs = datatypes.NewJSONType(mergeExternalIDs(existing.ExternalIDs.Data(), incoming.ExternalIDs.Data()))
	out.Conditions = datatypes.NewJSONType(unionStrings(existing.Conditions.Data(), incoming.Conditions.Data()))
	out.Interventions = datatypes.NewJSONType(unionInterventions(existing.Interventions.Data(), incoming.Interventions.Data()))
	out.Locations = datatypes.NewJSONType(unionLocations(existing.Locations.Data(), incoming.Locations.Data()))
	out.Contacts = datatypes.NewJSONType(unionContacts(existing.Contacts.Data(), incoming.Contacts.Data()))

	if newer {
		out.TitleOfficial = overwriteIfNonEmpty(existing.TitleOfficial, incoming.TitleOfficial)
		out.TitleBrief = overwriteIfNonEmpty(existing.TitleBrief, incoming.TitleBrief)
		out.TitleLay = overwriteIfNonEmpty(existing.TitleLay, incoming.TitleLay)
		out.Description = overwriteIfNonEmpty(existing.Description, incoming.Description)
		out.Phase = Phase(overwriteIfNonEmpty(string(existing.Phase), string(incoming.Phase)))
		out.Status = Status(overwriteIfNonEmpty(string(existing.Status), string(incoming.Status)))
		out.StudyType = overwriteIfNonEmpty(existing.StudyType, incoming.StudyType)
		out.Eligibility = incoming.Eligibility
		out.Sponsor = incoming.Sponsor
		if incoming.EnrollmentTarget != nil {
			out.EnrollmentTarget = incoming.EnrollmentTarget
		}
		if incoming.EnrollmentActual != nil {
			out.EnrollmentActual = incoming.EnrollmentActual
		}
		if incoming.StartDate != nil {
			out.StartDate = incoming.StartDate
		}
		if incoming.CompletionDate != nil {
			out.CompletionDate = incoming.CompletionDate
		}
		if incoming.FirstPostedDate != nil {
			out.FirstPostedDate = incoming.FirstPostedDate
		}
		if incoming.LastUpdateDate != nil {
			out.LastUpdateDate = incoming.LastUpdateDate
		}
		if len(incoming.PrimaryOutcomes.Data()) > 0 {
			out.PrimaryOutcomes = incoming.PrimaryOutcomes
		}
		if len(incoming.SecondaryOutcomes.Data()) > 0 {
			out.SecondaryOutcomes = incoming.SecondaryOutcomes
		}
		out.RawData = incoming.RawData
		out.Source = overwriteIfNonEmpty(existing.Source, incoming.Source)
	}
	return out
}

func isNewer(incoming, existing *time.Time) bool {
	if incoming == nil {
		return false
	}
	if existing == nil {
		return true
	}
	return incoming.After(*existing)
}

func overwriteIfNonEmpty(existing, incoming string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

func mergeExternalIDs(a, b domain.ExternalIDs) domain.ExternalIDs {
	out := domain.ExternalIDs{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func unionInterventions(a, b []domain.Intervention) []domain.Intervention {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]domain.Intervention, 0, len(a)+len(b))
	for _, iv := range append(append([]domain.Intervention{}, a...), b...) {
		key := iv.Type + "|" + iv.Name
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, iv)
	}
	return out
}

func unionLocations(a, b []domain.Location) []domain.Location {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]domain.Location, 0, len(a)+len(b))
	for _, loc := range append(append([]domain.Location{}, a...), b...) {
		key := loc.Facility + "|" + loc.City + "|" + loc.Country
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, loc)
	}
	return out
}

func unionContacts(a, b []domain.Contact) []domain.Contact {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]domain.Contact, 0, len(a)+len(b))
	for _, c := range append(append([]domain.Contact{}, a...), b...) {
		key := c.Email + "|" + c.Name
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// MarkMerged flips a duplicate trial inactive and points it at its
// primary, per §4.8's merge step.
func (r *TrialRepo) MarkMerged(ctx context.Context, duplicateKey, primaryKey string) error {
	return r.db.WithContext(ctx).Model(&domain.CanonicalTrial{}).
		Where("trial_key = ?", duplicateKey).
		Updates(map[string]any{
			"is_active":       false,
			"merged_into_key": primaryKey,
		}).Error
}

// UpdateLocations persists a geocoded locations slice for trialKey,
// used by the geocode handler to write resolved lat/long back onto
// the trial without going through the full Upsert merge path.
func (r *TrialRepo) UpdateLocations(ctx context.Context, trialKey string, locs []domain.Location) error {
	return r.db.WithContext(ctx).Model(&domain.CanonicalTrial{}).
		Where("trial_key = ?", trialKey).
		Update("locations", datatypes.NewJSONType(locs)).Error
}

// NeedingGeocode returns active trials that have at least one location
// missing lat/long, for the geocode handler's batch pass.
func (r *TrialRepo) NeedingGeocode(ctx context.Context, limit int) ([]domain.CanonicalTrial, error) {
	var out []domain.CanonicalTrial
	q := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("locations::text NOT LIKE ?", "%\"latitude\"%").
		Where("locations::text != ?", "[]")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *TrialRepo) StampDuplicateCheckDate(ctx context.Context, trialKey string, when time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.CanonicalTrial{}).
		Where("trial_key = ?", trialKey).
		Update("duplicate_check_date", when).Error
}

func (r *TrialRepo) RecentlyIngested(ctx context.Context, since time.Time, limit int) ([]domain.CanonicalTrial, error) {
	var out []domain.CanonicalTrial
	q := r.db.WithContext(ctx).Where("is_active = ? AND created_at >= ?", true, since)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// AllActive returns every active canonical trial, for the
// embedding-refresh job's staleness scan (§6 `orchestrator enrich`).
func (r *TrialRepo) AllActive(ctx context.Context) ([]domain.CanonicalTrial, error) {
	var out []domain.CanonicalTrial
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&out).Error
	return out, err
}

func (r *TrialRepo) ActiveBySource(ctx context.Context, source string) ([]domain.CanonicalTrial, error) {
	var out []domain.CanonicalTrial
	err := r.db.WithContext(ctx).Where("is_active = ? AND source = ?", true, source).Find(&out).Error
	return out, err
}

// KeywordSearch ranks active trials against query using Postgres
// full-text search over title, description and condition text, for the matcher's
// keyword-candidate leg (§4.9 step 4).
func (r *TrialRepo) KeywordSearch(ctx context.Context, query string, limit int) ([]domain.CanonicalTrial, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.CanonicalTrial
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where(
			"to_tsvector('english', title_official || ' ' || description || ' ' || coalesce(conditions::text, '')) @@ plainto_tsquery('english', ?)",
			query,
		).
		Order(clause.Expr{
			SQL: "ts_rank(to_tsvector('english', title_official || ' ' || description || ' ' || coalesce(conditions::text, '')), plainto_tsquery('english', ?)) DESC",
			Vars: []any{query},
		}).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountsBySource reports how many active canonical trials exist per
// source registry, for the daily report (§4.4).
func (r *TrialRepo) CountsBySource(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Source string
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.CanonicalTrial{}).
		Where("is_active = ?", true).
		Select("source, count(*) as count").
		Group("source").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Source] = row.Count
	}
	return out, nil
}

// Phase/Status aliases let mergeTrial round-trip through strings
// without importing domain twice under a different name.
type Phase = domain.Phase
type Status = domain.TrialStatus
