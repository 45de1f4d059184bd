package dedup

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

// registryPriority orders sources for primary-record selection, per
// §4.8: ClinicalTrials.gov outranks the others on the theory that it
// has the richest structured data, with the rest following rough
// registry maturity.
var registryPriority = map[string]int{
	"ctgov":  0,
	"euctr":  1,
	"ctis":   2,
	"isrctn": 3,
	"ictrp":  4,
}

func priorityOf(source string) int {
	if p, ok := registryPriority[source]; ok {
		return p
	}
	return len(registryPriority)
}

// Merger resolves verified DuplicateEdges into a single surviving
// CanonicalTrial.
type Merger struct {
	log    *logger.Logger
	trials *repos.TrialRepo
	edges  *repos.DuplicateRepo
}

func NewMerger(log *logger.Logger, trials *repos.TrialRepo, edges *repos.DuplicateRepo) *Merger {
	return &Merger{log: log.With("component", "dedup_merger"), trials: trials, edges: edges}
}

// RunVerified merges every verified, unmerged edge on file, up to
// limit. Each merge picks a primary by registry priority (ties broken
// by most recent last_update), folds the duplicate's data into it via
// TrialRepo.Upsert's existing union/overwrite rules, and marks the
// duplicate inactive.
func (m *Merger) RunVerified(ctx context.Context, limit int) error {
	pending, err := m.edges.Verified(ctx, limit)
	if err != nil {
		return fmt.Errorf("load verified edges: %w", err)
	}
	for _, edge := range pending {
		if err := m.mergeEdge(ctx, edge); err != nil {
			m.log.Warn("merge failed", "primary_key", edge.PrimaryKey, "duplicate_key", edge.DuplicateKey, "error", err)
		}
	}
	return nil
}

func (m *Merger) mergeEdge(ctx context.Context, edge domain.DuplicateEdge) error {
	a, err := m.trials.Get(ctx, edge.PrimaryKey)
	if err != nil {
		return fmt.Errorf("load %s: %w", edge.PrimaryKey, err)
	}
	b, err := m.trials.Get(ctx, edge.DuplicateKey)
	if err != nil {
		return fmt.Errorf("load %s: %w", edge.DuplicateKey, err)
	}
	if a == nil || b == nil || !a.IsActive || !b.IsActive {
		return nil
	}

	primary, duplicate := choosePrimary(*a, *b)

	// TrialRepo.Upsert already implements the union-array/overwrite-
	// newer-scalar merge rule (§3); feeding it the duplicate as the
	// "incoming" record against the primary's key reuses that logic
	// instead of duplicating it here.
	incoming := duplicate
	incoming.TrialKey = primary.TrialKey

	// §4.8 requires the fold, the duplicate's deactivation, and the
	// edge's verified-merge stamp to commit or roll back as one unit —
	// a failure partway through must never leave the duplicate folded
	// into the primary while still is_active. Upsert's own internal
	// Transaction call becomes a savepoint here rather than a separate
	// commit.
	err = m.trials.Transaction(ctx, func(tx *gorm.DB) error {
		trials := m.trials.WithTx(tx)
		edges := m.edges.WithTx(tx)

		if err := trials.Upsert(ctx, &incoming); err != nil {
			return fmt.Errorf("fold duplicate into primary: %w", err)
		}
		if err := trials.MarkMerged(ctx, duplicate.TrialKey, primary.TrialKey); err != nil {
			return fmt.Errorf("mark duplicate merged: %w", err)
		}
		if err := edges.MarkVerified(ctx, edge.ID); err != nil {
			return fmt.Errorf("mark edge verified: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.log.Info("merged duplicate trials", "primary_key", primary.TrialKey, "duplicate_key", duplicate.TrialKey)
	return nil
}

// choosePrimary returns (primary, duplicate) ordered by registry
// priority, breaking ties on the most recently updated record.
func choosePrimary(a, b domain.CanonicalTrial) (domain.CanonicalTrial, domain.CanonicalTrial) {
	pa, pb := priorityOf(a.Source), priorityOf(b.Source)
	switch {
	case pa < pb:
		return a, b
	case pb < pa:
		return b, a
	}
	if b.LastUpdateDate != nil && (a.LastUpdateDate == nil || b.LastUpdateDate.After(*a.LastUpdateDate)) {
		return b, a
	}
	return a, b
}
