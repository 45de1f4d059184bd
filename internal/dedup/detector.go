// Detection passes for §4.8: find candidate duplicate pairs among
// recently-ingested trials and persist them as DuplicateEdges.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/monitoring"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

// recentWindow bounds every pass to trials ingested in the last 30
// days — older trials were already checked on a prior run and don't
// need re-scoring against each other.
const recentWindow = 30 * 24 * time.Hour

// Detector runs the four detection passes from §4.8 against a batch of
// recently-ingested trials and writes any discovered edges.
type Detector struct {
	log     *logger.Logger
	trials  *repos.TrialRepo
	edges   *repos.DuplicateRepo
	metrics *monitoring.Metrics
}

func NewDetector(log *logger.Logger, trials *repos.TrialRepo, edges *repos.DuplicateRepo, metrics *monitoring.Metrics) *Detector {
	return &Detector{log: log.With("component", "dedup_detector"), trials: trials, edges: edges, metrics: metrics}
}

// Run loads up to batchSize trials ingested within recentWindow, runs
// every detection pass over them, and stamps duplicate_check_date on
// each trial examined regardless of whether it matched anything.
func (d *Detector) Run(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 5000
	}
	rows, err := d.trials.RecentlyIngested(ctx, time.Now().UTC().Add(-recentWindow), batchSize)
	if err != nil {
		return fmt.Errorf("load recent trials: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	candidates := make([]Candidate, 0, len(rows))
	sourceByKey := make(map[string]string, len(rows))
	for _, t := range rows {
		candidates = append(candidates, toCandidate(t))
		sourceByKey[t.TrialKey] = t.Source
	}

	seen := map[[2]string]bool{}

	d.ncTOverlapPass(ctx, candidates, seen)
	d.titleBlockPass(ctx, candidates, seen)
	d.sponsorPass(ctx, candidates, seen)
	d.crossRegistryPass(ctx, candidates, sourceByKey, seen)

	now := time.Now().UTC()
	for _, t := range rows {
		if err := d.trials.StampDuplicateCheckDate(ctx, t.TrialKey, now); err != nil {
			d.log.Warn("stamp duplicate_check_date failed", "trial_key", t.TrialKey, "error", err)
		}
	}

	d.log.Info("dedup pass complete", "examined", len(rows))
	return nil
}

// ncTOverlapPass groups candidates by every (external-id key, value)
// pair they carry; any group with more than one member is an exact,
// pre-verified match regardless of what Score would say.
func (d *Detector) ncTOverlapPass(ctx context.Context, candidates []Candidate, seen map[[2]string]bool) {
	byID := map[string][]Candidate{}
	for _, c := range candidates {
		for key, val := range c.ExternalIDs {
			if val == "" {
				continue
			}
			byID[key+":"+val] = append(byID[key+":"+val], c)
		}
	}
	for _, group := range byID {
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				d.emit(ctx, group[i], group[j], ScoreExact, []string{"external id match"}, domain.MatchExact, true, seen)
			}
		}
	}
}

// titleBlockPass approximates "nearest neighbor by title trigram" with
// a cheap block: candidates are grouped by the first four characters
// of their normalized title, and every pair within a block is scored.
// This trades recall at block boundaries for avoiding an O(n^2) scan
// over the whole batch.
func (d *Detector) titleBlockPass(ctx context.Context, candidates []Candidate, seen map[[2]string]bool) {
	blocks := map[string][]Candidate{}
	for _, c := range candidates {
		key := blockKey(c.Title)
		blocks[key] = append(blocks[key], c)
	}
	for _, block := range blocks {
		d.scorePairs(ctx, block, seen)
	}
}

// sponsorPass groups candidates by normalized lead sponsor; Score's
// own date-proximity term does the windowing within each group.
func (d *Detector) sponsorPass(ctx context.Context, candidates []Candidate, seen map[[2]string]bool) {
	groups := map[string][]Candidate{}
	for _, c := range candidates {
		key := normalizeText(c.SponsorLead)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], c)
	}
	for _, group := range groups {
		d.scorePairs(ctx, group, seen)
	}
}

// crossRegistryPass compares every pair of distinct source registries
// among the batch, since the same study registered in two registries
// will rarely share a sponsor string or a title block.
func (d *Detector) crossRegistryPass(ctx context.Context, candidates []Candidate, sourceByKey map[string]string, seen map[[2]string]bool) {
	bySource := map[string][]Candidate{}
	for _, c := range candidates {
		src := sourceByKey[c.TrialKey]
		bySource[src] = append(bySource[src], c)
	}
	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			d.scoreCrossPairs(ctx, bySource[sources[i]], bySource[sources[j]], seen)
		}
	}
}

func (d *Detector) scorePairs(ctx context.Context, group []Candidate, seen map[[2]string]bool) {
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			d.scoreAndEmit(ctx, group[i], group[j], seen)
		}
	}
}

func (d *Detector) scoreCrossPairs(ctx context.Context, a, b []Candidate, seen map[[2]string]bool) {
	for _, ca := range a {
		for _, cb := range b {
			d.scoreAndEmit(ctx, ca, cb, seen)
		}
	}
}

func (d *Detector) scoreAndEmit(ctx context.Context, a, b Candidate, seen map[[2]string]bool) {
	if a.TrialKey == b.TrialKey {
		return
	}
	if SharedExternalID(a, b) {
		d.emit(ctx, a, b, ScoreExact, []string{"external id match"}, domain.MatchExact, true, seen)
		return
	}
	score, reasons := Score(a, b)
	band, ok := MatchTypeFor(score)
	if !ok {
		return
	}
	d.emit(ctx, a, b, score, reasons, domain.MatchType(band), band == "exact", seen)
}

// emit writes an edge in canonical (min, max) key order, skipping
// pairs already handled this run or already on file.
func (d *Detector) emit(ctx context.Context, a, b Candidate, score float64, reasons []string, matchType domain.MatchType, verified bool, seen map[[2]string]bool) {
	primary, duplicate := a.TrialKey, b.TrialKey
	if duplicate < primary {
		primary, duplicate = duplicate, primary
	}
	pair := [2]string{primary, duplicate}
	if seen[pair] {
		return
	}
	seen[pair] = true

	exists, err := d.edges.Exists(ctx, primary, duplicate)
	if err != nil {
		d.log.Warn("duplicate exists check failed", "primary_key", primary, "duplicate_key", duplicate, "error", err)
		return
	}
	if exists {
		return
	}

	edge := repos.NewEdge(primary, duplicate, score, reasons, matchType, verified)
	if err := d.edges.Create(ctx, &edge); err != nil {
		d.log.Warn("duplicate edge create failed", "primary_key", primary, "duplicate_key", duplicate, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.IncDedupMatch(string(matchType))
	}
	d.log.Info("duplicate edge found", "primary_key", primary, "duplicate_key", duplicate, "score", score, "match_type", matchType)
}

func toCandidate(t domain.CanonicalTrial) Candidate {
	locsData := t.Locations.Data()
	locs := make([]string, 0, len(locsData))
	for _, l := range locsData {
		locs = append(locs, strings.ToLower(strings.Join([]string{l.City, l.State, l.Country}, "|")))
	}
	ivsData := t.Interventions.Data()
	ivs := make([]string, 0, len(ivsData))
	for _, iv := range ivsData {
		ivs = append(ivs, iv.Name)
	}
	return Candidate{
		TrialKey:      t.TrialKey,
		Title:         t.TitleOfficial,
		SponsorLead:   t.Sponsor.Data().Lead,
		StartDate:     t.StartDate,
		Locations:     locs,
		Conditions:    t.Conditions.Data(),
		Interventions: ivs,
		ExternalIDs:   t.ExternalIDs.Data(),
	}
}

func blockKey(title string) string {
	norm := normalizeText(title)
	if len(norm) < 4 {
		return norm
	}
	return norm[:4]
}
