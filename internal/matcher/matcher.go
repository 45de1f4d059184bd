package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/embed"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/platform/vectorstore"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

// trialNamespace is the vectorstore.Store namespace trial embeddings
// are upserted under by the embedding-refresh job (§6 `enrich`).
const trialNamespace = "trials"

// vectorMatchFloor is §4.9 step 3's minimum ANN similarity to admit a
// candidate at all.
const vectorMatchFloor = 0.6

const (
	weightVector      = 0.4
	weightKeyword     = 0.3
	weightEligibility = 0.2
	weightLocation    = 0.1
)

// Result is one scored trial returned from a match request, carrying
// its per-component scores alongside the blended final score so the
// caller can render an explanation.
type Result struct {
	TrialKey         string
	Trial            domain.CanonicalTrial
	VectorScore      float64
	KeywordScore     float64
	EligibilityScore float64
	LocationScore    float64
	FinalScore       float64
	Explanation      string
}

// Matcher runs §4.9's hybrid match: ANN vector search blended with
// keyword search, filtered by eligibility, and re-scored by location.
type Matcher struct {
	log      *logger.Logger
	embedder embed.Client
	vectors  vectorstore.Store
	trials   *repos.TrialRepo
}

func New(log *logger.Logger, embedder embed.Client, vectors vectorstore.Store, trials *repos.TrialRepo) *Matcher {
	return &Matcher{log: log.With("component", "matcher"), embedder: embedder, vectors: vectors, trials: trials}
}

// Match returns up to limit trials ranked for patient, highest final
// score first, ties broken by trial_key ascending (§4.9's determinism
// clause).
func (m *Matcher) Match(ctx context.Context, patient Patient, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	topK := 2 * limit

	vecs, err := m.embedder.Embed(ctx, []string{patient.Text()})
	if err != nil {
		return nil, fmt.Errorf("embed patient text: %w", err)
	}

	vectorMatches, err := m.vectors.QueryMatches(ctx, trialNamespace, vecs[0], topK, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	vectorScores := make(map[string]float64, len(vectorMatches))
	for _, v := range vectorMatches {
		if v.Score < vectorMatchFloor {
			continue
		}
		vectorScores[v.ID] = v.Score
	}

	var keywordTrials []domain.CanonicalTrial
	if q := strings.TrimSpace(patient.keywordQuery()); q != "" {
		keywordTrials, err = m.trials.KeywordSearch(ctx, q, topK)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
	}
	keywordScores := make(map[string]float64, len(keywordTrials))
	for i, t := range keywordTrials {
		keywordScores[t.TrialKey] = keywordRankScore(i, len(keywordTrials))
	}

	candidates := make(map[string]domain.CanonicalTrial, len(vectorScores)+len(keywordTrials))
	for _, t := range keywordTrials {
		candidates[t.TrialKey] = t
	}
	for key := range vectorScores {
		if _, ok := candidates[key]; ok {
			continue
		}
		t, err := m.trials.Get(ctx, key)
		if err != nil {
			m.log.Warn("load vector candidate failed", "trial_key", key, "error", err)
			continue
		}
		if t == nil || !t.IsActive {
			continue
		}
		candidates[key] = *t
	}

	results := make([]Result, 0, len(candidates))
	for key, trial := range candidates {
		if !eligibilityAllows(patient, trial.Eligibility.Data()) {
			continue
		}
		vScore := vectorScores[key]
		kScore := keywordScores[key]
		eScore := eligibilityStrength(patient, trial.Eligibility.Data())
		lScore := locationScore(patient, trial.Locations.Data())
		final := weightVector*vScore + weightKeyword*kScore + weightEligibility*eScore + weightLocation*lScore

		results = append(results, Result{
			TrialKey:         key,
			Trial:            trial,
			VectorScore:      vScore,
			KeywordScore:     kScore,
			EligibilityScore: eScore,
			LocationScore:    lScore,
			FinalScore:       final,
			Explanation:      explain(vScore, kScore, eScore, lScore),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].TrialKey < results[j].TrialKey
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// keywordRankScore normalizes a 0-indexed keyword rank to [0,1]: rank 0
// (the ts_rank-best match) scores 1.0, decaying linearly to the
// lowest-ranked candidate in the result set.
func keywordRankScore(rank, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(rank)/float64(total-1)
}

// eligibilityAllows implements §4.9 step 5's hard filter: age outside
// the trial's window or an incompatible gender restriction drops the
// candidate entirely, regardless of how well everything else scores.
func eligibilityAllows(p Patient, e domain.Eligibility) bool {
	if p.AgeYears > 0 {
		days := p.ageDays()
		if e.MinAgeDays != nil && days < *e.MinAgeDays {
			return false
		}
		if e.MaxAgeDays != nil && days > *e.MaxAgeDays {
			return false
		}
	}
	if e.Gender != "" && e.Gender != domain.GenderAll && p.Gender != "" && e.Gender != p.Gender {
		return false
	}
	return true
}

// eligibilityStrength scores how comfortably a patient sits inside the
// trial's eligibility window, for §4.9 step 7's blended score: an age
// near the center of [min,max] scores higher than one near an edge,
// and an exact gender match scores higher than a gender-unrestricted
// trial. Candidates that fail eligibilityAllows never reach this
// function.
func eligibilityStrength(p Patient, e domain.Eligibility) float64 {
	ageFactor := 1.0
	if p.AgeYears > 0 && e.MinAgeDays != nil && e.MaxAgeDays != nil && *e.MaxAgeDays > *e.MinAgeDays {
		days := float64(p.ageDays())
		minD, maxD := float64(*e.MinAgeDays), float64(*e.MaxAgeDays)
		center := (minD + maxD) / 2
		halfWidth := (maxD - minD) / 2
		distance := days - center
		if distance < 0 {
			distance = -distance
		}
		ageFactor = 1.0 - 0.5*(distance/halfWidth)
		if ageFactor < 0.5 {
			ageFactor = 0.5
		}
	}

	genderFactor := 0.9
	if e.Gender != "" && e.Gender != domain.GenderAll && p.Gender != "" && e.Gender == p.Gender {
		genderFactor = 1.0
	}

	return (ageFactor + genderFactor) / 2
}

func explain(vector, keyword, eligibility, location float64) string {
	var parts []string
	if vector > 0 {
		parts = append(parts, fmt.Sprintf("vector similarity %.2f", vector))
	}
	if keyword > 0 {
		parts = append(parts, fmt.Sprintf("keyword match %.2f", keyword))
	}
	parts = append(parts, fmt.Sprintf("eligibility fit %.2f", eligibility))
	if location > 0 {
		parts = append(parts, fmt.Sprintf("location match %.2f", location))
	}
	return strings.Join(parts, "; ")
}
