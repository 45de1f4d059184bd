// Package dedup finds and merges CanonicalTrial records that refer to
// the same underlying study across registries, per §4.8. No example
// in the corpus computes trigram/Jaccard text similarity, so this
// package is built directly from the spec's weighted-sum formula
// using only the standard library (see DESIGN.md's stdlib
// justification for this package).
package dedup

import (
	"strings"
	"time"
)

const (
	weightTitle        = 0.35
	weightSponsor      = 0.20
	weightDateProximity = 0.10
	weightLocation     = 0.10
	weightCondition    = 0.15
	weightIntervention = 0.10

	// dateProximityWindow is the ±180d window within which start
	// dates earn proximity credit, per §4.8: full credit for the same
	// day, decaying linearly to zero at the window's edge.
	dateProximityWindow = 180 * 24 * time.Hour

	ScoreExact    = 1.0
	ThresholdExact    = 0.95
	ThresholdFuzzy    = 0.90
	ThresholdProbable = 0.85
)

// Candidate is the subset of a CanonicalTrial similarity scoring
// needs, kept separate from domain.CanonicalTrial so this package has
// no GORM/datatypes dependency of its own.
type Candidate struct {
	TrialKey      string
	Title         string
	SponsorLead   string
	StartDate     *time.Time
	Locations     []string // "city|state|country" per location
	Conditions    []string
	Interventions []string
	ExternalIDs   map[string]string
}

// Score computes §4.8's weighted-sum similarity in [0,1] between two
// candidates, along with the human-readable reasons that contributed.
func Score(a, b Candidate) (float64, []string) {
	var reasons []string
	total := 0.0

	titleSim := trigramSimilarity(normalizeText(a.Title), normalizeText(b.Title))
	total += titleSim * weightTitle
	if titleSim > 0.5 {
		reasons = append(reasons, "title similarity")
	}

	sponsorMatch := 0.0
	if normalizeText(a.SponsorLead) != "" && normalizeText(a.SponsorLead) == normalizeText(b.SponsorLead) {
		sponsorMatch = 1.0
		reasons = append(reasons, "sponsor match")
	}
	total += sponsorMatch * weightSponsor

	dateProx := dateProximity(a.StartDate, b.StartDate)
	total += dateProx * weightDateProximity
	if dateProx > 0.5 {
		reasons = append(reasons, "start date proximity")
	}

	locSim := jaccard(a.Locations, b.Locations)
	total += locSim * weightLocation
	if locSim > 0 {
		reasons = append(reasons, "location overlap")
	}

	condSim := jaccard(lowerAll(a.Conditions), lowerAll(b.Conditions))
	total += condSim * weightCondition
	if condSim > 0 {
		reasons = append(reasons, "condition overlap")
	}

	ivSim := jaccard(lowerAll(a.Interventions), lowerAll(b.Interventions))
	total += ivSim * weightIntervention
	if ivSim > 0 {
		reasons = append(reasons, "intervention overlap")
	}

	return total, reasons
}

// SharedExternalID reports whether a and b share a non-empty value for
// any external-id key, the perfect-match short-circuit in §4.8.
func SharedExternalID(a, b Candidate) bool {
	for key, val := range a.ExternalIDs {
		if val == "" {
			continue
		}
		if other, ok := b.ExternalIDs[key]; ok && other == val {
			return true
		}
	}
	return false
}

// MatchTypeFor maps a score onto §4.8's confidence bands. The second
// return reports whether the score clears the emission threshold at
// all (0.85).
func MatchTypeFor(score float64) (string, bool) {
	switch {
	case score >= ThresholdExact:
		return "exact", true
	case score >= ThresholdFuzzy:
		return "fuzzy", true
	case score >= ThresholdProbable:
		return "probable", true
	default:
		return "", false
	}
}

func dateProximity(a, b *time.Time) float64 {
	if a == nil || b == nil {
		return 0
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	if diff > dateProximityWindow {
		return 0
	}
	return 1 - float64(diff)/float64(dateProximityWindow)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// jaccard computes |A∩B| / |A∪B| over string sets, treating each
// slice as a set (duplicates collapse).
func jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for k := range setA {
		if setB[k] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if s != "" {
			out[s] = true
		}
	}
	return out
}

// trigramSimilarity is a Dice coefficient over character trigrams,
// the standard cheap approximation to edit-distance-based title
// matching used when no fuzzy-match library is available.
func trigramSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		if a == b {
			return 1
		}
		return 0
	}
	shared := 0
	remaining := make(map[string]int, len(tb))
	for _, t := range tb {
		remaining[t]++
	}
	for _, t := range ta {
		if remaining[t] > 0 {
			shared++
			remaining[t]--
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func trigrams(s string) []string {
	padded := "  " + s + "  "
	runes := []rune(padded)
	if len(runes) < 3 {
		return nil
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}
