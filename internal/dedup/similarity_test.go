package dedup

import (
	"testing"
	"time"
)

func tp(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestScoreIdenticalTrialsIsHigh(t *testing.T) {
	a := Candidate{
		TrialKey:      "ctgov:NCT001",
		Title:         "A Study of Drug X in Adults With Type 2 Diabetes",
		SponsorLead:   "Acme Pharma",
		StartDate:     tp("2024-01-15"),
		Locations:     []string{"boston|ma|us"},
		Conditions:    []string{"Type 2 Diabetes"},
		Interventions: []string{"Drug X"},
	}
	b := a
	b.TrialKey = "euctr:2024-000123"

	score, reasons := Score(a, b)
	if score < ThresholdFuzzy {
		t.Fatalf("expected near-identical trials to score >= %.2f, got %.4f", ThresholdFuzzy, score)
	}
	if len(reasons) == 0 {
		t.Fatal("expected at least one contributing reason")
	}
}

func TestScoreUnrelatedTrialsIsLow(t *testing.T) {
	a := Candidate{
		TrialKey:      "ctgov:NCT001",
		Title:         "A Study of Drug X in Adults With Type 2 Diabetes",
		SponsorLead:   "Acme Pharma",
		StartDate:     tp("2024-01-15"),
		Conditions:    []string{"Type 2 Diabetes"},
		Interventions: []string{"Drug X"},
	}
	b := Candidate{
		TrialKey:      "ctgov:NCT999",
		Title:         "Effects of Mindfulness Training on Athlete Recovery",
		SponsorLead:   "University Sports Institute",
		StartDate:     tp("2019-06-01"),
		Conditions:    []string{"Sports Injury"},
		Interventions: []string{"Mindfulness Training"},
	}
	score, _ := Score(a, b)
	if score >= ThresholdProbable {
		t.Fatalf("expected unrelated trials to score below %.2f, got %.4f", ThresholdProbable, score)
	}
}

func TestSharedExternalIDDetectsOverlap(t *testing.T) {
	a := Candidate{ExternalIDs: map[string]string{"nct": "NCT001", "eudract": "2024-000123"}}
	b := Candidate{ExternalIDs: map[string]string{"nct": "NCT001"}}
	if !SharedExternalID(a, b) {
		t.Fatal("expected shared nct id to be detected")
	}
}

func TestSharedExternalIDRequiresNonEmptyMatch(t *testing.T) {
	a := Candidate{ExternalIDs: map[string]string{"nct": ""}}
	b := Candidate{ExternalIDs: map[string]string{"nct": ""}}
	if SharedExternalID(a, b) {
		t.Fatal("expected empty values to never count as a shared id")
	}
}

func TestSharedExternalIDRejectsDifferentValues(t *testing.T) {
	a := Candidate{ExternalIDs: map[string]string{"nct": "NCT001"}}
	b := Candidate{ExternalIDs: map[string]string{"nct": "NCT002"}}
	if SharedExternalID(a, b) {
		t.Fatal("expected different ids under the same key to not match")
	}
}

func TestMatchTypeForBands(t *testing.T) {
	cases := []struct {
		score     float64
		wantType  string
		wantEmits bool
	}{
		{0.99, "exact", true},
		{0.95, "exact", true},
		{0.92, "fuzzy", true},
		{0.90, "fuzzy", true},
		{0.86, "probable", true},
		{0.85, "probable", true},
		{0.50, "", false},
	}
	for _, c := range cases {
		got, ok := MatchTypeFor(c.score)
		if ok != c.wantEmits || got != c.wantType {
			t.Fatalf("MatchTypeFor(%.2f): got (%q, %v), want (%q, %v)", c.score, got, ok, c.wantType, c.wantEmits)
		}
	}
}

func TestJaccardOfDisjointSetsIsZero(t *testing.T) {
	if got := jaccard([]string{"a", "b"}, []string{"c", "d"}); got != 0 {
		t.Fatalf("expected 0, got %.4f", got)
	}
}

func TestJaccardOfIdenticalSetsIsOne(t *testing.T) {
	if got := jaccard([]string{"a", "b"}, []string{"b", "a"}); got != 1 {
		t.Fatalf("expected 1, got %.4f", got)
	}
}

func TestJaccardOfEmptySetsIsZero(t *testing.T) {
	if got := jaccard(nil, nil); got != 0 {
		t.Fatalf("expected 0 for two empty sets, got %.4f", got)
	}
}

func TestTrigramSimilarityOfIdenticalStringsIsOne(t *testing.T) {
	if got := trigramSimilarity("diabetes study", "diabetes study"); got != 1 {
		t.Fatalf("expected 1, got %.4f", got)
	}
}

func TestTrigramSimilarityIsSymmetric(t *testing.T) {
	a, b := "a study of drug x", "a study of drug y"
	if got1, got2 := trigramSimilarity(a, b), trigramSimilarity(b, a); got1 != got2 {
		t.Fatalf("expected symmetric result, got %.4f vs %.4f", got1, got2)
	}
}

func TestDateProximityDecaysToZeroOutsideWindow(t *testing.T) {
	a := tp("2024-01-01")
	b := tp("2025-01-01")
	if got := dateProximity(a, b); got != 0 {
		t.Fatalf("expected 0 beyond the 180d window, got %.4f", got)
	}
}

func TestDateProximityIsFullCreditForSameDay(t *testing.T) {
	a := tp("2024-01-01")
	if got := dateProximity(a, a); got != 1 {
		t.Fatalf("expected 1 for identical dates, got %.4f", got)
	}
}

func TestDateProximityWithNilIsZero(t *testing.T) {
	if got := dateProximity(nil, tp("2024-01-01")); got != 0 {
		t.Fatalf("expected 0 when either date is nil, got %.4f", got)
	}
}
