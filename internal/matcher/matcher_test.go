package matcher

import (
	"testing"

	"gorm.io/datatypes"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

func intPtr(i int) *int { return &i }

func eligibility(minAge, maxAge int, gender domain.Gender) domain.Eligibility {
	return domain.Eligibility{MinAgeDays: intPtr(minAge * 365), MaxAgeDays: intPtr(maxAge * 365), Gender: gender}
}

func TestEligibilityAllows(t *testing.T) {
	cases := []struct {
		name string
		p    Patient
		e    domain.Eligibility
		want bool
	}{
		{"within window, all genders", Patient{AgeYears: 30, Gender: domain.GenderFemale}, eligibility(18, 65, domain.GenderAll), true},
		{"below min age", Patient{AgeYears: 10, Gender: domain.GenderFemale}, eligibility(18, 65, domain.GenderAll), false},
		{"above max age", Patient{AgeYears: 90, Gender: domain.GenderFemale}, eligibility(18, 65, domain.GenderAll), false},
		{"gender restricted to male, patient is female", Patient{AgeYears: 30, Gender: domain.GenderFemale}, eligibility(18, 65, domain.GenderMale), false},
		{"gender restricted to female, patient is female", Patient{AgeYears: 30, Gender: domain.GenderFemale}, eligibility(18, 65, domain.GenderFemale), true},
		{"no age given skips age gate", Patient{Gender: domain.GenderFemale}, eligibility(40, 50, domain.GenderAll), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := eligibilityAllows(tc.p, tc.e); got != tc.want {
				t.Fatalf("eligibilityAllows(%+v, %+v) = %v, want %v", tc.p, tc.e, got, tc.want)
			}
		})
	}
}

func TestEligibilityStrengthCentered(t *testing.T) {
	patientCentered := Patient{AgeYears: 40, Gender: domain.GenderFemale}
	patientEdge := Patient{AgeYears: 18, Gender: domain.GenderFemale}
	e := eligibility(18, 62, domain.GenderAll)

	centered := eligibilityStrength(patientCentered, e)
	edge := eligibilityStrength(patientEdge, e)
	if centered <= edge {
		t.Fatalf("expected centered age (%f) to score higher than edge age (%f)", centered, edge)
	}
}

func TestEligibilityStrengthExactGenderBeatsUnrestricted(t *testing.T) {
	p := Patient{AgeYears: 30, Gender: domain.GenderFemale}
	restricted := eligibilityStrength(p, eligibility(18, 65, domain.GenderFemale))
	unrestricted := eligibilityStrength(p, eligibility(18, 65, domain.GenderAll))
	if restricted <= unrestricted {
		t.Fatalf("expected exact gender match (%f) to score higher than unrestricted (%f)", restricted, unrestricted)
	}
}

func TestLocationScore(t *testing.T) {
	p := Patient{City: "Boston", State: "MA", Country: "USA"}
	locs := []domain.Location{{City: "Boston", State: "MA", Country: "USA"}}
	if got := locationScore(p, locs); got != 1.0 {
		t.Fatalf("exact match score = %f, want 1.0", got)
	}

	countryOnly := []domain.Location{{City: "Paris", State: "", Country: "USA"}}
	if got := locationScore(p, countryOnly); got != 0.5 {
		t.Fatalf("country-only match score = %f, want 0.5", got)
	}

	if got := locationScore(Patient{}, locs); got != 0.5 {
		t.Fatalf("no patient location score = %f, want 0.5 (neutral)", got)
	}

	if got := locationScore(p, nil); got != 0 {
		t.Fatalf("no trial locations score = %f, want 0", got)
	}
}

func TestKeywordRankScore(t *testing.T) {
	if got := keywordRankScore(0, 1); got != 1.0 {
		t.Fatalf("single result rank score = %f, want 1.0", got)
	}
	if got := keywordRankScore(0, 5); got != 1.0 {
		t.Fatalf("top rank of 5 score = %f, want 1.0", got)
	}
	if got := keywordRankScore(4, 5); got != 0.0 {
		t.Fatalf("bottom rank of 5 score = %f, want 0.0", got)
	}
}

// TestMatchFiltersIneligibleTrials exercises the eligibility gate Match
// applies, in the scenario from §4.9: a 30-year-old female patient with
// diabetes passes for a gender-unrestricted trial but not for a
// male-only trial or one whose age window excludes her.
func TestMatchFiltersIneligibleTrials(t *testing.T) {
	patient := Patient{AgeYears: 30, Gender: domain.GenderFemale, Conditions: []string{"diabetes"}}

	t1 := eligibility(18, 65, domain.GenderAll)
	t2 := eligibility(18, 65, domain.GenderMale)
	t3 := eligibility(40, 80, domain.GenderAll)

	if !eligibilityAllows(patient, t1) {
		t.Fatalf("expected T1 (all genders, in-window) to be eligible")
	}
	if eligibilityAllows(patient, t2) {
		t.Fatalf("expected T2 (male-only) to be ineligible for a female patient")
	}
	if eligibilityAllows(patient, t3) {
		t.Fatalf("expected T3 (40-80 age window) to be ineligible for a 30-year-old")
	}
}

func TestPatientTextOmitsEmptyClauses(t *testing.T) {
	p := Patient{Conditions: []string{"diabetes"}, AgeYears: 30, Gender: domain.GenderFemale}
	text := p.Text()
	want := "Conditions: diabetes. Age: 30 years. Gender: FEMALE."
	if text != want {
		t.Fatalf("Text() = %q, want %q", text, want)
	}
}

func TestPatientTextIncludesLocation(t *testing.T) {
	p := Patient{Conditions: []string{"asthma"}, City: "Boston", State: "MA", Country: "USA"}
	text := p.Text()
	want := "Conditions: asthma. Location: Boston, MA, USA."
	if text != want {
		t.Fatalf("Text() = %q, want %q", text, want)
	}
}

func TestExplainListsOnlyNonZeroComponents(t *testing.T) {
	got := explain(0, 0, 0.7, 0)
	want := "eligibility fit 0.70"
	if got != want {
		t.Fatalf("explain() = %q, want %q", got, want)
	}
}

// trialEligibility is a small helper mirroring how repos load
// Eligibility out of its JSONType column, used to sanity-check that
// eligibilityAllows operates on decoded values the same way the
// matcher will see them via CanonicalTrial.Eligibility.Data().
func trialEligibility(e domain.Eligibility) datatypes.JSONType[domain.Eligibility] {
	return datatypes.NewJSONType(e)
}

func TestEligibilityRoundTripsThroughJSONType(t *testing.T) {
	wrapped := trialEligibility(eligibility(18, 65, domain.GenderAll))
	decoded := wrapped.Data()
	if decoded.MinAgeDays == nil || *decoded.MinAgeDays != 18*365 {
		t.Fatalf("decoded MinAgeDays = %v, want %d", decoded.MinAgeDays, 18*365)
	}
}
