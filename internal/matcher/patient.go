// Package matcher implements the hybrid patient-trial matching pass
// from §4.9: vector ANN search blended with keyword search, eligibility
// filtering, and location scoring into a single ranked list.
package matcher

import (
	"fmt"
	"strings"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// Patient is the input profile a match request is run against. All
// fields are optional: a zero AgeYears skips the age gate and an empty
// Gender skips the gender-restriction check.
type Patient struct {
	Conditions         []string
	Symptoms           []string
	PreviousTreatments []string
	CurrentMedications []string
	AgeYears           int
	Gender             domain.Gender
	TreatmentUrgency   string

	City, State, Country string
}

// Text renders §4.9.1's fixed template, omitting empty clauses.
func (p Patient) Text() string {
	var clauses []string
	if s := strings.Join(p.Conditions, ", "); s != "" {
		clauses = append(clauses, "Conditions: "+s+".")
	}
	if s := strings.Join(p.Symptoms, ", "); s != "" {
		clauses = append(clauses, "Symptoms: "+s+".")
	}
	if s := strings.Join(p.PreviousTreatments, ", "); s != "" {
		clauses = append(clauses, "Previous treatments: "+s+".")
	}
	if s := strings.Join(p.CurrentMedications, ", "); s != "" {
		clauses = append(clauses, "Current medications: "+s+".")
	}
	if p.AgeYears > 0 {
		clauses = append(clauses, fmt.Sprintf("Age: %d years.", p.AgeYears))
	}
	if p.Gender != "" {
		clauses = append(clauses, "Gender: "+string(p.Gender)+".")
	}
	if strings.TrimSpace(p.TreatmentUrgency) != "" {
		clauses = append(clauses, "Treatment urgency: "+p.TreatmentUrgency+".")
	}
	if loc := p.locationText(); loc != "" {
		clauses = append(clauses, "Location: "+loc+".")
	}
	return strings.Join(clauses, " ")
}

func (p Patient) locationText() string {
	parts := make([]string, 0, 3)
	for _, v := range []string{p.City, p.State, p.Country} {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, ", ")
}

func (p Patient) hasLocation() bool {
	return strings.TrimSpace(p.City) != "" || strings.TrimSpace(p.State) != "" || strings.TrimSpace(p.Country) != ""
}

// keywordQuery joins the condition/symptom/treatment text for the
// keyword-search leg (§4.9 step 4).
func (p Patient) keywordQuery() string {
	all := make([]string, 0, len(p.Conditions)+len(p.Symptoms)+len(p.PreviousTreatments))
	all = append(all, p.Conditions...)
	all = append(all, p.Symptoms...)
	all = append(all, p.PreviousTreatments...)
	return strings.Join(all, " ")
}

// ageDays converts whole years to the day granularity Eligibility
// stores its age gate in.
func (p Patient) ageDays() int {
	return p.AgeYears * 365
}
