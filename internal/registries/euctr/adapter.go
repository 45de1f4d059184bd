// Package euctr implements the registries.Adapter contract for the
// legacy EU Clinical Trials Register, whose public data is only
// available as operator-dropped bulk XML exports (§4.5) rather than a
// queryable API.
package euctr

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/normalization"
	"github.com/globaltrial/registry-pipeline/internal/platform/gcp"
	"github.com/globaltrial/registry-pipeline/internal/registries"
)

type Adapter struct {
	bucket gcp.BucketService
	prefix string
}

func New(bucket gcp.BucketService, prefix string) *Adapter {
	return &Adapter{bucket: bucket, prefix: prefix}
}

func (a *Adapter) Registry() string { return "euctr" }

// bulkCursor tracks which operator-dropped file this adapter is
// partway through and how many <trial> records it has already
// yielded from it, so Enumerate can resume mid-file after a restart.
type bulkCursor struct {
	File  string `json:"file"`
	Index int    `json:"index"`
}

type bulkFeed struct {
	XMLName xml.Name `xml:"trials"`
	Trials  []trial  `xml:"trial"`
}

type trial struct {
	EudraCTNumber string `xml:"eudract_number"`
	FullTitle     string `xml:"full_title"`
	ShortTitle    string `xml:"abbreviated_title"`
	MedicalCondition string `xml:"medical_condition"`
	TherapeuticArea  string `xml:"therapeutic_area"`
	TrialStatus      string `xml:"trial_status"`
	TrialPhase       string `xml:"trial_phase"`
	SponsorName      string `xml:"sponsor_name"`
	StartDate        string `xml:"date_of_competent_authority_decision"`
	EndDate          string `xml:"trial_end_date"`
	LastUpdated      string `xml:"last_update_date"`
	AgeGroup         string `xml:"age_group"`
	Gender           string `xml:"gender"`
	InvestigationalProducts string `xml:"investigational_products"`
	Countries        string `xml:"member_state_concerned"`
}

func (a *Adapter) Enumerate(ctx context.Context, cursor registries.Cursor) ([]registries.RawRecord, registries.Cursor, *int, error) {
	var bc bulkCursor
	if len(cursor) > 0 {
		if err := json.Unmarshal(cursor, &bc); err != nil {
			return nil, nil, nil, fmt.Errorf("decode euctr cursor: %w", err)
		}
	}

	keys, err := a.bucket.ListKeys(ctx, a.prefix)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list euctr bulk files: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil, nil, &registries.ErrManualImportRequired{Registry: a.Registry(), Path: a.prefix}
	}

	file := bc.File
	if file == "" {
		file = keys[0]
	}

	reader, err := a.bucket.DownloadFile(ctx, file)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("download euctr bulk file %q: %w", file, err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read euctr bulk file %q: %w", file, err)
	}

	var feed bulkFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, nil, nil, fmt.Errorf("parse euctr bulk file %q: %w", file, err)
	}

	const batchSize = 200
	start := bc.Index
	if start > len(feed.Trials) {
		start = len(feed.Trials)
	}
	end := start + batchSize
	if end > len(feed.Trials) {
		end = len(feed.Trials)
	}

	batch := make([]registries.RawRecord, 0, end-start)
	for _, t := range feed.Trials[start:end] {
		recordRaw, err := json.Marshal(t)
		if err != nil {
			continue
		}
		batch = append(batch, registries.RawRecord{NativeID: t.EudraCTNumber, Data: recordRaw})
	}

	total := len(feed.Trials)
	var next registries.Cursor
	if end < len(feed.Trials) {
		nb, _ := json.Marshal(bulkCursor{File: file, Index: end})
		next = registries.Cursor(nb)
	} else {
		nextFile := nextKeyAfter(keys, file)
		if nextFile != "" {
			nb, _ := json.Marshal(bulkCursor{File: nextFile, Index: 0})
			next = registries.Cursor(nb)
		}
	}
	return batch, next, &total, nil
}

func nextKeyAfter(keys []string, current string) string {
	for i, k := range keys {
		if k == current && i+1 < len(keys) {
			return keys[i+1]
		}
	}
	return ""
}

// Fetch is unsupported: bulk-file registries have no per-record detail
// endpoint, so every record must come through Enumerate.
func (a *Adapter) Fetch(ctx context.Context, nativeID string) (registries.RawRecord, error) {
	return registries.RawRecord{}, fmt.Errorf("euctr adapter has no detail fetch for %q: bulk-file only", nativeID)
}

func (a *Adapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	var t trial
	if err := json.Unmarshal(raw.Data, &t); err != nil {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "root", Raw: string(raw.Data)}
	}

	id := strings.TrimSpace(t.EudraCTNumber)
	if id == "" {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "eudract_number", Raw: string(raw.Data)}
	}

	conditions := normalization.SplitSemicolon(t.MedicalCondition)
	if t.TherapeuticArea != "" {
		conditions = append(conditions, t.TherapeuticArea)
	}

	interventions := []domain.Intervention{}
	for _, name := range normalization.SplitSemicolon(t.InvestigationalProducts) {
		interventions = append(interventions, domain.Intervention{Type: "drug", Name: name})
	}

	locations := []domain.Location{}
	for _, country := range normalization.SplitSemicolon(t.Countries) {
		locations = append(locations, domain.Location{Country: country})
	}

	gender := domain.GenderAll
	switch strings.ToLower(strings.TrimSpace(t.Gender)) {
	case "male":
		gender = domain.GenderMale
	case "female":
		gender = domain.GenderFemale
	}

	elig := domain.Eligibility{Gender: gender}
	if days, ok := registries.AgeGroupToDays(t.AgeGroup); ok {
		elig.MinAgeDays = &days
		elig.MinAgeText = t.AgeGroup
	}

	trialOut := &domain.CanonicalTrial{
		TrialKey:       fmt.Sprintf("euctr:%s", id),
		ExternalIDs:    registries.ToExternalIDs(domain.ExternalIDs{"eudract": id}),
		TitleOfficial:  t.FullTitle,
		TitleBrief:     t.ShortTitle,
		Conditions:     registries.ToStrings(conditions),
		Interventions:  registries.ToInterventions(interventions),
		Phase:          registries.NormalizePhase(t.TrialPhase),
		Status:         registries.MapStatus(registries.EUCTRStatusMapping, t.TrialStatus),
		StartDate:      parseDate(t.StartDate),
		CompletionDate: parseDate(t.EndDate),
		LastUpdateDate: parseDate(t.LastUpdated),
		Eligibility:    registries.ToEligibility(elig),
		Locations:      registries.ToLocations(locations),
		Sponsor:        registries.ToSponsor(domain.Sponsor{Lead: t.SponsorName}),
		Source:         a.Registry(),
		RawData:        raw.Data,
		IsActive:       true,
	}
	return trialOut, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}
