// Package ictrp implements the registries.Adapter contract for the WHO
// International Clinical Trials Registry Platform's aggregated bulk
// XML export, dropped by operators into the bulk-file bucket (§4.5).
package ictrp

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

func (a *Adapter) Registry() string { return "ictrp" }

type bulkCursor struct {
	File  string `json:"file"`
	Index int    `json:"index"`
}

type bulkFeed struct {
	XMLName xml.Name `xml:"Trials_downloaded_from_ICTRP"`
	Trials  []trial  `xml:"Trial"`
}

type trial struct {
	TrialID            string `xml:"TrialID"`
	UTN                string `xml:"Utrn"`
	SourceRegister     string `xml:"Source_Register"`
	PublicTitle        string `xml:"Public_title"`
	ScientificTitle    string `xml:"Scientific_title"`
	Condition          string `xml:"Condition"`
	Intervention       string `xml:"Intervention"`
	RecruitmentStatus  string `xml:"Recruitment_Status"`
	Phase              string `xml:"Phase"`
	StudyType          string `xml:"Study_type"`
	DateRegistration   string `xml:"Date_registration"`
	DateEnrollmentStart string `xml:"Date_enrollement"`
	LastRefreshedOn    string `xml:"Last_Refreshed_on"`
	AgeMin             string `xml:"Agemin"`
	AgeMax             string `xml:"Agemax"`
	Gender             string `xml:"Gender"`
	PrimarySponsor     string `xml:"Primary_sponsor"`
	CountriesOfRecruit string `xml:"Countries"`
}

func (a *Adapter) Enumerate(ctx context.Context, cursor registries.Cursor) ([]registries.RawRecord, registries.Cursor, *int, error) {
	var bc bulkCursor
	if len(cursor) > 0 {
		if err := json.Unmarshal(cursor, &bc); err != nil {
			return nil, nil, nil, fmt.Errorf("decode ictrp cursor: %w", err)
		}
	}

	keys, err := a.bucket.ListKeys(ctx, a.prefix)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list ictrp bulk files: %w", err)
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
		return nil, nil, nil, fmt.Errorf("download ictrp bulk file %q: %w", file, err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read ictrp bulk file %q: %w", file, err)
	}

	var feed bulkFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, nil, nil, fmt.Errorf("parse ictrp bulk file %q: %w", file, err)
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
		batch = append(batch, registries.RawRecord{NativeID: t.TrialID, Data: recordRaw})
	}

	total := len(feed.Trials)
	var next registries.Cursor
	if end < len(feed.Trials) {
		nb, _ := json.Marshal(bulkCursor{File: file, Index: end})
		next = registries.Cursor(nb)
	} else if nextFile := nextKeyAfter(keys, file); nextFile != "" {
		nb, _ := json.Marshal(bulkCursor{File: nextFile, Index: 0})
		next = registries.Cursor(nb)
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

func (a *Adapter) Fetch(ctx context.Context, nativeID string) (registries.RawRecord, error) {
	return registries.RawRecord{}, fmt.Errorf("ictrp adapter has no detail fetch for %q: bulk-file only", nativeID)
}

func (a *Adapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	var t trial
	if err := json.Unmarshal(raw.Data, &t); err != nil {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "root", Raw: string(raw.Data)}
	}

	id := strings.TrimSpace(t.TrialID)
	if id == "" {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "TrialID", Raw: string(raw.Data)}
	}

	externalIDs := domain.ExternalIDs{"who_utn": t.UTN}
	externalIDs["ictrp"] = id
	if native := nativeRegistryTag(t.SourceRegister); native != "" {
		externalIDs[native] = id
	}

	conditions := normalization.SplitSemicolon(t.Condition)
	interventions := []domain.Intervention{}
	for _, name := range normalization.SplitSemicolon(t.Intervention) {
		interventions = append(interventions, domain.Intervention{Type: "unspecified", Name: name})
	}
	locations := []domain.Location{}
	for _, country := range normalization.SplitSemicolon(t.CountriesOfRecruit) {
		locations = append(locations, domain.Location{Country: country})
	}

	gender := domain.GenderAll
	switch strings.ToLower(strings.TrimSpace(t.Gender)) {
	case "male":
		gender = domain.GenderMale
	case "female":
		gender = domain.GenderFemale
	}

	minDays, minOK := registries.ParseAgeText(t.AgeMin)
	maxDays, maxOK := registries.ParseAgeText(t.AgeMax)
	elig := domain.Eligibility{Gender: gender, MinAgeText: t.AgeMin, MaxAgeText: t.AgeMax}
	if minOK {
		elig.MinAgeDays = &minDays
	}
	if maxOK {
		elig.MaxAgeDays = &maxDays
	}

	trialOut := &domain.CanonicalTrial{
		TrialKey:        fmt.Sprintf("ictrp:%s", id),
		ExternalIDs:     registries.ToExternalIDs(externalIDs),
		TitleOfficial:   t.ScientificTitle,
		TitleBrief:      t.PublicTitle,
		Conditions:      registries.ToStrings(conditions),
		Interventions:   registries.ToInterventions(interventions),
		Phase:           registries.NormalizePhase(t.Phase),
		Status:          registries.MapStatus(registries.ICTRPStatusMapping, t.RecruitmentStatus),
		StudyType:       t.StudyType,
		StartDate:       parseDate(t.DateEnrollmentStart),
		FirstPostedDate: parseDate(t.DateRegistration),
		LastUpdateDate:  parseDate(t.LastRefreshedOn),
		Eligibility:     registries.ToEligibility(elig),
		Locations:       registries.ToLocations(locations),
		Sponsor:         registries.ToSponsor(domain.Sponsor{Lead: t.PrimarySponsor}),
		Source:          a.Registry(),
		RawData:         raw.Data,
		IsActive:        true,
	}
	return trialOut, nil
}

// nativeRegistryTag maps ICTRP's Source_Register free text onto the
// external-ID key the primary registry adapter itself would have used,
// so cross-registry dedup (§4.8) can match on the shared identifier.
func nativeRegistryTag(sourceRegister string) string {
	s := strings.ToLower(sourceRegister)
	switch {
	case strings.Contains(s, "clinicaltrials.gov"):
		return "nct"
	case strings.Contains(s, "isrctn"):
		return "isrctn"
	case strings.Contains(s, "eu clinical trials register"), strings.Contains(s, "eudract"):
		return "eudract"
	case strings.Contains(s, "ctis"):
		return "ctis"
	default:
		return ""
	}
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
