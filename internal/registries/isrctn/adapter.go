// Package isrctn implements the registries.Adapter contract for the
// ISRCTN registry's page-number-paginated query API (§4.5).
package isrctn

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/normalization"
	"github.com/globaltrial/registry-pipeline/internal/platform/httpclient"
	"github.com/globaltrial/registry-pipeline/internal/registries"
)

const pageSize = 50

type Adapter struct {
	client  *httpclient.Client
	baseURL string
}

func New(client *httpclient.Client, baseURL string) *Adapter {
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *Adapter) Registry() string { return "isrctn" }

// feed mirrors the subset of ISRCTN's query-API XML response this
// adapter needs: a page of <trial> elements plus a total count.
type feed struct {
	XMLName    xml.Name `xml:"feed"`
	TotalCount int      `xml:"totalCount,attr"`
	Trials     []trial  `xml:"trial"`
}

type trial struct {
	ISRCTN               string   `xml:"isrctn"`
	Title                string   `xml:"title"`
	ScientificTitle      string   `xml:"scientificTitle"`
	PlainEnglishSummary  string   `xml:"plainEnglishSummary"`
	Conditions           string   `xml:"conditions"`
	OverallStatus        string   `xml:"overallStatus"`
	InterventionType     string   `xml:"interventionType"`
	InterventionDetails  string   `xml:"interventionDetails"`
	StudyDesign          string   `xml:"studyDesign"`
	TargetEnrollment     string   `xml:"targetEnrollment"`
	OverallStartDate     string   `xml:"overallStartDate"`
	OverallEndDate       string   `xml:"overallEndDate"`
	LastEdited           string   `xml:"lastEdited"`
	DateApplied          string   `xml:"dateApplied"`
	InclusionCriteria    string   `xml:"participantInclusionCriteria"`
	ExclusionCriteria    string   `xml:"participantExclusionCriteria"`
	GenderEligibility    string   `xml:"genderEligibility"`
	LowerAgeLimit        string   `xml:"lowerAgeLimit"`
	UpperAgeLimit        string   `xml:"upperAgeLimit"`
	SponsorName          string   `xml:"sponsorName"`
	ContactName          string   `xml:"contactName"`
	ContactEmail         string   `xml:"contactEmail"`
	CountriesOfRecruit   string   `xml:"countriesOfRecruitment"`
}

func (a *Adapter) Enumerate(ctx context.Context, cursor registries.Cursor) ([]registries.RawRecord, registries.Cursor, *int, error) {
	page := 1
	if len(cursor) > 0 {
		if n, err := strconv.Atoi(string(cursor)); err == nil {
			page = n
		}
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", pageSize))
	q.Set("page", fmt.Sprintf("%d", page))

	resp, err := a.client.Get(ctx, a.baseURL, q)
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	var parsed feed
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, nil, fmt.Errorf("decode isrctn feed: %w", err)
	}

	batch := make([]registries.RawRecord, 0, len(parsed.Trials))
	for _, t := range parsed.Trials {
		raw, err := json.Marshal(t)
		if err != nil {
			continue
		}
		batch = append(batch, registries.RawRecord{NativeID: t.ISRCTN, Data: raw})
	}

	total := parsed.TotalCount
	var next registries.Cursor
	if page*pageSize < total {
		next = registries.Cursor(strconv.Itoa(page + 1))
	}
	return batch, next, &total, nil
}

func (a *Adapter) Fetch(ctx context.Context, nativeID string) (registries.RawRecord, error) {
	q := url.Values{}
	q.Set("isrctn", nativeID)
	resp, err := a.client.Get(ctx, a.baseURL, q)
	if err != nil {
		return registries.RawRecord{}, err
	}
	defer resp.Body.Close()

	var parsed feed
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Trials) == 0 {
		return registries.RawRecord{}, fmt.Errorf("decode isrctn trial %q: %w", nativeID, err)
	}
	raw, err := json.Marshal(parsed.Trials[0])
	if err != nil {
		return registries.RawRecord{}, err
	}
	return registries.RawRecord{NativeID: nativeID, Data: raw}, nil
}

func (a *Adapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	var t trial
	if err := json.Unmarshal(raw.Data, &t); err != nil {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "root", Raw: string(raw.Data)}
	}

	id := strings.TrimSpace(t.ISRCTN)
	if id == "" {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "isrctn", Raw: string(raw.Data)}
	}

	conditions := normalization.SplitSemicolonComma(t.Conditions)

	interventions := []domain.Intervention{}
	if strings.TrimSpace(t.InterventionDetails) != "" {
		interventions = append(interventions, domain.Intervention{
			Type:        t.InterventionType,
			Name:        t.InterventionType,
			Description: t.InterventionDetails,
		})
	}

	locations := []domain.Location{}
	for _, country := range normalization.SplitSemicolonComma(t.CountriesOfRecruit) {
		locations = append(locations, domain.Location{Country: country})
	}

	contacts := []domain.Contact{}
	if t.ContactName != "" || t.ContactEmail != "" {
		contacts = append(contacts, domain.Contact{Name: t.ContactName, Email: t.ContactEmail, Role: "central_contact"})
	}

	gender := domain.GenderAll
	switch strings.ToLower(strings.TrimSpace(t.GenderEligibility)) {
	case "male":
		gender = domain.GenderMale
	case "female":
		gender = domain.GenderFemale
	}

	minDays, _ := registries.ParseAgeText(t.LowerAgeLimit)
	maxDays, _ := registries.ParseAgeText(t.UpperAgeLimit)
	elig := domain.Eligibility{
		InclusionText: t.InclusionCriteria,
		ExclusionText: t.ExclusionCriteria,
		Gender:        gender,
		MinAgeText:    t.LowerAgeLimit,
		MaxAgeText:    t.UpperAgeLimit,
	}
	if minDays > 0 {
		elig.MinAgeDays = &minDays
	}
	if maxDays > 0 {
		elig.MaxAgeDays = &maxDays
	}

	enrollment := 0
	if n, err := strconv.Atoi(strings.TrimSpace(t.TargetEnrollment)); err == nil {
		enrollment = n
	}

	trialOut := &domain.CanonicalTrial{
		TrialKey:      fmt.Sprintf("isrctn:%s", id),
		ExternalIDs:   registries.ToExternalIDs(domain.ExternalIDs{"isrctn": id}),
		TitleOfficial: t.ScientificTitle,
		TitleBrief:    t.Title,
		TitleLay:      t.PlainEnglishSummary,
		Description:   t.PlainEnglishSummary,
		Conditions:    registries.ToStrings(conditions),
		Interventions: registries.ToInterventions(interventions),
		Phase:         domain.PhaseNA,
		Status:        registries.MapStatus(registries.ISRCTNStatusMapping, t.OverallStatus),
		StudyType:     t.StudyDesign,
		EnrollmentTarget: intPtr(enrollment),
		StartDate:       parseDate(t.OverallStartDate),
		CompletionDate:  parseDate(t.OverallEndDate),
		LastUpdateDate:  parseDate(t.LastEdited),
		FirstPostedDate: parseDate(t.DateApplied),
		Eligibility:     registries.ToEligibility(elig),
		Locations:       registries.ToLocations(locations),
		Contacts:        registries.ToContacts(contacts),
		Sponsor:         registries.ToSponsor(domain.Sponsor{Lead: t.SponsorName}),
		Source:          a.Registry(),
		RawData:         raw.Data,
		IsActive:        true,
	}
	return trialOut, nil
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
