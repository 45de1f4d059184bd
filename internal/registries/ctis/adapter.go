// Package ctis implements the registries.Adapter contract for the EU
// Clinical Trials Information System's public search API, which paginates
// by numeric offset (§4.5).
package ctis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
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

func (a *Adapter) Registry() string { return "ctis" }

type searchResponse struct {
	Data       []json.RawMessage `json:"data"`
	TotalCount int                `json:"totalCount"`
}

func (a *Adapter) Enumerate(ctx context.Context, cursor registries.Cursor) ([]registries.RawRecord, registries.Cursor, *int, error) {
	offset := 0
	if len(cursor) > 0 {
		if n, err := strconv.Atoi(string(cursor)); err == nil {
			offset = n
		}
	}

	q := url.Values{}
	q.Set("pageSize", fmt.Sprintf("%d", pageSize))
	q.Set("offset", fmt.Sprintf("%d", offset))

	resp, err := a.client.Get(ctx, a.baseURL+"/search", q)
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, nil, fmt.Errorf("decode ctis search response: %w", err)
	}

	batch := make([]registries.RawRecord, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		batch = append(batch, registries.RawRecord{NativeID: extractCTNumber(raw), Data: raw})
	}

	var next registries.Cursor
	if offset+len(parsed.Data) < parsed.TotalCount {
		next = registries.Cursor(strconv.Itoa(offset + pageSize))
	}
	return batch, next, &parsed.TotalCount, nil
}

func (a *Adapter) Fetch(ctx context.Context, nativeID string) (registries.RawRecord, error) {
	resp, err := a.client.Get(ctx, a.baseURL+"/trials/"+url.PathEscape(nativeID), nil)
	if err != nil {
		return registries.RawRecord{}, err
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return registries.RawRecord{}, fmt.Errorf("decode ctis trial %q: %w", nativeID, err)
	}
	return registries.RawRecord{NativeID: nativeID, Data: raw}, nil
}

func extractCTNumber(raw json.RawMessage) string {
	var partial struct {
		CTNumber string `json:"ctNumber"`
	}
	_ = json.Unmarshal(raw, &partial)
	return partial.CTNumber
}

type record struct {
	CTNumber       string `json:"ctNumber"`
	EudraCTNumber  string `json:"eudraCtNumber"`
	Title          string `json:"title"`
	ShortTitle     string `json:"shortTitle"`
	TherapeuticAreas []string `json:"therapeuticAreas"`
	TrialStatus    string `json:"overallStatus"`
	TrialPhase     string `json:"trialPhase"`
	TrialType      string `json:"trialType"`
	SponsorName    string `json:"sponsorName"`
	DecisionDate   string `json:"decisionDate"`
	EndDate        string `json:"endDate"`
	LastUpdated    string `json:"lastUpdateDate"`
	AgeGroup       string `json:"ageGroup"`
	Gender         string `json:"gender"`
	MemberStates   []struct {
		Country string `json:"country"`
		Status  string `json:"status"`
	} `json:"memberStates"`
	Products []struct {
		Name        string `json:"name"`
		ActiveSubstance string `json:"activeSubstance"`
	} `json:"products"`
}

func (a *Adapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	var r record
	if err := json.Unmarshal(raw.Data, &r); err != nil {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "root", Raw: string(raw.Data)}
	}

	ct := strings.TrimSpace(r.CTNumber)
	if ct == "" {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "ctNumber", Raw: string(raw.Data)}
	}

	externalIDs := domain.ExternalIDs{"ctis": ct}
	if r.EudraCTNumber != "" {
		externalIDs["eudract"] = r.EudraCTNumber
	}

	interventions := make([]domain.Intervention, 0, len(r.Products))
	for _, p := range r.Products {
		interventions = append(interventions, domain.Intervention{Type: "drug", Name: p.Name, Description: p.ActiveSubstance})
	}

	locations := make([]domain.Location, 0, len(r.MemberStates))
	for _, ms := range r.MemberStates {
		locations = append(locations, domain.Location{Country: ms.Country, Status: ms.Status})
	}

	gender := domain.GenderAll
	switch strings.ToLower(strings.TrimSpace(r.Gender)) {
	case "male":
		gender = domain.GenderMale
	case "female":
		gender = domain.GenderFemale
	}

	elig := domain.Eligibility{Gender: gender}
	if days, ok := registries.AgeGroupToDays(r.AgeGroup); ok {
		elig.MinAgeDays = &days
		elig.MinAgeText = r.AgeGroup
	}

	trial := &domain.CanonicalTrial{
		TrialKey:      fmt.Sprintf("ctis:%s", ct),
		ExternalIDs:   registries.ToExternalIDs(externalIDs),
		TitleOfficial: r.Title,
		TitleBrief:    r.ShortTitle,
		Conditions:    registries.ToStrings(r.TherapeuticAreas),
		Interventions: registries.ToInterventions(interventions),
		Phase:         registries.NormalizePhase(r.TrialPhase),
		Status:        registries.MapStatus(registries.CTISStatusMapping, r.TrialStatus),
		StudyType:     r.TrialType,
		StartDate:      parseDate(r.DecisionDate),
		CompletionDate: parseDate(r.EndDate),
		LastUpdateDate: parseDate(r.LastUpdated),
		Eligibility:   registries.ToEligibility(elig),
		Locations:     registries.ToLocations(locations),
		Sponsor:       registries.ToSponsor(domain.Sponsor{Lead: r.SponsorName}),
		Source:        a.Registry(),
		RawData:       raw.Data,
		IsActive:      true,
	}
	return trial, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}
