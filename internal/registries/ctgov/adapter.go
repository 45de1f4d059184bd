// Package ctgov implements the registries.Adapter contract for
// ClinicalTrials.gov's API v2, using its opaque nextPageToken
// pagination (§4.5).
package ctgov

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/normalization"
	"github.com/globaltrial/registry-pipeline/internal/platform/httpclient"
	"github.com/globaltrial/registry-pipeline/internal/registries"
)

const pageSize = 100

type Adapter struct {
	client  *httpclient.Client
	baseURL string
}

func New(client *httpclient.Client, baseURL string) *Adapter {
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *Adapter) Registry() string { return "ctgov" }

// listResponse mirrors the subset of ClinicalTrials.gov API v2's
// /studies response this adapter consumes.
type listResponse struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string             `json:"nextPageToken"`
}

func (a *Adapter) Enumerate(ctx context.Context, cursor registries.Cursor) ([]registries.RawRecord, registries.Cursor, *int, error) {
	q := url.Values{}
	q.Set("pageSize", fmt.Sprintf("%d", pageSize))
	q.Set("countTotal", "true")
	if len(cursor) > 0 {
		q.Set("pageToken", string(cursor))
	}

	resp, err := a.client.Get(ctx, a.baseURL+"/studies", q)
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, nil, fmt.Errorf("decode ctgov studies response: %w", err)
	}

	batch := make([]registries.RawRecord, 0, len(parsed.Studies))
	for _, raw := range parsed.Studies {
		nativeID := extractNCTID(raw)
		batch = append(batch, registries.RawRecord{NativeID: nativeID, Data: raw})
	}

	var next registries.Cursor
	if parsed.NextPageToken != "" {
		next = registries.Cursor(parsed.NextPageToken)
	}
	return batch, next, nil, nil
}

// EnumerateRange implements registries.DateRangeAdapter using the API's
// Essie `filter.advanced` date-range syntax against LastUpdatePostDate,
// paginating until exhausted so the fallback sweep gets every record
// touched within the window, not just the first page.
func (a *Adapter) EnumerateRange(ctx context.Context, from, until time.Time) ([]registries.RawRecord, error) {
	var all []registries.RawRecord
	var pageToken string
	for {
		q := url.Values{}
		q.Set("pageSize", fmt.Sprintf("%d", pageSize))
		q.Set("filter.advanced", fmt.Sprintf("AREA[LastUpdatePostDate]RANGE[%s,%s]", from.Format("2006-01-02"), until.Format("2006-01-02")))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		resp, err := a.client.Get(ctx, a.baseURL+"/studies", q)
		if err != nil {
			return all, err
		}
		var parsed listResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if decodeErr != nil {
			return all, fmt.Errorf("decode ctgov studies response: %w", decodeErr)
		}

		for _, raw := range parsed.Studies {
			all = append(all, registries.RawRecord{NativeID: extractNCTID(raw), Data: raw})
		}
		if parsed.NextPageToken == "" {
			break
		}
		pageToken = parsed.NextPageToken
	}
	return all, nil
}

func (a *Adapter) Fetch(ctx context.Context, nativeID string) (registries.RawRecord, error) {
	resp, err := a.client.Get(ctx, a.baseURL+"/studies/"+url.PathEscape(nativeID), nil)
	if err != nil {
		return registries.RawRecord{}, err
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return registries.RawRecord{}, fmt.Errorf("decode ctgov study %q: %w", nativeID, err)
	}
	return registries.RawRecord{NativeID: nativeID, Data: raw}, nil
}

func extractNCTID(raw json.RawMessage) string {
	var partial struct {
		ProtocolSection struct {
			IdentificationModule struct {
				NCTId string `json:"nctId"`
			} `json:"identificationModule"`
		} `json:"protocolSection"`
	}
	_ = json.Unmarshal(raw, &partial)
	return partial.ProtocolSection.IdentificationModule.NCTId
}

// study is the shape this adapter normalizes from; it deliberately
// only models the fields the canonical schema needs, not the full
// ClinicalTrials.gov response.
type study struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTId              string   `json:"nctId"`
			OrgStudyIdInfo      struct{ ID string `json:"id"` } `json:"orgStudyIdInfo"`
			SecondaryIdInfos    []struct{ ID string `json:"id"` } `json:"secondaryIdInfos"`
			BriefTitle          string   `json:"briefTitle"`
			OfficialTitle       string   `json:"officialTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus    string `json:"overallStatus"`
			StartDateStruct  struct{ Date string `json:"date"` } `json:"startDateStruct"`
			CompletionDateStruct struct{ Date string `json:"date"` } `json:"completionDateStruct"`
			LastUpdatePostDateStruct struct{ Date string `json:"date"` } `json:"lastUpdatePostDateStruct"`
			StudyFirstPostDateStruct struct{ Date string `json:"date"` } `json:"studyFirstPostDateStruct"`
		} `json:"statusModule"`
		DescriptionModule struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		DesignModule struct {
			StudyType string   `json:"studyType"`
			PhaseList []string `json:"phases"`
			EnrollmentInfo struct {
				Count int `json:"count"`
			} `json:"enrollmentInfo"`
		} `json:"designModule"`
		ArmsInterventionsModule struct {
			Interventions []struct {
				Type        string `json:"type"`
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"interventions"`
		} `json:"armsInterventionsModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
			Gender              string `json:"sex"`
			MinimumAge          string `json:"minimumAge"`
			MaximumAge          string `json:"maximumAge"`
		} `json:"eligibilityModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				City     string `json:"city"`
				State    string `json:"state"`
				Country  string `json:"country"`
				Status   string `json:"status"`
			} `json:"locations"`
			CentralContacts []struct {
				Name  string `json:"name"`
				Email string `json:"email"`
				Phone string `json:"phone"`
			} `json:"centralContacts"`
		} `json:"contactsLocationsModule"`
		SponsorCollaboratorsModule struct {
			LeadSponsor struct{ Name string `json:"name"` } `json:"leadSponsor"`
			Collaborators []struct{ Name string `json:"name"` } `json:"collaborators"`
		} `json:"sponsorCollaboratorsModule"`
	} `json:"protocolSection"`
}

func (a *Adapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	var s study
	if err := json.Unmarshal(raw.Data, &s); err != nil {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "root", Raw: string(raw.Data)}
	}

	nct := strings.TrimSpace(s.ProtocolSection.IdentificationModule.NCTId)
	if nct == "" {
		return nil, &registries.ErrNormalizationFailed{Registry: a.Registry(), Field: "nctId", Raw: string(raw.Data)}
	}

	externalIDs := domain.ExternalIDs{"nct": nct}
	if sponsorID := s.ProtocolSection.IdentificationModule.OrgStudyIdInfo.ID; sponsorID != "" {
		externalIDs["sponsor_protocol"] = sponsorID
	}
	for _, sec := range s.ProtocolSection.IdentificationModule.SecondaryIdInfos {
		id := strings.TrimSpace(sec.ID)
		switch {
		case strings.HasPrefix(strings.ToUpper(id), "ISRCTN"):
			externalIDs["isrctn"] = id
		case strings.Contains(strings.ToUpper(id), "EUDRACT"):
			externalIDs["eudract"] = id
		}
	}

	interventions := make([]domain.Intervention, 0, len(s.ProtocolSection.ArmsInterventionsModule.Interventions))
	for _, iv := range s.ProtocolSection.ArmsInterventionsModule.Interventions {
		interventions = append(interventions, domain.Intervention{
			Type:        iv.Type,
			Name:        iv.Name,
			Description: iv.Description,
		})
	}

	locations := make([]domain.Location, 0, len(s.ProtocolSection.ContactsLocationsModule.Locations))
	for _, loc := range s.ProtocolSection.ContactsLocationsModule.Locations {
		locations = append(locations, domain.Location{
			Facility: loc.Facility,
			City:     loc.City,
			State:    loc.State,
			Country:  loc.Country,
			Status:   loc.Status,
		})
	}

	contacts := make([]domain.Contact, 0, len(s.ProtocolSection.ContactsLocationsModule.CentralContacts))
	for _, c := range s.ProtocolSection.ContactsLocationsModule.CentralContacts {
		contacts = append(contacts, domain.Contact{Name: c.Name, Email: c.Email, Phone: c.Phone, Role: "central_contact"})
	}

	collaborators := make([]string, 0, len(s.ProtocolSection.SponsorCollaboratorsModule.Collaborators))
	for _, c := range s.ProtocolSection.SponsorCollaboratorsModule.Collaborators {
		collaborators = append(collaborators, c.Name)
	}

	phase := domain.PhaseNA
	if len(s.ProtocolSection.DesignModule.PhaseList) > 0 {
		phase = registries.NormalizePhase(s.ProtocolSection.DesignModule.PhaseList[0])
	}

	gender := domain.GenderAll
	switch strings.ToUpper(strings.TrimSpace(s.ProtocolSection.EligibilityModule.Gender)) {
	case "MALE":
		gender = domain.GenderMale
	case "FEMALE":
		gender = domain.GenderFemale
	}

	minDays, _ := registries.ParseAgeText(s.ProtocolSection.EligibilityModule.MinimumAge)
	maxDays, _ := registries.ParseAgeText(s.ProtocolSection.EligibilityModule.MaximumAge)

	elig := domain.Eligibility{
		InclusionText: s.ProtocolSection.EligibilityModule.EligibilityCriteria,
		Gender:        gender,
		MinAgeText:    s.ProtocolSection.EligibilityModule.MinimumAge,
		MaxAgeText:    s.ProtocolSection.EligibilityModule.MaximumAge,
	}
	if minDays > 0 {
		elig.MinAgeDays = &minDays
	}
	if maxDays > 0 {
		elig.MaxAgeDays = &maxDays
	}

	trial := &domain.CanonicalTrial{
		TrialKey:      fmt.Sprintf("ctgov:%s", nct),
		ExternalIDs:   registries.ToExternalIDs(externalIDs),
		TitleOfficial: s.ProtocolSection.IdentificationModule.OfficialTitle,
		TitleBrief:    s.ProtocolSection.IdentificationModule.BriefTitle,
		Description:   s.ProtocolSection.DescriptionModule.BriefSummary,
		Conditions:    registries.ToStrings(normalizeConditions(s.ProtocolSection.ConditionsModule.Conditions)),
		Interventions: registries.ToInterventions(interventions),
		Phase:         phase,
		Status:        registries.MapStatus(registries.CTGovStatusMapping, s.ProtocolSection.StatusModule.OverallStatus),
		StudyType:     s.ProtocolSection.DesignModule.StudyType,
		EnrollmentTarget: intPtr(s.ProtocolSection.DesignModule.EnrollmentInfo.Count),
		StartDate:       parseDate(s.ProtocolSection.StatusModule.StartDateStruct.Date),
		CompletionDate:  parseDate(s.ProtocolSection.StatusModule.CompletionDateStruct.Date),
		LastUpdateDate:  parseDate(s.ProtocolSection.StatusModule.LastUpdatePostDateStruct.Date),
		FirstPostedDate: parseDate(s.ProtocolSection.StatusModule.StudyFirstPostDateStruct.Date),
		Eligibility:     registries.ToEligibility(elig),
		Locations:       registries.ToLocations(locations),
		Contacts:        registries.ToContacts(contacts),
		Sponsor: registries.ToSponsor(domain.Sponsor{
			Lead:          s.ProtocolSection.SponsorCollaboratorsModule.LeadSponsor.Name,
			Collaborators: collaborators,
		}),
		Source:   a.Registry(),
		RawData:  raw.Data,
		IsActive: true,
	}
	return trial, nil
}

func normalizeConditions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, normalization.ParseInputString(c))
	}
	return out
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
	layouts := []string{"2006-01-02", "2006-01"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
