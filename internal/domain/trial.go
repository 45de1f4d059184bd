package domain

import (
	"time"

	"gorm.io/datatypes"
)

// TrialStatus is the canonical recruitment-status enum every registry's
// native vocabulary is mapped onto during normalization.
type TrialStatus string

const (
	StatusRecruiting        TrialStatus = "RECRUITING"
	StatusNotYetRecruiting  TrialStatus = "NOT_YET_RECRUITING"
	StatusActiveNotRecruit  TrialStatus = "ACTIVE_NOT_RECRUITING"
	StatusCompleted         TrialStatus = "COMPLETED"
	StatusSuspended         TrialStatus = "SUSPENDED"
	StatusTerminated        TrialStatus = "TERMINATED"
	StatusWithdrawn         TrialStatus = "WITHDRAWN"
	StatusUnknown           TrialStatus = "UNKNOWN"
)

// Phase is the canonical phase enum. Registry-native phase strings are
// mapped onto this set by internal/registries/phase.go.
type Phase string

const (
	PhaseEarly1  Phase = "EARLY_PHASE_1"
	Phase1       Phase = "PHASE_1"
	Phase2       Phase = "PHASE_2"
	Phase2_3     Phase = "PHASE_2_3"
	Phase3       Phase = "PHASE_3"
	Phase4       Phase = "PHASE_4"
	PhaseNA      Phase = "NA"
)

// Gender is the eligibility gender restriction.
type Gender string

const (
	GenderAll    Gender = "ALL"
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// ExternalIDs maps registry name to native identifier. Keys are the
// registry tags used throughout: nct, eudract, isrctn, ctis, ictrp,
// sponsor_protocol, doi, who_utn.
type ExternalIDs map[string]string

// Intervention is one arm/intervention of a trial.
type Intervention struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Location is one study site.
type Location struct {
	Facility  string   `json:"facility,omitempty"`
	City      string   `json:"city,omitempty"`
	State     string   `json:"state,omitempty"`
	Country   string   `json:"country,omitempty"`
	Status    string   `json:"status,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Contact is a study contact.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Sponsor captures lead and collaborating organizations.
type Sponsor struct {
	Lead          string   `json:"lead,omitempty"`
	Collaborators []string `json:"collaborators,omitempty"`
}

// Eligibility holds both the normalized age gate and the original free
// text, per §3 ("both normalized to a number-of-days integer plus
// original string").
type Eligibility struct {
	InclusionText string `json:"inclusion_text,omitempty"`
	ExclusionText string `json:"exclusion_text,omitempty"`
	Gender        Gender `json:"gender,omitempty"`
	MinAgeDays    *int   `json:"min_age_days,omitempty"`
	MinAgeText    string `json:"min_age_text,omitempty"`
	MaxAgeDays    *int   `json:"max_age_days,omitempty"`
	MaxAgeText    string `json:"max_age_text,omitempty"`
}

// Outcome is one primary or secondary outcome measure.
type Outcome struct {
	Measure     string `json:"measure"`
	TimeFrame   string `json:"time_frame,omitempty"`
	Description string `json:"description,omitempty"`
}

// CanonicalTrial is the normalized record every registry adapter
// produces and the canonical store's unit of upsert. See §3.
type CanonicalTrial struct {
	TrialKey string `gorm:"primaryKey;column:trial_key" json:"trial_key"`

	ExternalIDs datatypes.JSONType[ExternalIDs] `gorm:"column:external_ids" json:"external_ids"`

	TitleOfficial string                            `gorm:"column:title_official" json:"title_official"`
	TitleBrief    string                            `gorm:"column:title_brief" json:"title_brief"`
	TitleLay      string                            `gorm:"column:title_lay" json:"title_lay"`
	Description   string                            `gorm:"column:description" json:"description"`
	Conditions    datatypes.JSONType[[]string]       `gorm:"column:conditions" json:"conditions"`
	Interventions datatypes.JSONType[[]Intervention] `gorm:"column:interventions" json:"interventions"`
	Phase         Phase                              `gorm:"column:phase" json:"phase"`
	Status        TrialStatus                        `gorm:"column:status;index" json:"status"`
	StudyType     string                              `gorm:"column:study_type" json:"study_type"`

	PrimaryOutcomes   datatypes.JSONType[[]Outcome] `gorm:"column:primary_outcomes" json:"primary_outcomes"`
	SecondaryOutcomes datatypes.JSONType[[]Outcome] `gorm:"column:secondary_outcomes" json:"secondary_outcomes"`
	EnrollmentTarget  *int                          `gorm:"column:enrollment_target" json:"enrollment_target,omitempty"`
	EnrollmentActual  *int                          `gorm:"column:enrollment_actual" json:"enrollment_actual,omitempty"`
	StartDate         *time.Time                    `gorm:"column:start_date" json:"start_date,omitempty"`
	CompletionDate    *time.Time                    `gorm:"column:completion_date" json:"completion_date,omitempty"`
	LastUpdateDate    *time.Time                    `gorm:"column:last_update_date" json:"last_update_date,omitempty"`
	FirstPostedDate   *time.Time                    `gorm:"column:first_posted_date" json:"first_posted_date,omitempty"`

	Eligibility datatypes.JSONType[Eligibility] `gorm:"column:eligibility" json:"eligibility"`
	Locations   datatypes.JSONType[[]Location]  `gorm:"column:locations" json:"locations"`
	Contacts    datatypes.JSONType[[]Contact]    `gorm:"column:contacts" json:"contacts"`
	Sponsor     datatypes.JSONType[Sponsor]      `gorm:"column:sponsor" json:"sponsor"`

	Source            string     `gorm:"column:source;index" json:"source"`
	RawData           datatypes.JSON `gorm:"column:raw_data" json:"raw_data,omitempty"`
	DuplicateCheckDate *time.Time `gorm:"column:duplicate_check_date" json:"duplicate_check_date,omitempty"`
	MergedIntoKey      *string    `gorm:"column:merged_into_key;index" json:"merged_into_key,omitempty"`
	IsActive           bool       `gorm:"column:is_active;default:true;index" json:"is_active"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (CanonicalTrial) TableName() string { return "clinical_trials" }

// TrialEmbedding is one vector per active trial, kept in sync with the
// canonical store's derived text via source_text_hash. See §3.
type TrialEmbedding struct {
	TrialKey       string                    `gorm:"primaryKey;column:trial_key" json:"trial_key"`
	Vector         datatypes.JSONType[[]float32] `gorm:"column:vector" json:"vector"`
	SourceTextHash string                    `gorm:"column:source_text_hash" json:"source_text_hash"`
	UpdatedAt      time.Time                 `gorm:"column:updated_at" json:"updated_at"`
}

func (TrialEmbedding) TableName() string { return "trial_embeddings" }
