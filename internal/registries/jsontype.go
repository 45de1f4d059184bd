package registries

import (
	"gorm.io/datatypes"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// The adapters all build the same datatypes.JSONType[T] wrappers around
// their normalized structs; these constructors keep that boilerplate
// out of every Normalize implementation.

func ToExternalIDs(v domain.ExternalIDs) datatypes.JSONType[domain.ExternalIDs] {
	return datatypes.NewJSONType(v)
}

func ToStrings(v []string) datatypes.JSONType[[]string] {
	if v == nil {
		v = []string{}
	}
	return datatypes.NewJSONType(v)
}

func ToInterventions(v []domain.Intervention) datatypes.JSONType[[]domain.Intervention] {
	if v == nil {
		v = []domain.Intervention{}
	}
	return datatypes.NewJSONType(v)
}

func ToLocations(v []domain.Location) datatypes.JSONType[[]domain.Location] {
	if v == nil {
		v = []domain.Location{}
	}
	return datatypes.NewJSONType(v)
}

func ToContacts(v []domain.Contact) datatypes.JSONType[[]domain.Contact] {
	if v == nil {
		v = []domain.Contact{}
	}
	return datatypes.NewJSONType(v)
}

func ToOutcomes(v []domain.Outcome) datatypes.JSONType[[]domain.Outcome] {
	if v == nil {
		v = []domain.Outcome{}
	}
	return datatypes.NewJSONType(v)
}

func ToEligibility(v domain.Eligibility) datatypes.JSONType[domain.Eligibility] {
	return datatypes.NewJSONType(v)
}

func ToSponsor(v domain.Sponsor) datatypes.JSONType[domain.Sponsor] {
	return datatypes.NewJSONType(v)
}
