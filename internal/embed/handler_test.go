package embed

import (
	"testing"

	"gorm.io/datatypes"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

func TestSourceTextJoinsTitleDescriptionConditions(t *testing.T) {
	trial := domain.CanonicalTrial{
		TitleOfficial: "A Study of Drug X",
		Description:   "Evaluates safety and efficacy.",
		Conditions:    datatypes.NewJSONType([]string{"diabetes", "obesity"}),
	}
	got := sourceText(trial)
	want := "A Study of Drug X Evaluates safety and efficacy. diabetes obesity"
	if got != want {
		t.Fatalf("sourceText = %q, want %q", got, want)
	}
}

func TestSourceTextHashChangesWithContent(t *testing.T) {
	a := domain.CanonicalTrial{TitleOfficial: "Study A"}
	b := domain.CanonicalTrial{TitleOfficial: "Study B"}
	if sourceTextHash(a) == sourceTextHash(b) {
		t.Fatalf("expected different source text to hash differently")
	}
}

func TestSourceTextHashStableForIdenticalContent(t *testing.T) {
	a := domain.CanonicalTrial{TitleOfficial: "Study A", Description: "desc"}
	b := domain.CanonicalTrial{TitleOfficial: "Study A", Description: "desc"}
	if sourceTextHash(a) != sourceTextHash(b) {
		t.Fatalf("expected identical source text to hash identically")
	}
}
