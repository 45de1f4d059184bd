package registries

import (
	"regexp"
	"strings"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

var phaseRomanReplacer = strings.NewReplacer(
	" iv", " 4",
	" iii", " 3",
	" ii", " 2",
	" i", " 1",
)

var phaseDigitsRe = regexp.MustCompile(`(\d)\s*/\s*(\d)`)

// NormalizePhase maps a registry's native phase string onto the
// canonical set per §4.5: "Phase I", "phase 1", "PHASE1", and roman
// numerals all collapse to the same bucket. Unrecognized input maps to
// NA rather than UNKNOWN, since NA is the defined "not applicable"
// bucket for phase (observational studies, device trials, etc).
func NormalizePhase(raw string) domain.Phase {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "n/a" || s == "na" || strings.Contains(s, "not applicable") {
		return domain.PhaseNA
	}
	s = strings.ReplaceAll(s, "phase", "")
	s = phaseRomanReplacer.Replace(" " + s)
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")

	if m := phaseDigitsRe.FindStringSubmatch(raw); m != nil {
		combo := m[1] + m[2]
		if combo == "23" {
			return domain.Phase2_3
		}
	}

	switch {
	case strings.Contains(s, "early1"), strings.Contains(s, "early-phase1"):
		return domain.PhaseEarly1
	case s == "1", s == "01":
		return domain.Phase1
	case s == "2", s == "02":
		return domain.Phase2
	case s == "23", s == "2/3", s == "2to3":
		return domain.Phase2_3
	case s == "3", s == "03":
		return domain.Phase3
	case s == "4", s == "04":
		return domain.Phase4
	default:
		return domain.PhaseNA
	}
}
