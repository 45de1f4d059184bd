package matcher

import (
	"strings"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// locationScore implements §4.9 step 6: 0.5 country + 0.3 state + 0.2
// city, capped at 1.0, scored against the nearest-matching location on
// the trial; 0.5 when the patient gave no location at all.
func locationScore(p Patient, locs []domain.Location) float64 {
	if !p.hasLocation() {
		return 0.5
	}
	if len(locs) == 0 {
		return 0
	}
	best := 0.0
	for _, loc := range locs {
		score := 0.0
		if equalFold(p.Country, loc.Country) {
			score += 0.5
		}
		if equalFold(p.State, loc.State) {
			score += 0.3
		}
		if equalFold(p.City, loc.City) {
			score += 0.2
		}
		if score > best {
			best = score
		}
	}
	if best > 1.0 {
		best = 1.0
	}
	return best
}

func equalFold(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
