package registries

import (
	"regexp"
	"strconv"
	"strings"
)

const daysPerYear = 365

// ageGroupDays is the fixed table from §4.5 for EU CTR/CTIS age-group
// flags, which report eligibility as a category rather than a number.
var ageGroupDays = map[string]int{
	"newborn":     0,
	"infant":      28,
	"infants":     28,
	"child":       2 * daysPerYear,
	"children":    2 * daysPerYear,
	"adolescent":  12 * daysPerYear,
	"adolescents": 12 * daysPerYear,
	"adult":       18 * daysPerYear,
	"adults":      18 * daysPerYear,
	"elderly":     65 * daysPerYear,
}

var ageTextRe = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*(year|yr|month|week|day)s?\s*$`)

// AgeGroupToDays maps an EU CTR/CTIS age-group flag to a day count via
// the fixed table in §4.5. Returns (0, false) if the flag is not
// recognized.
func AgeGroupToDays(group string) (int, bool) {
	days, ok := ageGroupDays[strings.ToLower(strings.TrimSpace(group))]
	return days, ok
}

// ParseAgeText converts a free-text age string ("18 Years", "6 Months")
// into a day count, keeping the original text alongside per §3's
// eligibility invariant ("both normalized to a number-of-days integer
// plus original string").
func ParseAgeText(text string) (days int, ok bool) {
	m := ageTextRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "year", "yr":
		return int(val * daysPerYear), true
	case "month":
		return int(val * 30), true
	case "week":
		return int(val * 7), true
	case "day":
		return int(val), true
	default:
		return 0, false
	}
}
