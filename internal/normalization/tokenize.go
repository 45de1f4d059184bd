package normalization

import "strings"

// SplitSemicolonComma tokenizes a field the source registry may emit
// as a single delimited string into an array-of-strings, per §9's
// resolved tokenization rule for ISRCTN: split on ";" first, then on
// "," within each piece, trimming and dropping empties.
func SplitSemicolonComma(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ";") {
		for _, sub := range strings.Split(part, ",") {
			sub = strings.TrimSpace(sub)
			if sub != "" {
				out = append(out, sub)
			}
		}
	}
	return out
}

// SplitSemicolon tokenizes a field on ";" only, preserving embedded
// commas. Used for EU CTR/WHO ICTRP bulk XML fields (e.g. drug names)
// where a comma is frequently part of the value itself, per §9.
func SplitSemicolon(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
