package core

import (
	"strings"
	"unicode"
)

// DetectionThreshold is the minimum header match score for auto-detection.
const DetectionThreshold = 0.6

// toSnakeCase converts a header name like "Unit Price" to "unit_price".
func toSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevUnderscore := true
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			prevUnderscore = false
		case !prevUnderscore:
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// quoteIdentifier quotes a PostgreSQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdentifiers quotes each identifier in names.
func QuoteIdentifiers(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdentifier(n)
	}
	return out
}

// QuoteIdentifier is the exported form of quoteIdentifier for storage adapters.
func QuoteIdentifier(name string) string {
	return quoteIdentifier(name)
}

// headerScore returns the fraction of required columns present in idx.
func headerScore(idx HeaderIndex, def DatasetDefinition) float64 {
	required := def.RequiredColumns()
	if len(required) == 0 {
		return 0
	}
	matched := 0
	for _, col := range required {
		if _, ok := idx[strings.ToLower(col)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
