// Package matching deduplicates organization names against existing colleges.
//
// Names are compared in three tiers, and the first candidate in result order
// that satisfies the earliest tier wins:
//
//	exact      normalized names are equal
//	stripped   names are equal after removing one institutional suffix
//	substring  one stripped name contains the other, both longer than 3 chars
//
// There is no scoring.
package matching

import (
	"strings"

	"crm-lead-workers/internal/models"
)

type Tier string

const (
	TierNone      Tier = "none"
	TierExact     Tier = "exact"
	TierStripped  Tier = "stripped"
	TierSubstring Tier = "substring"
)

// minSubstringLen is exclusive: both stripped names must be longer.
const minSubstringLen = 3

var institutionalSuffixes = map[string]bool{
	"inc":         true,
	"corp":        true,
	"corporation": true,
	"ltd":         true,
	"limited":     true,
	"llc":         true,
	"university":  true,
	"college":     true,
	"institute":   true,
	"institution": true,
	"school":      true,
	"academy":     true,
	"center":      true,
	"centre":      true,
}

// Normalize trims, collapses internal whitespace and lower-cases.
func Normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// StripSuffix normalizes name and removes one trailing institutional suffix.
// "Acme, Inc." and "Acme University" both become "acme". A name that is only
// a suffix word is returned unchanged.
func StripSuffix(name string) string {
	n := Normalize(name)
	trimmed := strings.TrimSuffix(n, ".")

	idx := strings.LastIndexByte(trimmed, ' ')
	if idx < 0 {
		return n
	}
	if !institutionalSuffixes[trimmed[idx+1:]] {
		return n
	}

	base := strings.TrimRight(trimmed[:idx], " ,")
	if base == "" {
		return n
	}
	return base
}

// Match returns the first candidate matching name, and the tier it matched
// at. A blank name matches nothing.
func Match(name string, candidates []models.College) (*models.College, Tier) {
	query := Normalize(name)
	if query == "" || len(candidates) == 0 {
		return nil, TierNone
	}

	for i := range candidates {
		if Normalize(candidates[i].Name) == query {
			return pick(candidates, i), TierExact
		}
	}

	strippedQuery := StripSuffix(query)
	stripped := make([]string, len(candidates))
	for i := range candidates {
		stripped[i] = StripSuffix(candidates[i].Name)
		if stripped[i] == strippedQuery {
			return pick(candidates, i), TierStripped
		}
	}

	if len(strippedQuery) <= minSubstringLen {
		return nil, TierNone
	}
	for i, s := range stripped {
		if len(s) <= minSubstringLen {
			continue
		}
		if strings.Contains(s, strippedQuery) || strings.Contains(strippedQuery, s) {
			return pick(candidates, i), TierSubstring
		}
	}

	return nil, TierNone
}

func pick(candidates []models.College, i int) *models.College {
	c := candidates[i]
	return &c
}
