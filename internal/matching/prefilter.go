package matching

import (
	"sort"
	"strings"
	"unicode/utf8"

	"crm-lead-workers/internal/models"
)

// TierOf reports the tier at which a candidate name matches the query, or
// TierNone.
func TierOf(query, candidateName string) Tier {
	q := Normalize(query)
	c := Normalize(candidateName)
	if q == "" || c == "" {
		return TierNone
	}
	if q == c {
		return TierExact
	}

	sq, sc := StripSuffix(q), StripSuffix(c)
	if sq == sc {
		return TierStripped
	}
	if len(sq) <= minSubstringLen || len(sc) <= minSubstringLen {
		return TierNone
	}
	if strings.Contains(sc, sq) || strings.Contains(sq, sc) {
		return TierSubstring
	}
	return TierNone
}

func tierRank(t Tier) int {
	switch t {
	case TierExact:
		return 0
	case TierStripped:
		return 1
	case TierSubstring:
		return 2
	}
	return 3
}

// Rank keeps the candidates that match query at some tier, best tier first
// and input order within a tier. Truncating the result never drops a
// candidate that Match would prefer over one that is kept, so candidate
// sources rank before they apply a limit.
func Rank(query string, candidates []models.College) []models.College {
	type ranked struct {
		c    models.College
		rank int
	}

	kept := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		if t := TierOf(query, c.Name); t != TierNone {
			kept = append(kept, ranked{c: c, rank: tierRank(t)})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].rank < kept[j].rank })

	out := make([]models.College, len(kept))
	for i, k := range kept {
		out[i] = k.c
	}
	return out
}

// Substrings returns every distinct substring of s longer than the
// substring-tier minimum, cut on rune boundaries. A candidate whose stripped
// name is one of them is a substring match for s.
func Substrings(s string) []string {
	if len(s) <= minSubstringLen {
		return nil
	}

	var starts []int
	for i := range s {
		starts = append(starts, i)
	}
	starts = append(starts, len(s))

	seen := make(map[string]bool)
	var out []string
	for i := 0; i < len(starts)-1; i++ {
		for j := i + 1; j < len(starts); j++ {
			sub := s[starts[i]:starts[j]]
			if len(sub) <= minSubstringLen || seen[sub] || !utf8.ValidString(sub) {
				continue
			}
			seen[sub] = true
			out = append(out, sub)
		}
	}
	return out
}
