package matching

import (
	"context"
	"fmt"

	"crm-lead-workers/internal/models"
)

// CandidateSource returns colleges that might match a normalized name,
// ordered as Rank orders them (best tier first, then oldest first). The
// limit applies after that ordering, so a truncated result still holds the
// college Match would pick. Extra non-matching rows are allowed; Match makes
// the final decision.
type CandidateSource interface {
	FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error)
}

// DefaultCandidateLimit bounds one ranked candidate fetch.
const DefaultCandidateLimit = 50

type Finder struct {
	source CandidateSource
	limit  int
}

func NewFinder(source CandidateSource, limit int) *Finder {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	return &Finder{source: source, limit: limit}
}

// FindCollegeByName returns the matching college or nil. A blank name
// performs no lookup.
func (f *Finder) FindCollegeByName(ctx context.Context, name string) (*models.College, Tier, error) {
	normalized := Normalize(name)
	if normalized == "" {
		return nil, TierNone, nil
	}

	candidates, err := f.source.FindCollegeCandidates(ctx, normalized, f.limit)
	if err != nil {
		return nil, TierNone, fmt.Errorf("find college candidates: %w", err)
	}

	college, tier := Match(normalized, candidates)
	return college, tier, nil
}
