package collegematch

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/metrics"
	"crm-lead-workers/internal/matching"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "college:match:"

type ServiceDependencies struct {
	Source matching.CandidateSource
	// Cache is optional.
	Cache  redis.Cmdable
	Logger logger.Logger
}

type Service struct {
	config *Config
	finder *matching.Finder
	cache  redis.Cmdable
	logger logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config: config,
		finder: matching.NewFinder(deps.Source, config.MaxCandidates),
		cache:  deps.Cache,
		logger: deps.Logger,
	}
}

func cacheKey(normalized string) string {
	return cacheKeyPrefix + normalized
}

// Execute looks up the college an organization name resolves to. Only exact
// matches are cached: a college created later can beat a stripped or
// substring match, and a miss, but never an exact one.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	normalized := matching.Normalize(input.Organization)
	if normalized == "" {
		return &Output{Tier: string(matching.TierNone)}, nil
	}

	if out, ok := s.cached(ctx, normalized); ok {
		return out, nil
	}

	college, tier, err := s.finder.FindCollegeByName(ctx, input.Organization)
	if err != nil {
		if _, ok := errors.AsStandardError(err); ok {
			return nil, err
		}
		return nil, errors.NewDatabaseQueryFailedError("find college candidates", err)
	}
	metrics.CollegeMatches.WithLabelValues(string(tier)).Inc()

	if college == nil {
		return &Output{Tier: string(matching.TierNone)}, nil
	}

	out := &Output{
		Matched:     true,
		CollegeID:   college.ID,
		CollegeName: college.Name,
		Tier:        string(tier),
	}
	if tier == matching.TierExact {
		s.store(ctx, normalized, out)
	}
	return out, nil
}

func (s *Service) cached(ctx context.Context, normalized string) (*Output, bool) {
	if s.cache == nil {
		return nil, false
	}

	val, err := s.cache.Get(ctx, cacheKey(normalized)).Result()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			s.logger.Warn("college match cache read failed", map[string]interface{}{
				"key":   cacheKey(normalized),
				"error": err.Error(),
			})
		}
		return nil, false
	}

	var m cachedMatch
	if err := json.Unmarshal([]byte(val), &m); err != nil || m.CollegeID == "" || m.Tier != string(matching.TierExact) {
		s.logger.Warn("discarding unusable college match cache entry", map[string]interface{}{
			"key": cacheKey(normalized),
		})
		return nil, false
	}

	return &Output{
		Matched:     true,
		CollegeID:   m.CollegeID,
		CollegeName: m.CollegeName,
		Tier:        m.Tier,
	}, true
}

func (s *Service) store(ctx context.Context, normalized string, out *Output) {
	if s.cache == nil || s.config.CacheTTL == 0 {
		return
	}

	data, _ := json.Marshal(cachedMatch{
		CollegeID:   out.CollegeID,
		CollegeName: out.CollegeName,
		Tier:        out.Tier,
	})
	if err := s.cache.Set(ctx, cacheKey(normalized), data, s.config.CacheTTL).Err(); err != nil {
		s.logger.Warn("college match cache write failed", map[string]interface{}{
			"key":   cacheKey(normalized),
			"error": err.Error(),
		})
	}
}
