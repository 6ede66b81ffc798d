// Package automation resolves registered automations for lead events and
// delivers them.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "automation:registry:"

// Source lists active automations from the record store.
type Source interface {
	ListActiveAutomations(ctx context.Context, trigger models.TriggerType) ([]models.Automation, error)
}

// Registry caches the active automation list per trigger type in Redis.
// A nil cache or any cache error falls through to the store.
type Registry struct {
	source Source
	cache  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewRegistry(source Source, cache redis.Cmdable, ttl time.Duration, log logger.Logger) *Registry {
	return &Registry{source: source, cache: cache, ttl: ttl, logger: log}
}

func cacheKey(trigger models.TriggerType) string {
	return cacheKeyPrefix + string(trigger)
}

// Active returns the active automations for trigger.
func (r *Registry) Active(ctx context.Context, trigger models.TriggerType) ([]models.Automation, error) {
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, cacheKey(trigger)).Bytes()
		switch {
		case err == nil:
			var cached []models.Automation
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return cached, nil
			}
			r.logger.Warn("discarding unreadable registry cache entry", map[string]interface{}{"trigger": trigger})
		case !errors.Is(err, redis.Nil):
			r.logger.Warn("registry cache read failed", map[string]interface{}{"trigger": trigger, "error": err})
		}
	}

	list, err := r.source.ListActiveAutomations(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("list automations for %s: %w", trigger, err)
	}

	if r.cache != nil {
		if raw, err := json.Marshal(list); err == nil {
			if err := r.cache.Set(ctx, cacheKey(trigger), raw, r.ttl).Err(); err != nil {
				r.logger.Warn("registry cache write failed", map[string]interface{}{"trigger": trigger, "error": err})
			}
		}
	}
	return list, nil
}

// Invalidate drops cached lists so the next lookup reads the store.
func (r *Registry) Invalidate(ctx context.Context, triggers ...models.TriggerType) error {
	if r.cache == nil || len(triggers) == 0 {
		return nil
	}
	keys := make([]string, len(triggers))
	for i, t := range triggers {
		keys[i] = cacheKey(t)
	}
	return r.cache.Del(ctx, keys...).Err()
}
