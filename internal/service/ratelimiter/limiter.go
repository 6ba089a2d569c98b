// Package ratelimiter enforces per-model quota windows on top of the durable
// counter store. The store is the source of truth; the optional Redis cache
// only short-circuits windows already known to be exhausted.
package ratelimiter

import (
	"context"
	"time"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// Limiter wraps the durable counter store with an optional denial cache.
type Limiter struct {
	Counters domain.CounterStore
	Cache    *DenialCache
	Now      func() time.Time
}

// New constructs a Limiter; cache may be nil.
func New(counters domain.CounterStore, cache *DenialCache) *Limiter {
	return &Limiter{Counters: counters, Cache: cache, Now: time.Now}
}

// TryConsume checks and increments the model's counter for the period window
// containing now. The check-and-increment is atomic in the store; a refusal
// leaves no state change.
func (l *Limiter) TryConsume(ctx context.Context, modelID string, period domain.RatePeriod) (domain.ConsumeResult, error) {
	now := l.Now()
	if l.Cache != nil {
		if denied, used, limit := l.Cache.Denied(ctx, modelID, period, now); denied {
			return domain.ConsumeResult{Allowed: false, Used: used, Limit: limit}, nil
		}
	}
	res, err := l.Counters.TryConsume(ctx, modelID, period, now)
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	if !res.Allowed && l.Cache != nil {
		l.Cache.MarkDenied(ctx, modelID, period, now, res.Used, res.Limit)
	}
	return res, nil
}
