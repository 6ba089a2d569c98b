package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// DenialCache remembers exhausted (model, window) pairs in Redis so repeated
// router passes in the same window skip the store transaction. Entries expire
// at the window boundary; a Redis outage degrades to the store path.
type DenialCache struct {
	rdb *redis.Client
}

// NewDenialCache wraps a Redis client; returns nil for a nil client so a
// missing REDIS_URL simply disables the cache.
func NewDenialCache(rdb *redis.Client) *DenialCache {
	if rdb == nil {
		return nil
	}
	return &DenialCache{rdb: rdb}
}

func (c *DenialCache) key(modelID string, period domain.RatePeriod, now time.Time) string {
	win := period.WindowStart(now).Unix()
	return fmt.Sprintf("rl:deny:%s:%s:%d", modelID, period, win)
}

// Denied reports whether the window is cached as exhausted, along with the
// used/limit recorded at denial time.
func (c *DenialCache) Denied(ctx context.Context, modelID string, period domain.RatePeriod, now time.Time) (bool, int, int) {
	if c == nil {
		return false, 0, 0
	}
	v, err := c.rdb.Get(ctx, c.key(modelID, period, now)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("rate denial cache read failed", slog.Any("error", err))
		}
		return false, 0, 0
	}
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return true, 0, 0
	}
	used, _ := strconv.Atoi(parts[0])
	limit, _ := strconv.Atoi(parts[1])
	return true, used, limit
}

// MarkDenied caches the exhausted window until the window rolls over.
func (c *DenialCache) MarkDenied(ctx context.Context, modelID string, period domain.RatePeriod, now time.Time, used, limit int) {
	if c == nil {
		return
	}
	windowEnd := period.WindowStart(now).Add(time.Duration(period.Seconds()) * time.Second)
	ttl := windowEnd.Sub(now.UTC())
	if ttl <= 0 {
		return
	}
	val := fmt.Sprintf("%d/%d", used, limit)
	if err := c.rdb.Set(ctx, c.key(modelID, period, now), val, ttl).Err(); err != nil {
		slog.Debug("rate denial cache write failed", slog.Any("error", err))
	}
}
