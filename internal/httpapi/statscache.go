package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ecotrack.org/internal/obs"
	"ecotrack.org/internal/waste"
)

// StatsCache memoizes period statistics in Redis. Aggregation walks every
// terminal record, so dashboards polling the same period share one result.
type StatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatsCache wraps an existing Redis client.
func NewStatsCache(rdb *redis.Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StatsCache{rdb: rdb, ttl: ttl}
}

func statsKey(start, end time.Time) string {
	return fmt.Sprintf("ecotrack:stats:%d:%d", start.Unix(), end.Unix())
}

// Get returns the cached statistics for the period, if present.
func (c *StatsCache) Get(ctx context.Context, start, end time.Time) (waste.Statistics, bool) {
	if c == nil || c.rdb == nil {
		return waste.Statistics{}, false
	}
	raw, err := c.rdb.Get(ctx, statsKey(start, end)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			obs.Warn("stats cache read failed", map[string]any{"error": err.Error()})
		}
		return waste.Statistics{}, false
	}
	var stats waste.Statistics
	if err := json.Unmarshal(raw, &stats); err != nil {
		return waste.Statistics{}, false
	}
	return stats, true
}

// Put stores the statistics for the period. Failures are logged and dropped.
func (c *StatsCache) Put(ctx context.Context, stats waste.Statistics) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	key := statsKey(stats.PeriodStart, stats.PeriodEnd)
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		obs.Warn("stats cache write failed", map[string]any{"error": err.Error()})
	}
}
