// Package cache provides a redis read-through cache for dashboard score
// reads. Cache trouble degrades to direct computation and never blocks
// writes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/scoring"
)

// ScoreSource computes scores when the cache misses.
type ScoreSource interface {
	Score(ctx context.Context, assetID string) (scoring.ScoreSet, error)
}

// ScoreCache serves dimension scores with a TTL. A nil client disables
// caching entirely.
type ScoreCache struct {
	client *redis.Client
	source ScoreSource
	ttl    time.Duration
	logger *slog.Logger
}

func NewScoreCache(client *redis.Client, source ScoreSource, ttl time.Duration, logger *slog.Logger) *ScoreCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ScoreCache{client: client, source: source, ttl: ttl, logger: logger}
}

func key(assetID string) string { return "opendqm:scores:" + assetID }

// Score returns the cached score set for the asset, computing and storing
// it on a miss. Redis errors fall back to the source.
func (c *ScoreCache) Score(ctx context.Context, assetID string) (scoring.ScoreSet, error) {
	if c.client == nil {
		return c.source.Score(ctx, assetID)
	}

	raw, err := c.client.Get(ctx, key(assetID)).Bytes()
	switch {
	case err == nil:
		var cached scoring.ScoreSet
		if err := json.Unmarshal(raw, &cached); err == nil {
			metrics.ScoreCacheRequestsTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		// Corrupt entry: fall through and recompute.
	case errors.Is(err, redis.Nil):
		metrics.ScoreCacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.ScoreCacheRequestsTotal.WithLabelValues("error").Inc()
		c.warn("score cache read failed", assetID, err)
	}

	scores, err := c.source.Score(ctx, assetID)
	if err != nil {
		return scoring.ScoreSet{}, err
	}
	c.store(ctx, assetID, scores)
	return scores, nil
}

// Invalidate drops cached scores after a scan writes fresh results.
func (c *ScoreCache) Invalidate(ctx context.Context, assetIDs ...string) {
	if c.client == nil || len(assetIDs) == 0 {
		return
	}
	keys := make([]string, len(assetIDs))
	for i, id := range assetIDs {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.warn("score cache invalidation failed", fmt.Sprint(len(keys)), err)
	}
}

func (c *ScoreCache) store(ctx context.Context, assetID string, scores scoring.ScoreSet) {
	raw, err := json.Marshal(scores)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(assetID), raw, c.ttl).Err(); err != nil {
		c.warn("score cache write failed", assetID, err)
	}
}

func (c *ScoreCache) warn(msg, assetID string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, "asset_id", assetID, "error", err)
	}
}
