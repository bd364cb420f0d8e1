package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	trendingKeyPrefix = "post.trending."

	// TrendingWindow is how far back views count towards trending.
	TrendingWindow = time.Hour
	// TrendingThreshold is the number of views in the window a post must exceed.
	TrendingThreshold = 5
	trendingTTL       = 10 * time.Minute
)

// ViewTracker records post views in a Valkey sorted set scored by view time.
type ViewTracker struct {
	client *redis.Client
	now    func() time.Time
}

// NewViewTracker creates a ViewTracker.
func NewViewTracker(client *redis.Client) *ViewTracker {
	return &ViewTracker{client: client, now: time.Now}
}

// TrendingKey returns the sorted set key for a post slug.
func TrendingKey(slug string) string {
	return trendingKeyPrefix + slug
}

// CheckTrending records a view of the post and reports whether it already
// had more than TrendingThreshold views within TrendingWindow.
func (vt *ViewTracker) CheckTrending(ctx context.Context, slug string) (bool, error) {
	key := TrendingKey(slug)
	now := vt.now()
	cutoff := now.Add(-TrendingWindow)

	pipe := vt.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, trendingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("check trending %s: %w", slug, err)
	}
	return count.Val() > TrendingThreshold, nil
}
