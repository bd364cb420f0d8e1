// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// post.go caches serialized post detail responses in Valkey. Entries are
// dropped through InvalidatePost whenever a post is mutated.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// postKeyPrefix is the Valkey key prefix for cached post details.
	postKeyPrefix = "post.detail."

	// DefaultPostTTL is how long a post detail stays cached.
	DefaultPostTTL = 5 * time.Minute
)

// PostCache manages post detail caching in Valkey.
type PostCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPostCache creates a new post cache backed by the given Valkey client.
func NewPostCache(client *redis.Client, ttl time.Duration) *PostCache {
	if ttl == 0 {
		ttl = DefaultPostTTL
	}
	return &PostCache{client: client, ttl: ttl}
}

// PostKey returns the cache key for a post slug.
func PostKey(slug string) string {
	return postKeyPrefix + slug
}

// Get retrieves the cached detail for a post slug.
func (pc *PostCache) Get(ctx context.Context, slug string) ([]byte, bool) {
	val, err := pc.client.Get(ctx, PostKey(slug)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Warn("post cache get error", "slug", slug, "error", err)
		return nil, false
	}
	slog.Debug("post cache hit", "slug", slug)
	return val, true
}

// Set stores a post detail with the configured TTL.
func (pc *PostCache) Set(ctx context.Context, slug string, data []byte) {
	if err := pc.client.Set(ctx, PostKey(slug), data, pc.ttl).Err(); err != nil {
		slog.Warn("post cache set error", "slug", slug, "error", err)
	}
}

// InvalidatePost removes the cached details for the given slugs. Pass the
// old and new slug when a post is renamed.
func (pc *PostCache) InvalidatePost(ctx context.Context, slugs ...string) {
	if len(slugs) == 0 {
		return
	}
	keys := make([]string, len(slugs))
	for i, s := range slugs {
		keys[i] = PostKey(s)
	}
	if err := pc.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("post cache invalidate error", "slugs", slugs, "error", err)
		return
	}
	slog.Debug("post cache invalidated", "slugs", slugs)
}
