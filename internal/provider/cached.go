package provider

import (
	"context"
	"time"

	"github.com/openmusicplayer/mediafetch/internal/cache"
)

// MetadataCache is the subset of cache.Cache the decorator needs
type MetadataCache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

var _ MetadataCache = (*cache.Cache)(nil)

// Cached memoizes item and playlist resolution. Downloads pass through.
type Cached struct {
	Provider
	cache MetadataCache
	ttl   time.Duration
}

// WithCache wraps p so resolutions are served from c for ttl
func WithCache(p Provider, c MetadataCache, ttl time.Duration) *Cached {
	return &Cached{Provider: p, cache: c, ttl: ttl}
}

func (c *Cached) ResolveItem(ctx context.Context, url string) (*MediaItem, error) {
	key := "item:" + url
	var item MediaItem
	if c.cache.GetJSON(ctx, key, &item) {
		return &item, nil
	}

	resolved, err := c.Provider.ResolveItem(ctx, url)
	if err != nil {
		return nil, err
	}
	// Best effort, the cache logs its own failures
	_ = c.cache.SetJSON(ctx, key, resolved, c.ttl)
	return resolved, nil
}

func (c *Cached) ResolvePlaylist(ctx context.Context, url string) (*PlaylistInfo, error) {
	key := "playlist:" + url
	var info PlaylistInfo
	if c.cache.GetJSON(ctx, key, &info) {
		return &info, nil
	}

	resolved, err := c.Provider.ResolvePlaylist(ctx, url)
	if err != nil {
		return nil, err
	}
	_ = c.cache.SetJSON(ctx, key, resolved, c.ttl)
	return resolved, nil
}
