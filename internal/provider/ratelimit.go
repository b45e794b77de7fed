package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles every call into the wrapped provider
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p with a token bucket of perSecond requests.
// A non-positive rate returns p unchanged.
func WithRateLimit(p Provider, perSecond float64) Provider {
	if perSecond <= 0 {
		return p
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: p, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) ResolveItem(ctx context.Context, url string) (*MediaItem, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.ResolveItem(ctx, url)
}

func (r *RateLimited) ResolvePlaylist(ctx context.Context, url string) (*PlaylistInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.ResolvePlaylist(ctx, url)
}

func (r *RateLimited) ListCaptionTracks(ctx context.Context, item *MediaItem) ([]CaptionTrack, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.ListCaptionTracks(ctx, item)
}

func (r *RateLimited) FetchVariant(ctx context.Context, item *MediaItem, variant StreamVariant, destPath string, progress ProgressFunc) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.FetchVariant(ctx, item, variant, destPath, progress)
}

func (r *RateLimited) FetchCaption(ctx context.Context, track CaptionTrack) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchCaption(ctx, track)
}
