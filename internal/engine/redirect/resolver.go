package redirect

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"klips/internal/engine/links"
	"klips/internal/platform/metrics"
)

var (
	ErrNotFound = errors.New("short code not found")
	// ErrGone is returned for links that exist but are paused, archived or expired.
	ErrGone = errors.New("link is no longer active")
)

// LinkSource loads links that miss the cache.
type LinkSource interface {
	GetByShortCode(ctx context.Context, shortCode string) (*links.Link, error)
}

// Resolver maps a short code to its destination: cache first, then the
// database.
type Resolver struct {
	source LinkSource
	cache  LinkCache
	logger zerolog.Logger
	now    func() time.Time
}

func NewResolver(source LinkSource, cache LinkCache, logger zerolog.Logger) *Resolver {
	return &Resolver{source: source, cache: cache, logger: logger, now: time.Now}
}

func (r *Resolver) Resolve(ctx context.Context, shortCode string) (*CachedLink, error) {
	cached, ok, err := r.cache.Get(ctx, shortCode)
	if err != nil {
		r.logger.Warn().Err(err).Str("short_code", shortCode).Msg("link cache read failed")
	}

	var link *links.Link
	if ok {
		metrics.RedirectCache.WithLabelValues("hit").Inc()
		link = cached.link()
	} else {
		metrics.RedirectCache.WithLabelValues("miss").Inc()
		link, err = r.source.GetByShortCode(ctx, shortCode)
		if errors.Is(err, links.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(ctx, link); err != nil {
			r.logger.Warn().Err(err).Str("short_code", shortCode).Msg("link cache write failed")
		}
	}

	if !link.Resolvable(r.now().Unix()) {
		return nil, ErrGone
	}
	return newCachedLink(link), nil
}
