package redirect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"klips/internal/engine/links"
)

// CachedLink is the part of a link the redirect path needs.
type CachedLink struct {
	ID             string `json:"id"`
	TenantID       string `json:"organization_id"`
	ShortCode      string `json:"short_code"`
	DestinationURL string `json:"destination_url"`
	RedirectType   string `json:"redirect_type"`
	Status         string `json:"status"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"`
}

func newCachedLink(link *links.Link) *CachedLink {
	return &CachedLink{
		ID:             link.ID,
		TenantID:       link.TenantID,
		ShortCode:      link.ShortCode,
		DestinationURL: link.DestinationURL,
		RedirectType:   link.RedirectType,
		Status:         link.Status,
		ExpiresAt:      link.ExpiresAt,
	}
}

func (c *CachedLink) link() *links.Link {
	return &links.Link{
		ID:             c.ID,
		TenantID:       c.TenantID,
		ShortCode:      c.ShortCode,
		DestinationURL: c.DestinationURL,
		RedirectType:   c.RedirectType,
		Status:         c.Status,
		ExpiresAt:      c.ExpiresAt,
	}
}

// LinkCache fronts short-code lookups. Implementations must be safe for
// concurrent use.
type LinkCache interface {
	Get(ctx context.Context, shortCode string) (*CachedLink, bool, error)
	Set(ctx context.Context, link *links.Link) error
	Invalidate(ctx context.Context, shortCode string) error
}

// entryTTL caps the configured TTL at the link's expiry. A zero result means
// the link must not be cached.
func entryTTL(link *links.Link, ttl time.Duration, now time.Time) time.Duration {
	if link.ExpiresAt == nil {
		return ttl
	}
	left := time.Unix(*link.ExpiresAt, 0).Sub(now)
	if left <= 0 {
		return 0
	}
	if left < ttl {
		return left
	}
	return ttl
}

type memoryEntry struct {
	link      *CachedLink
	expiresAt time.Time
}

// MemoryCache is the in-process LinkCache.
type MemoryCache struct {
	store      sync.Map // map[short_code]*memoryEntry
	size       atomic.Int64
	ttl        time.Duration
	maxEntries int64
	now        func() time.Time
}

func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: int64(maxEntries),
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, shortCode string) (*CachedLink, bool, error) {
	val, ok := c.store.Load(shortCode)
	if !ok {
		return nil, false, nil
	}

	entry := val.(*memoryEntry)
	if !c.now().Before(entry.expiresAt) {
		c.delete(shortCode)
		return nil, false, nil
	}
	return entry.link, true, nil
}

// Set stores link unless it is already expired or the cache is full.
func (c *MemoryCache) Set(_ context.Context, link *links.Link) error {
	now := c.now()
	ttl := entryTTL(link, c.ttl, now)
	if ttl <= 0 {
		return nil
	}

	entry := &memoryEntry{link: newCachedLink(link), expiresAt: now.Add(ttl)}
	if _, loaded := c.store.Swap(link.ShortCode, entry); !loaded {
		if c.maxEntries > 0 && c.size.Add(1) > c.maxEntries {
			c.delete(link.ShortCode)
		}
	}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, shortCode string) error {
	c.delete(shortCode)
	return nil
}

func (c *MemoryCache) Len() int {
	return int(c.size.Load())
}

func (c *MemoryCache) delete(shortCode string) {
	if _, loaded := c.store.LoadAndDelete(shortCode); loaded {
		c.size.Add(-1)
	}
}
