package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

type cachedSite struct {
	site    models.Site
	fetched time.Time
}

// Cached consults the backend on every lookup. A previous answer no older than
// the TTL is served only when the backend itself fails.
type Cached struct {
	backend Directory
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[string]cachedSite
}

// NewCached wraps backend with a failure cache.
func NewCached(backend Directory, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "directory").Logger(),
		entries: make(map[string]cachedSite),
	}
}

// GetSiteStatus re-checks the backend and remembers the answer.
func (c *Cached) GetSiteStatus(ctx context.Context, siteID string) (models.Site, error) {
	site, err := c.backend.GetSiteStatus(ctx, siteID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.entries[siteID] = cachedSite{site: site, fetched: now}
		return site, nil
	}
	if errors.Is(err, ErrSiteNotFound) {
		delete(c.entries, siteID)
		return models.Site{}, err
	}

	if entry, ok := c.entries[siteID]; ok && now.Sub(entry.fetched) <= c.ttl {
		c.logger.Warn().
			Err(err).
			Str("site_id", siteID).
			Dur("age", now.Sub(entry.fetched)).
			Msg("site directory unavailable, using cached status")
		return entry.site, nil
	}
	delete(c.entries, siteID)
	return models.Site{}, err
}
