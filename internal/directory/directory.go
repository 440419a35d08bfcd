// Package directory answers whether a site exists and may accept connections.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

var (
	ErrSiteNotFound = errors.New("site not found")
	ErrInvalidEntry = errors.New("invalid site entry")
)

// Directory is the site directory contract: one lookup per admission attempt.
type Directory interface {
	GetSiteStatus(ctx context.Context, siteID string) (models.Site, error)
}

// SQL reads sites from the sites table of a SQL-backed store.
type SQL struct {
	sites store.SiteStore
}

// NewSQL creates a directory over a SQL site table.
func NewSQL(sites store.SiteStore) *SQL {
	return &SQL{sites: sites}
}

// GetSiteStatus looks up siteID.
func (d *SQL) GetSiteStatus(ctx context.Context, siteID string) (models.Site, error) {
	site, err := d.sites.GetSite(ctx, siteID)
	if err != nil {
		return models.Site{}, err
	}
	if site == nil {
		return models.Site{}, ErrSiteNotFound
	}
	return *site, nil
}

// Static is a fixed directory built from configuration. With open set, unknown
// sites are reported as trial sites without a limit.
type Static struct {
	sites map[string]models.Site
	open  bool
}

// ParseStatic builds a Static directory from "id:status[:limit]" entries.
func ParseStatic(entries []string, open bool) (*Static, error) {
	d := &Static{sites: make(map[string]models.Site), open: open}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEntry, entry)
		}
		site := models.Site{ID: parts[0], Status: models.SiteStatus(parts[1])}
		if !site.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status in %q", ErrInvalidEntry, entry)
		}
		if len(parts) == 3 {
			limit, err := strconv.Atoi(parts[2])
			if err != nil || limit < 0 {
				return nil, fmt.Errorf("%w: bad limit in %q", ErrInvalidEntry, entry)
			}
			site.ConnectionLimit = limit
		}
		d.sites[site.ID] = site
	}
	return d, nil
}

// GetSiteStatus looks up siteID.
func (d *Static) GetSiteStatus(ctx context.Context, siteID string) (models.Site, error) {
	if site, ok := d.sites[siteID]; ok {
		return site, nil
	}
	if d.open && siteID != "" {
		return models.Site{ID: siteID, Status: models.SiteTrial}, nil
	}
	return models.Site{}, ErrSiteNotFound
}

// Open reports whether unknown sites are admitted.
func (d *Static) Open() bool { return d.open }

// Seed upserts every configured site into a SQL site table. Sites already in the
// table but absent from the static list are left alone.
func Seed(ctx context.Context, sites store.SiteStore, static *Static) (int, error) {
	n := 0
	for _, site := range static.sites {
		if err := sites.UpsertSite(ctx, site); err != nil {
			return n, fmt.Errorf("seed site %s: %w", site.ID, err)
		}
		n++
	}
	return n, nil
}
