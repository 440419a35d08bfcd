package models

// SiteStatus is the lifecycle status of a tenant as reported by the site directory.
type SiteStatus string

const (
	SiteTrial     SiteStatus = "trial"
	SiteActive    SiteStatus = "active"
	SiteSuspended SiteStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s SiteStatus) Valid() bool {
	switch s {
	case SiteTrial, SiteActive, SiteSuspended:
		return true
	}
	return false
}

// Site represents a tenant (customer website) using the chat service.
type Site struct {
	ID              string     `json:"site_id"`
	Status          SiteStatus `json:"status"`
	ConnectionLimit int        `json:"connection_limit,omitempty"` // 0 means no site-specific limit
}

// AcceptsConnections reports whether new connections may be admitted at all.
func (s Site) AcceptsConnections() bool {
	return s.Status != SiteSuspended
}
