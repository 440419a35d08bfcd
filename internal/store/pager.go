package store

import (
	"context"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// Pager walks a session's history backwards one page at a time. Each page is
// ordered oldest-first. It is finite and can be restarted with Reset.
type Pager struct {
	store MessageStore
	query HistoryQuery
	start int64
	done  bool
}

// NewPager creates a pager starting at before (zero for the latest messages).
func NewPager(s MessageStore, siteID, sessionID string, pageSize int, before int64) *Pager {
	return &Pager{
		store: s,
		query: HistoryQuery{SiteID: siteID, SessionID: sessionID, Limit: pageSize, Before: before},
		start: before,
	}
}

// Next returns the next older page, or nil once the history is exhausted.
func (p *Pager) Next(ctx context.Context) ([]models.Message, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.store.QueryHistory(ctx, p.query)
	if err != nil {
		return nil, err
	}
	if len(page) < p.query.limit() {
		p.done = true
	}
	if len(page) == 0 {
		return nil, nil
	}
	p.query.Before = page[0].Cursor()
	return page, nil
}

// Cursor returns the before-cursor the next call to Next will use.
func (p *Pager) Cursor() int64 {
	return p.query.Before
}

// Reset rewinds the pager to its starting cursor.
func (p *Pager) Reset() {
	p.query.Before = p.start
	p.done = false
}
