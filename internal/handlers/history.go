package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arinzecomie/livechat-relay/internal/models"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

// HistoryResponse is one page of a session's history, oldest first.
type HistoryResponse struct {
	SiteID    string           `json:"site_id"`
	SessionID string           `json:"session_id"`
	Messages  []models.Message `json:"messages"`
	HasMore   bool             `json:"has_more"`
}

// GetSessionMessages pages backwards through a session's history. The session does
// not need to be live; closed sessions stay addressable by ID.
func (h *Handler) GetSessionMessages(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	sessionID := chi.URLParam(r, "sessionID")

	// Parse query params
	limit := h.pageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}
	if limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}

	var before int64
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		b, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil || b < 0 {
			h.Error(w, http.StatusBadRequest, "before must be a unix microsecond timestamp")
			return
		}
		before = b
	}

	// One extra row tells us whether an older page exists.
	pager := store.NewPager(h.store, siteID, sessionID, limit+1, before)
	messages, err := pager.Next(r.Context())
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to fetch messages")
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[1:]
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, HistoryResponse{
		SiteID:    siteID,
		SessionID: sessionID,
		Messages:  messages,
		HasMore:   hasMore,
	})
}
