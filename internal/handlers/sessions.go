package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// SessionListResponse represents the site roster response.
type SessionListResponse struct {
	Sessions    []models.Session `json:"sessions"`
	Total       int              `json:"total"`
	Connections int              `json:"connections"`
}

// ListSessions returns the open and active sessions of a site.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	sessions := h.registry.Roster(siteID)

	h.JSON(w, http.StatusOK, SessionListResponse{
		Sessions:    sessions,
		Total:       len(sessions),
		Connections: h.state.ConnectionCount(siteID),
	})
}

// ParticipantsResponse represents one session's presence.
type ParticipantsResponse struct {
	Session      models.Session       `json:"session"`
	Participants []models.Participant `json:"participants"`
}

// ListParticipants returns who is connected to a live session.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	sessionID := chi.URLParam(r, "sessionID")

	s, ok := h.registry.Lookup(siteID, sessionID)
	if !ok {
		h.Error(w, http.StatusNotFound, "session not live")
		return
	}

	h.JSON(w, http.StatusOK, ParticipantsResponse{
		Session:      s.Snapshot(),
		Participants: h.registry.ListParticipants(s),
	})
}
