package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelops/agentplane/internal/session"
)

// SessionReader answers recent-conversations and single-session queries.
// Implemented by session.Store.
type SessionReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]*session.Session, error)
	Get(ctx context.Context, sessionID, userID string) (*session.Session, error)
}

type sessionSummary struct {
	SessionID    string    `json:"sessionId"`
	LastMessage  string    `json:"lastMessage"`
	LastResponse string    `json:"lastResponse"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type sessionsResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}

type sessionHandler struct {
	sessions SessionReader
	logger   *slog.Logger
}

// list handles GET /api/v1/sessions: the caller's recent conversations,
// newest first. An optional limit query parameter caps the result.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	rid := requestIDFromContext(r.Context())

	id := identityFromContext(r.Context())
	if id.Subject == "" {
		writeError(w, http.StatusForbidden, "forbidden", "missing caller identity", rid)
		return
	}

	limit := session.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer", rid)
			return
		}
		limit = n
	}

	recent, err := h.sessions.Recent(r.Context(), id.Subject, limit)
	if err != nil {
		h.logger.Error("listing sessions failed", "error", err, "request_id", rid)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", rid)
		return
	}

	out := sessionsResponse{Sessions: make([]sessionSummary, 0, len(recent))}
	for _, s := range recent {
		out.Sessions = append(out.Sessions, sessionSummary{
			SessionID:    s.ID,
			LastMessage:  s.LastMessage,
			LastResponse: s.LastResponse,
			UpdatedAt:    s.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// get handles GET /api/v1/sessions/{id}. The store scopes the lookup to
// the caller, so a session owned by someone else is a plain 404.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	rid := requestIDFromContext(r.Context())

	id := identityFromContext(r.Context())
	if id.Subject == "" {
		writeError(w, http.StatusForbidden, "forbidden", "missing caller identity", rid)
		return
	}

	sess, err := h.sessions.Get(r.Context(), r.PathValue("id"), id.Subject)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found", rid)
		return
	}
	if err != nil {
		h.logger.Error("fetching session failed", "error", err, "request_id", rid)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", rid)
		return
	}

	writeJSON(w, http.StatusOK, sessionSummary{
		SessionID:    sess.ID,
		LastMessage:  sess.LastMessage,
		LastResponse: sess.LastResponse,
		UpdatedAt:    sess.UpdatedAt,
	})
}
