package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kestrelops/agentplane/internal/gateway"
)

// ChatService runs one chat turn. Implemented by gateway.Gateway.
type ChatService interface {
	Send(ctx context.Context, id gateway.Identity, req gateway.ChatRequest) (*gateway.ChatResult, error)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type chatHandler struct {
	chat   ChatService
	logger *slog.Logger
}

// send handles POST /api/v1/chat. Validation and authorization failures
// map to 400/403 with safe messages; everything else is an opaque 500
// carrying only the correlation id.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	rid := requestIDFromContext(r.Context())

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", rid)
		return
	}

	res, err := h.chat.Send(r.Context(), identityFromContext(r.Context()), gateway.ChatRequest{
		Message:   req.Message,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.writeSendError(w, r, err, rid)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  res.ResponseText,
		SessionID: res.SessionID,
	})
}

func (h *chatHandler) writeSendError(w http.ResponseWriter, r *http.Request, err error, rid string) {
	var verr *gateway.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, "invalid_request", verr.Reason, rid)
		return
	}

	var aerr *gateway.AuthorizationError
	if errors.As(err, &aerr) {
		writeError(w, http.StatusForbidden, "forbidden", aerr.Reason, rid)
		return
	}

	// Internal detail stays in the log, keyed by the correlation id.
	h.logger.Error("chat turn failed",
		"error", err,
		"path", r.URL.Path,
		"request_id", rid,
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", rid)
}
