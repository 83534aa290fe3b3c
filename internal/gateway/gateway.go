// Package gateway authorizes chat requests, forwards them to an agent
// runtime and reconciles the result with the session store.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kestrelops/agentplane/internal/runtime"
	"github.com/kestrelops/agentplane/internal/session"
)

// tracerName is the instrumentation scope reported on this package's spans.
const tracerName = "github.com/kestrelops/agentplane/internal/gateway"

// maxMessageLen bounds a chat message after sanitization.
const maxMessageLen = 4000

// fallbackReply replaces an empty runtime reply so callers never see an
// empty response body.
const fallbackReply = "I'm sorry, I was unable to generate a response. Please try again."

// Identity describes the authenticated caller, as established by the
// front door. RuntimeBearer is the downstream credential forwarded to
// the agent runtime.
type Identity struct {
	Subject       string
	Email         string
	RuntimeBearer string
}

// ChatRequest is one turn of a conversation. SessionID is optional; a
// missing one starts a new conversation.
type ChatRequest struct {
	Message   string
	SessionID string
}

// ChatResult carries the reply and the session it belongs to. SessionID
// is always populated, whether supplied or freshly minted.
type ChatResult struct {
	ResponseText string
	SessionID    string
}

// Invoker posts a prompt to an agent runtime.
type Invoker interface {
	Invoke(ctx context.Context, inv runtime.Invocation) (string, error)
}

// SessionStore persists conversation records and answers ownership
// checks.
type SessionStore interface {
	Put(ctx context.Context, sess *session.Session) error
	ValidateOwnership(ctx context.Context, sessionID, userID string) (bool, error)
}

// Gateway is the chat invocation pipeline.
type Gateway struct {
	invoker   Invoker
	sessions  SessionStore
	runtimeID string
	logger    *slog.Logger
}

// NewGateway wires the pipeline. A nil logger falls back to
// slog.Default().
func NewGateway(invoker Invoker, sessions SessionStore, runtimeID string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		invoker:   invoker,
		sessions:  sessions,
		runtimeID: runtimeID,
		logger:    logger,
	}
}

// Send runs one chat turn: authorize, resolve the session, invoke the
// runtime, persist, reply. Validation and authorization failures return
// typed errors before any network call; everything else surfaces as an
// opaque internal error.
func (g *Gateway) Send(ctx context.Context, id Identity, req ChatRequest) (*ChatResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway.send")
	defer span.End()

	res, err := g.send(ctx, id, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat turn failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("chat.session_id", maskSessionID(res.SessionID)),
		attribute.Int("chat.reply_length", len(res.ResponseText)),
	)
	return res, nil
}

func (g *Gateway) send(ctx context.Context, id Identity, req ChatRequest) (*ChatResult, error) {
	if id.Subject == "" {
		return nil, &AuthorizationError{Reason: "missing caller identity"}
	}
	if id.RuntimeBearer == "" {
		return nil, &AuthorizationError{Reason: "missing downstream credential"}
	}

	msg := sanitizeMessage(req.Message)
	if msg == "" {
		return nil, &ValidationError{Reason: "message cannot be empty"}
	}
	if utf8.RuneCountInString(msg) > maxMessageLen {
		return nil, &ValidationError{Reason: fmt.Sprintf("message exceeds %d characters", maxMessageLen)}
	}

	sessionID := req.SessionID
	if sessionID != "" {
		owned, err := g.sessions.ValidateOwnership(ctx, sessionID, id.Subject)
		if err != nil {
			return nil, fmt.Errorf("checking session ownership: %w", err)
		}
		if !owned {
			// Same reason for missing and foreign sessions.
			return nil, &AuthorizationError{Reason: "session does not belong to caller"}
		}
	} else {
		var err error
		sessionID, err = mintSessionID(id.Subject)
		if err != nil {
			return nil, err
		}
	}

	reply, err := g.invoker.Invoke(ctx, runtime.Invocation{
		RuntimeID: g.runtimeID,
		Prompt:    msg,
		SessionID: sessionID,
		UserID:    id.Subject,
		Bearer:    id.RuntimeBearer,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking agent runtime: %w", err)
	}

	err = g.sessions.Put(ctx, &session.Session{
		ID:           sessionID,
		UserID:       id.Subject,
		LastMessage:  msg,
		LastResponse: reply,
		Email:        id.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	if reply == "" {
		reply = fallbackReply
	}

	g.logger.Debug("chat turn completed",
		"session_id", maskSessionID(sessionID),
		"reply_len", len(reply))

	return &ChatResult{ResponseText: reply, SessionID: sessionID}, nil
}

// sanitizeMessage strips C0/C1 control characters except newline and
// tab, then trims surrounding whitespace.
func sanitizeMessage(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f || (r >= 0x80 && r <= 0x9f) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

// mintSessionID builds a fresh session id from the subject, the current
// time and a random suffix. The suffix keeps ids unguessable even when
// subject and timestamp are known.
func mintSessionID(subject string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("minting session id: %w", err)
	}
	return fmt.Sprintf("%s-%d-%s", subject, time.Now().Unix(), hex.EncodeToString(buf[:])), nil
}

// maskSessionID keeps only a short prefix for logs.
func maskSessionID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
