// Package runtime invokes a deployed agent runtime over HTTP. A runtime
// answers either with a single JSON document or with a server-sent-event
// stream; both shapes collapse into one reply string here.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelops/agentplane/internal/retry"
)

// sessionHeader correlates the invocation with a conversation on the
// runtime side.
const sessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"

// ErrEmptyPrompt is returned when an invocation carries no prompt.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Invocation is a single request to an agent runtime.
type Invocation struct {
	RuntimeID string
	Prompt    string
	SessionID string
	UserID    string
	Bearer    string
}

// invocationPayload is the wire body the runtime expects.
type invocationPayload struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Client calls agent runtimes under a shared base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the invocation retry policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// NewClient returns a Client for runtimes rooted at baseURL.
// A nil logger falls back to slog.Default().
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		policy:     retry.InvokePolicy(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke posts the prompt to the runtime and returns the reconstructed
// reply text. Transient failures are retried; auth failures are not,
// since a rejected downstream credential will not heal on its own.
func (c *Client) Invoke(ctx context.Context, inv Invocation) (string, error) {
	if inv.RuntimeID == "" {
		return "", errors.New("runtime id is required")
	}
	if inv.Prompt == "" {
		return "", ErrEmptyPrompt
	}

	body, err := json.Marshal(invocationPayload{
		Prompt:    inv.Prompt,
		SessionID: inv.SessionID,
		UserID:    inv.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("encoding invocation payload: %w", err)
	}

	url := fmt.Sprintf("%s/runtimes/%s/invocations", c.baseURL, inv.RuntimeID)

	var reply string
	err = retry.Do(ctx, c.logger, c.policy, retry.ClassifyInvoke, func(ctx context.Context) error {
		reply, err = c.invokeOnce(ctx, url, body, inv)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("invoking runtime %s: %w", inv.RuntimeID, err)
	}
	return reply, nil
}

func (c *Client) invokeOnce(ctx context.Context, url string, body []byte, inv Invocation) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building invocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if inv.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+inv.Bearer)
	}
	if inv.SessionID != "" {
		req.Header.Set(sessionHeader, inv.SessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting invocation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return collectStream(resp.Body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading invocation response: %w", err)
	}
	return extractReply(raw), nil
}
