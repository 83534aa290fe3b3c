// Package awsauth signs outbound HTTP requests with SigV4 so AWS-style
// services can authenticate the caller without a shared secret in transit.
//
// Credentials come from an injected aws.CredentialsProvider (the default
// chain in production, a static stub in tests). Credential resolution
// failure is terminal at this layer: only the caller can refresh identity.
package awsauth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// ErrCredentialsUnavailable indicates the credential provider could not
// produce usable credentials. Never retried here.
var ErrCredentialsUnavailable = errors.New("credentials unavailable")

// emptyPayloadHash is the SHA-256 of an empty body, hex-encoded.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Signer computes SigV4 signatures from short-lived credentials.
type Signer struct {
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	service string
	region  string
}

// NewSigner creates a Signer for the given service identifier and region.
func NewSigner(creds aws.CredentialsProvider, service, region string) *Signer {
	return &Signer{
		creds:   creds,
		signer:  v4.NewSigner(),
		service: service,
		region:  region,
	}
}

// Sign resolves credentials and signs req in place. payloadHash must be the
// hex-encoded SHA-256 of the request body (use HashPayload).
//
// The hash is also sent as the X-Amz-Content-Sha256 header. SignHTTP only
// folds it into the canonical request; serverless search endpoints require
// the header itself and reject requests without it. Setting it before
// signing makes it part of the signed header set.
func (s *Signer) Sign(ctx context.Context, req *http.Request, payloadHash string) error {
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialsUnavailable, err)
	}
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, s.service, s.region, time.Now().UTC()); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	return nil
}

// HashPayload returns the hex-encoded SHA-256 of body. A nil or empty body
// hashes to the well-known empty-payload constant.
func HashPayload(body []byte) string {
	if len(body) == 0 {
		return emptyPayloadHash
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Response is the outcome of a signed call: status plus the full body.
// Bodies are small (index mappings, control-plane JSON), so buffering the
// whole thing keeps error reporting simple.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues signed requests over a shared *http.Client.
type Client struct {
	httpClient *http.Client
	signer     *Signer
}

// NewClient creates a signed HTTP client. httpClient nil means
// http.DefaultClient; per-call deadlines come from ctx.
func NewClient(httpClient *http.Client, signer *Signer) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, signer: signer}
}

// Do builds, signs, and executes a request. body may be nil. The response
// body is always fully read and returned, whatever the status.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.signer.Sign(ctx, req, HashPayload(body)); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s %s: %w", method, url, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
