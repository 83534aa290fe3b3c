package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kestrelops/agentplane/internal/awsauth"
)

// ControlClient resolves collection ids to data-plane endpoints via the
// search service's control API.
type ControlClient struct {
	client   *awsauth.Client
	endpoint string // control API base URL
	cache    *EndpointCache
	logger   *slog.Logger
}

// NewControlClient creates a control-plane client. cache may be shared
// across components; nil creates a private one.
func NewControlClient(client *awsauth.Client, endpoint string, cache *EndpointCache, logger *slog.Logger) *ControlClient {
	if cache == nil {
		cache = NewEndpointCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlClient{
		client:   client,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		cache:    cache,
		logger:   logger,
	}
}

// collectionDetail is the control API's description of one collection.
type collectionDetail struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CollectionEndpoint string `json:"collectionEndpoint"`
}

// ResolveEndpoint returns the data-plane endpoint for collectionID.
// Resolution happens once per process; later calls hit the cache.
// A collection the control API does not know is fatal.
func (c *ControlClient) ResolveEndpoint(ctx context.Context, collectionID string) (string, error) {
	if ep, ok := c.cache.Get(collectionID); ok {
		return ep, nil
	}

	body, err := json.Marshal(map[string][]string{"ids": {collectionID}})
	if err != nil {
		return "", fmt.Errorf("encoding batch-get request: %w", err)
	}

	resp, err := c.client.Do(ctx, http.MethodPost, c.endpoint+"/collections/batch-get", body)
	if err != nil {
		return "", fmt.Errorf("resolving collection %s: %w", collectionID, err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("resolving collection %s: status %d: %s", collectionID, resp.StatusCode, resp.Body)
	}

	var out struct {
		CollectionDetails []collectionDetail `json:"collectionDetails"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decoding batch-get response: %w", err)
	}
	if len(out.CollectionDetails) == 0 || out.CollectionDetails[0].CollectionEndpoint == "" {
		return "", fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
	}

	detail := out.CollectionDetails[0]
	c.logger.Info("resolved collection endpoint",
		"collection_id", collectionID,
		"status", detail.Status,
	)
	c.cache.Put(collectionID, detail.CollectionEndpoint)
	return detail.CollectionEndpoint, nil
}

// IndexClient performs index CRUD against a collection's data-plane
// endpoint over signed HTTP.
type IndexClient struct {
	client   *awsauth.Client
	endpoint string
	logger   *slog.Logger
}

// NewIndexClient creates a data-plane client for one collection endpoint.
func NewIndexClient(client *awsauth.Client, endpoint string, logger *slog.Logger) *IndexClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexClient{
		client:   client,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		logger:   logger,
	}
}

func (c *IndexClient) indexURL(name string) string {
	return c.endpoint + "/" + url.PathEscape(name)
}

// IndexState is the observed remote state of an index.
type IndexState struct {
	VectorDimension int
}

// GetIndex fetches the named index's mapping.
//
// 404 means the index does not exist. Any other non-2xx means the existing
// state is unknown; that is logged but not fatal, and the caller proceeds
// optimistically (reported as not found, nil error).
func (c *IndexClient) GetIndex(ctx context.Context, name string) (*IndexState, bool, error) {
	resp, err := c.client.Do(ctx, http.MethodGet, c.indexURL(name), nil)
	if err != nil {
		return nil, false, fmt.Errorf("fetching index %s: %w", name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if !resp.OK() {
		c.logger.Warn("existing index state unknown, continuing optimistically",
			"index", name,
			"status", resp.StatusCode,
			"body", string(resp.Body),
		)
		return nil, false, nil
	}

	dim, err := parseVectorDimension(resp.Body, name)
	if err != nil {
		c.logger.Warn("could not parse index mapping, continuing optimistically",
			"index", name,
			"error", err,
		)
		return nil, false, nil
	}
	return &IndexState{VectorDimension: dim}, true, nil
}

// CreateIndex issues a PUT with the full index mapping. Non-2xx responses
// become errors carrying the status and body so the retry classifier can
// recognize idempotent-exists and transient failures.
func (c *IndexClient) CreateIndex(ctx context.Context, name string, mapping []byte) error {
	resp, err := c.client.Do(ctx, http.MethodPut, c.indexURL(name), mapping)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("creating index %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// DeleteIndex removes the named index. A 404 counts as success: the index
// being gone is the goal.
func (c *IndexClient) DeleteIndex(ctx context.Context, name string) error {
	resp, err := c.client.Do(ctx, http.MethodDelete, c.indexURL(name), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if !resp.OK() {
		return fmt.Errorf("deleting index %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// parseVectorDimension digs the vector field's dimension out of a GET
// mapping response: {"<index>":{"mappings":{"properties":{"vector":{...}}}}}.
func parseVectorDimension(body []byte, name string) (int, error) {
	var doc map[string]struct {
		Mappings struct {
			Properties map[string]struct {
				Type      string `json:"type"`
				Dimension int    `json:"dimension"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("decoding mapping: %w", err)
	}

	entry, ok := doc[name]
	if !ok {
		// Some backends key the response by the resolved (aliased) name.
		for _, v := range doc {
			entry = v
			ok = true
			break
		}
	}
	if !ok {
		return 0, fmt.Errorf("mapping response has no entry for %s", name)
	}

	for _, prop := range entry.Mappings.Properties {
		if prop.Type == "knn_vector" {
			return prop.Dimension, nil
		}
	}
	return 0, fmt.Errorf("no knn_vector field in mapping for %s", name)
}
