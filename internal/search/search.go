// Package search provisions k-NN vector indexes inside a managed search
// collection. It talks to two surfaces over signed HTTP: the control API
// (collection id → data-plane endpoint) and the collection endpoint itself
// (index CRUD).
//
// Provisioning is fully idempotent: every step checks remote state before
// mutating, so the operation is safe to re-invoke from scratch after any
// failure (stack replays included).
package search

import (
	"errors"
	"fmt"
	"sync"
)

// IndexSpec describes the desired index.
type IndexSpec struct {
	CollectionID     string
	IndexName        string
	VectorDimension  int    // embedding width, must be positive
	SimilarityMethod string // space type, e.g. "l2" or "cosinesimil"
	Analyzer         string // analyzer for the free-text field
}

// Validate checks the spec before any network call.
func (s IndexSpec) Validate() error {
	if s.CollectionID == "" {
		return errors.New("collection id is required")
	}
	if s.IndexName == "" {
		return errors.New("index name is required")
	}
	if s.VectorDimension <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", s.VectorDimension)
	}
	return nil
}

// Status reports which provisioning branch was taken.
type Status string

const (
	// StatusCreated means the index did not exist and was created.
	StatusCreated Status = "Created"
	// StatusAlreadyExists means the index existed with a matching dimension.
	StatusAlreadyExists Status = "AlreadyExists"
	// StatusRecreated means the dimension changed and the index was
	// destructively migrated (delete then create).
	StatusRecreated Status = "Recreated"
)

// Outcome is the result of one provisioning invocation.
type Outcome struct {
	IndexName    string
	CollectionID string
	Status       Status
}

// StepError identifies the provisioning step that exhausted its options,
// wrapping the last underlying error.
type StepError struct {
	Step string // "resolve", "check", "delete", "create", "verify"
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning failed at step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrCollectionNotFound indicates the target collection does not exist.
// Fatal: provisioning cannot proceed without a data-plane endpoint.
var ErrCollectionNotFound = errors.New("collection not found")

// ErrIndexNotVisible indicates the index was reported created but a
// read-back could not see it. A create response is not trusted without
// confirmation because the backing store is only eventually consistent.
var ErrIndexNotVisible = errors.New("index absent after create")

// EndpointCache maps collection ids to data-plane endpoints, resolved once
// per process and never refreshed. It is an explicit injected component so
// tests can Reset it instead of fighting package-level state.
type EndpointCache struct {
	mu        sync.Mutex
	endpoints map[string]string
}

// NewEndpointCache creates an empty cache.
func NewEndpointCache() *EndpointCache {
	return &EndpointCache{endpoints: make(map[string]string)}
}

// Get returns the cached endpoint for id.
func (c *EndpointCache) Get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.endpoints[id]
	return ep, ok
}

// Put stores the endpoint for id.
func (c *EndpointCache) Put(id, endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[id] = endpoint
}

// Reset drops all cached endpoints.
func (c *EndpointCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = make(map[string]string)
}
