package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kestrelops/agentplane/internal/awsauth"
	"github.com/kestrelops/agentplane/internal/retry"
)

type staticCreds struct{}

func (staticCreds) Retrieve(context.Context) (aws.Credentials, error) {
	return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"}, nil
}

// fakeCollection simulates the control API and one collection's data plane
// on a single server.
type fakeCollection struct {
	mu      sync.Mutex
	indexes map[string]int // name → dimension

	collectionID string
	missing      bool // control API does not know the collection

	createFailures int  // leading transient failures on PUT
	blindCreates   bool // acknowledge PUT without recording the index
	deletes        int
	creates        int
}

func newFakeCollection(collectionID string) *fakeCollection {
	return &fakeCollection{
		indexes:      make(map[string]int),
		collectionID: collectionID,
	}
}

func (f *fakeCollection) handler(selfURL func() string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /collections/batch-get", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.missing {
			_, _ = fmt.Fprint(w, `{"collectionDetails":[]}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"collectionDetails": []map[string]any{{
				"id":                 f.collectionID,
				"status":             "ACTIVE",
				"collectionEndpoint": selfURL(),
			}},
		})
	})

	mux.HandleFunc("PUT /{index}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.creates++
		name := r.PathValue("index")

		if f.createFailures > 0 {
			f.createFailures--
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"error":"collection still activating"}`)
			return
		}
		if _, ok := f.indexes[name]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, `{"error":{"type":"resource_already_exists_exception","reason":"index [%s] already exists"}}`, name)
			return
		}

		var body struct {
			Mappings struct {
				Properties map[string]struct {
					Type      string `json:"type"`
					Dimension int    `json:"dimension"`
				} `json:"properties"`
			} `json:"mappings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		dim := 0
		for _, p := range body.Mappings.Properties {
			if p.Type == "knn_vector" {
				dim = p.Dimension
			}
		}
		if !f.blindCreates {
			f.indexes[name] = dim
		}
		_, _ = fmt.Fprint(w, `{"acknowledged":true}`)
	})

	mux.HandleFunc("GET /{index}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.PathValue("index")
		dim, ok := f.indexes[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, `{"error":{"type":"index_not_found_exception"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			name: map[string]any{
				"mappings": map[string]any{
					"properties": map[string]any{
						"vector": map[string]any{"type": "knn_vector", "dimension": dim},
						"text":   map[string]any{"type": "text"},
					},
				},
			},
		})
	})

	mux.HandleFunc("DELETE /{index}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deletes++
		name := r.PathValue("index")
		if _, ok := f.indexes[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.indexes, name)
		_, _ = fmt.Fprint(w, `{"acknowledged":true}`)
	})

	return mux
}

// newTestProvisioner wires a Provisioner against the fake with fast retries.
func newTestProvisioner(t *testing.T, fake *fakeCollection) (*Provisioner, *EndpointCache) {
	t.Helper()

	var srv *httptest.Server
	srv = httptest.NewServer(fake.handler(func() string { return srv.URL }))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.DiscardHandler)
	signed := awsauth.NewClient(srv.Client(), awsauth.NewSigner(staticCreds{}, "aoss", "us-east-1"))

	cache := NewEndpointCache()
	control := NewControlClient(signed, srv.URL, cache, logger)
	p := NewProvisioner(control,
		func(endpoint string) *IndexClient { return NewIndexClient(signed, endpoint, logger) },
		logger,
		WithRetryPolicy(retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}),
		WithSettleDelay(time.Millisecond),
	)
	return p, cache
}

func testSpec(dim int) IndexSpec {
	return IndexSpec{
		CollectionID:     "col-123",
		IndexName:        "knowledge",
		VectorDimension:  dim,
		SimilarityMethod: "l2",
		Analyzer:         "standard",
	}
}

func TestProvision_CreatesThenNoOps(t *testing.T) {
	fake := newFakeCollection("col-123")
	p, _ := newTestProvisioner(t, fake)
	ctx := context.Background()

	out, err := p.Provision(ctx, testSpec(1024))
	if err != nil {
		t.Fatalf("first Provision() error = %v", err)
	}
	if out.Status != StatusCreated {
		t.Errorf("first Provision() status = %s, want %s", out.Status, StatusCreated)
	}

	out, err = p.Provision(ctx, testSpec(1024))
	if err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}
	if out.Status != StatusAlreadyExists {
		t.Errorf("second Provision() status = %s, want %s", out.Status, StatusAlreadyExists)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if dim := fake.indexes["knowledge"]; dim != 1024 {
		t.Errorf("remote dimension = %d, want 1024", dim)
	}
}

func TestProvision_DimensionMigrationRecreates(t *testing.T) {
	fake := newFakeCollection("col-123")
	p, _ := newTestProvisioner(t, fake)
	ctx := context.Background()

	if _, err := p.Provision(ctx, testSpec(768)); err != nil {
		t.Fatalf("seeding Provision() error = %v", err)
	}

	out, err := p.Provision(ctx, testSpec(1024))
	if err != nil {
		t.Fatalf("migrating Provision() error = %v", err)
	}
	if out.Status != StatusRecreated {
		t.Errorf("Provision() status = %s, want %s", out.Status, StatusRecreated)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.deletes != 1 {
		t.Errorf("deletes = %d, want 1", fake.deletes)
	}
	if dim := fake.indexes["knowledge"]; dim != 1024 {
		t.Errorf("post-migration dimension = %d, want 1024", dim)
	}
}

func TestProvision_RetriesTransientCreate(t *testing.T) {
	fake := newFakeCollection("col-123")
	fake.createFailures = 2
	p, _ := newTestProvisioner(t, fake)

	out, err := p.Provision(context.Background(), testSpec(512))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if out.Status != StatusCreated {
		t.Errorf("status = %s, want %s", out.Status, StatusCreated)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.creates != 3 {
		t.Errorf("create attempts = %d, want 3", fake.creates)
	}
}

// flakyTransport fails the first n GET round trips below the HTTP layer,
// simulating a connection the server never sees.
type flakyTransport struct {
	base     http.RoundTripper
	mu       sync.Mutex
	failures int
	gets     int
}

func (t *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet {
		t.mu.Lock()
		t.gets++
		fail := t.failures > 0
		if fail {
			t.failures--
		}
		t.mu.Unlock()
		if fail {
			return nil, errors.New("read: connection reset by peer")
		}
	}
	return t.base.RoundTrip(req)
}

func TestProvision_RetriesTransientExistenceCheck(t *testing.T) {
	fake := newFakeCollection("col-123")
	var srv *httptest.Server
	srv = httptest.NewServer(fake.handler(func() string { return srv.URL }))
	t.Cleanup(srv.Close)

	httpClient := srv.Client()
	transport := &flakyTransport{base: httpClient.Transport, failures: 2}
	httpClient.Transport = transport

	logger := slog.New(slog.DiscardHandler)
	signed := awsauth.NewClient(httpClient, awsauth.NewSigner(staticCreds{}, "aoss", "us-east-1"))
	control := NewControlClient(signed, srv.URL, NewEndpointCache(), logger)
	p := NewProvisioner(control,
		func(endpoint string) *IndexClient { return NewIndexClient(signed, endpoint, logger) },
		logger,
		WithRetryPolicy(retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}),
		WithSettleDelay(time.Millisecond),
	)

	out, err := p.Provision(context.Background(), testSpec(512))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if out.Status != StatusCreated {
		t.Errorf("status = %s, want %s", out.Status, StatusCreated)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.gets < 3 {
		t.Errorf("GET round trips = %d, want at least 3 (two dropped connections, then success)", transport.gets)
	}
}

func TestProvision_VerifyFailsWhenCreateNotVisible(t *testing.T) {
	fake := newFakeCollection("col-123")
	fake.blindCreates = true
	p, _ := newTestProvisioner(t, fake)

	_, err := p.Provision(context.Background(), testSpec(512))
	if err == nil {
		t.Fatal("Provision() succeeded although the index never became visible")
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Provision() error = %T, want *StepError", err)
	}
	if stepErr.Step != "verify" {
		t.Errorf("failing step = %s, want verify", stepErr.Step)
	}
	if !errors.Is(err, ErrIndexNotVisible) {
		t.Errorf("error = %v, want wrapped ErrIndexNotVisible", err)
	}
}

func TestProvision_MissingCollectionIsFatal(t *testing.T) {
	fake := newFakeCollection("col-123")
	fake.missing = true
	p, _ := newTestProvisioner(t, fake)

	_, err := p.Provision(context.Background(), testSpec(512))
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("Provision() error = %v, want ErrCollectionNotFound", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "resolve" {
		t.Errorf("error should identify the resolve step, got %v", err)
	}
}

func TestProvision_InvalidSpec(t *testing.T) {
	fake := newFakeCollection("col-123")
	p, _ := newTestProvisioner(t, fake)

	spec := testSpec(0)
	if _, err := p.Provision(context.Background(), spec); err == nil {
		t.Fatal("Provision() accepted a zero vector dimension")
	}
}

func TestEndpointCache_ResolvedOncePerProcess(t *testing.T) {
	fake := newFakeCollection("col-123")
	p, cache := newTestProvisioner(t, fake)
	ctx := context.Background()

	if _, err := p.Provision(ctx, testSpec(256)); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if _, ok := cache.Get("col-123"); !ok {
		t.Fatal("endpoint not cached after first resolution")
	}

	// Break the control API; the cached endpoint must keep working.
	fake.mu.Lock()
	fake.missing = true
	fake.mu.Unlock()

	if _, err := p.Provision(ctx, testSpec(256)); err != nil {
		t.Fatalf("cached Provision() error = %v", err)
	}

	cache.Reset()
	if _, err := p.Provision(ctx, testSpec(256)); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("after Reset, Provision() error = %v, want ErrCollectionNotFound", err)
	}
}

func TestProvision_RecordsSpanWithOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })

	fake := newFakeCollection("col-123")
	p, _ := newTestProvisioner(t, fake)

	if _, err := p.Provision(context.Background(), testSpec(256)); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "search.provision" {
		t.Errorf("span name = %q, want search.provision", span.Name())
	}
	attrs := make(map[string]string)
	for _, attr := range span.Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsString()
	}
	if attrs["search.index_name"] != "knowledge" {
		t.Errorf("search.index_name = %q, want knowledge", attrs["search.index_name"])
	}
	if attrs["search.outcome"] != string(StatusCreated) {
		t.Errorf("search.outcome = %q, want %s", attrs["search.outcome"], StatusCreated)
	}
}

func TestBuildMapping(t *testing.T) {
	body, err := buildMapping(testSpec(1024))
	if err != nil {
		t.Fatalf("buildMapping() error = %v", err)
	}

	var doc struct {
		Settings map[string]any `json:"settings"`
		Mappings struct {
			Properties map[string]map[string]any `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("mapping is not valid JSON: %v", err)
	}

	if doc.Settings["index.knn"] != true {
		t.Error("mapping should enable index.knn")
	}
	vector := doc.Mappings.Properties["vector"]
	if vector["type"] != "knn_vector" {
		t.Errorf("vector type = %v, want knn_vector", vector["type"])
	}
	if dim, _ := vector["dimension"].(float64); int(dim) != 1024 {
		t.Errorf("vector dimension = %v, want 1024", vector["dimension"])
	}
	meta := doc.Mappings.Properties["metadata"]
	if meta["index"] != false {
		t.Error("metadata field must be excluded from the text index")
	}
	if !strings.Contains(string(body), "hnsw") {
		t.Error("mapping should configure the hnsw method")
	}
}
