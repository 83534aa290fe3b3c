package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kestrelops/agentplane/internal/retry"
)

// tracerName is the instrumentation scope reported on this package's spans.
const tracerName = "github.com/kestrelops/agentplane/internal/search"

// defaultSettleDelay is how long a delete is given to propagate before the
// replacement index is created. Seconds, not minutes: deletes settle far
// faster than collection activation.
const defaultSettleDelay = 20 * time.Second

// Provisioner drives the idempotent index lifecycle:
//
//	Resolve → CheckExisting → {Create | MigrateThenCreate | NoOp} → Verify
//
// Each invocation is one logical unit of work. Concurrent invocations are
// not coordinated; safety rests on idempotent-exists handling on Create.
// The MigrateThenCreate path has no such protection — a concurrent
// migration racing a fresh create is an unresolved hazard of the underlying
// service contract, not something this code papers over with locks.
type Provisioner struct {
	control *ControlClient
	index   func(endpoint string) *IndexClient
	policy  retry.Policy
	settle  time.Duration
	logger  *slog.Logger
}

// ProvisionerOption customizes a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithRetryPolicy overrides the resource-activation retry policy.
func WithRetryPolicy(p retry.Policy) ProvisionerOption {
	return func(pr *Provisioner) { pr.policy = p }
}

// WithSettleDelay overrides the post-delete settle delay.
func WithSettleDelay(d time.Duration) ProvisionerOption {
	return func(pr *Provisioner) { pr.settle = d }
}

// NewProvisioner creates a Provisioner. indexClient builds a data-plane
// client for a resolved endpoint; it is injectable so tests can point it at
// a fake.
func NewProvisioner(control *ControlClient, indexClient func(endpoint string) *IndexClient, logger *slog.Logger, opts ...ProvisionerOption) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provisioner{
		control: control,
		index:   indexClient,
		policy:  retry.ProvisionPolicy(),
		settle:  defaultSettleDelay,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision converges the remote index on spec and reports which branch ran.
//
// Dimension migration is destructive by contract: an existing index whose
// observed dimension differs from the spec is deleted and recreated, never
// mutated in place. The Recreated status flags that disruption to the caller.
func (p *Provisioner) Provision(ctx context.Context, spec IndexSpec) (*Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "search.provision")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.collection_id", spec.CollectionID),
		attribute.String("search.index_name", spec.IndexName),
	)

	out, err := p.provision(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provisioning failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("search.outcome", string(out.Status)))
	return out, nil
}

func (p *Provisioner) provision(ctx context.Context, spec IndexSpec) (*Outcome, error) {
	if err := spec.Validate(); err != nil {
		return nil, &StepError{Step: "resolve", Err: err}
	}

	endpoint, err := p.control.ResolveEndpoint(ctx, spec.CollectionID)
	if err != nil {
		return nil, &StepError{Step: "resolve", Err: err}
	}
	idx := p.index(endpoint)

	state, found, err := p.check(ctx, idx, spec.IndexName)
	if err != nil {
		return nil, err
	}

	status := StatusCreated
	switch {
	case found && state.VectorDimension == spec.VectorDimension:
		p.logger.Info("index already matches spec",
			"index", spec.IndexName,
			"dimension", spec.VectorDimension,
		)
		status = StatusAlreadyExists

	case found:
		p.logger.Warn("vector dimension changed, migrating destructively",
			"index", spec.IndexName,
			"observed", state.VectorDimension,
			"desired", spec.VectorDimension,
		)
		if err := p.deleteAndSettle(ctx, idx, spec.IndexName); err != nil {
			return nil, err
		}
		if err := p.create(ctx, idx, spec); err != nil {
			return nil, err
		}
		status = StatusRecreated

	default:
		if err := p.create(ctx, idx, spec); err != nil {
			return nil, err
		}
	}

	if err := p.verify(ctx, idx, spec.IndexName); err != nil {
		return nil, err
	}

	p.logger.Info("index provisioned",
		"index", spec.IndexName,
		"collection_id", spec.CollectionID,
		"status", status,
	)
	return &Outcome{
		IndexName:    spec.IndexName,
		CollectionID: spec.CollectionID,
		Status:       status,
	}, nil
}

// check fetches the existing index state through the retry controller.
// GetIndex already treats unexpected status codes as "state unknown", so
// only transport-level failures reach the classifier; a flaky connection
// must not abort the whole run.
func (p *Provisioner) check(ctx context.Context, idx *IndexClient, name string) (*IndexState, bool, error) {
	var state *IndexState
	var found bool
	err := retry.Do(ctx, p.logger, p.policy, retry.ClassifyProvision, func(ctx context.Context) error {
		var err error
		state, found, err = idx.GetIndex(ctx, name)
		return err
	})
	if err != nil {
		return nil, false, &StepError{Step: "check", Err: err}
	}
	return state, found, nil
}

// deleteAndSettle removes the old index and waits for the delete to
// propagate before the caller recreates.
func (p *Provisioner) deleteAndSettle(ctx context.Context, idx *IndexClient, name string) error {
	err := retry.Do(ctx, p.logger, p.policy, retry.ClassifyProvision, func(ctx context.Context) error {
		return idx.DeleteIndex(ctx, name)
	})
	if err != nil {
		return &StepError{Step: "delete", Err: err}
	}

	select {
	case <-ctx.Done():
		return &StepError{Step: "delete", Err: ctx.Err()}
	case <-time.After(p.settle):
	}
	return nil
}

// create issues the mapping PUT through the retry controller. Idempotent
// "already exists" responses collapse to success inside the classifier.
func (p *Provisioner) create(ctx context.Context, idx *IndexClient, spec IndexSpec) error {
	mapping, err := buildMapping(spec)
	if err != nil {
		return &StepError{Step: "create", Err: err}
	}

	err = retry.Do(ctx, p.logger, p.policy, retry.ClassifyProvision, func(ctx context.Context) error {
		return idx.CreateIndex(ctx, spec.IndexName, mapping)
	})
	if err != nil {
		return &StepError{Step: "create", Err: err}
	}
	return nil
}

// verify re-fetches the index. A create response is not trusted without
// read-back confirmation: the backing store is eventually consistent, and
// a write acknowledged into the void must fail the whole operation.
func (p *Provisioner) verify(ctx context.Context, idx *IndexClient, name string) error {
	classify := func(err error) retry.Class {
		// Not visible yet is retryable: the index may still be warming up.
		if errors.Is(err, ErrIndexNotVisible) {
			return retry.Retryable
		}
		return retry.ClassifyProvision(err)
	}

	err := retry.Do(ctx, p.logger, p.policy, classify, func(ctx context.Context) error {
		_, ok, err := idx.GetIndex(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrIndexNotVisible, name)
		}
		return nil
	})
	if err != nil {
		return &StepError{Step: "verify", Err: err}
	}
	return nil
}
