// Package retry provides a bounded exponential-backoff executor for calls
// against eventually consistent cloud services.
//
// The controller distinguishes three outcome classes:
//   - Success: the operation succeeded, or failed with an error that means
//     the desired state already holds (idempotent-exists)
//   - Retryable: transient failure (5xx, propagation-delay 403, resets)
//   - Terminal: permanent failure, retrying cannot help
//
// Classification is substring-based (see classify.go) because the backing
// services report errors as free-form JSON bodies without stable codes.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Class is the retry classification of an error.
type Class int

const (
	// Success means the error (or nil) should be treated as a successful
	// outcome. Non-nil errors classified as Success are swallowed.
	Success Class = iota
	// Retryable means the operation should be attempted again after backoff.
	Retryable
	// Terminal means the operation failed permanently.
	Terminal
)

// Classifier maps an error to a retry Class. A nil error must map to Success.
type Classifier func(error) Class

// Policy configures the retry loop.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // backoff cap
}

// ProvisionPolicy is tuned for serverless search collections, which can take
// tens of seconds to become queryable after creation. The large base delay
// keeps early attempts from being wasted on a resource known to still be
// initializing. This is resource-activation backoff, not jitter backoff.
func ProvisionPolicy() Policy {
	return Policy{
		MaxAttempts: 8,
		BaseDelay:   12 * time.Second,
		MaxDelay:    96 * time.Second,
	}
}

// InvokePolicy is tuned for request/response calls to the agent runtime.
func InvokePolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Do executes op up to p.MaxAttempts times with exponential backoff
// (BaseDelay * 2^(attempt-1), capped at MaxDelay).
//
// After each attempt the returned error is classified:
// Success returns nil immediately, Terminal returns the error immediately,
// Retryable sleeps and tries again. When attempts are exhausted the last
// error is surfaced wrapped with the attempt count, never swallowed.
//
// Sleeps honor ctx cancellation.
func Do(ctx context.Context, logger *slog.Logger, p Policy, classify Classifier, op func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	delay := p.BaseDelay
	start := time.Now()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)

		switch classify(err) {
		case Success:
			if err != nil {
				logger.Debug("treating already-satisfied error as success",
					"attempt", attempt,
					"error", err,
				)
			}
			return nil
		case Terminal:
			return err
		case Retryable:
			lastErr = err
		}

		if attempt == p.MaxAttempts {
			break
		}

		logger.Debug("retrying after transient error",
			"attempt", attempt,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry backoff: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, p.MaxDelay)
		}
	}

	return fmt.Errorf("giving up after %d attempts (elapsed %v): %w",
		p.MaxAttempts, time.Since(start).Round(time.Millisecond), lastErr)
}
