package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Substring tables matched case-insensitively against err.Error().
//
// NOTE: string matching is a weak contract, but the search service reports
// failures as free-form JSON error bodies with no structured code field.
// All matching is confined to this file so it can be swapped for
// code-based classification without touching the retry loop.
var (
	// alreadyExistsPatterns identify creation calls that failed because the
	// resource is already there. Provisioning may be replayed (stack update,
	// CloudFormation retry), so these collapse to success.
	alreadyExistsPatterns = []string{
		"already_exists",
		"resource_already_exists",
		"resource-already-exists",
	}

	serverErrorPatterns = []string{"500", "502", "503", "504", "internal server error", "service unavailable"}
	ratePatterns        = []string{"429", "too many requests", "throttl"}
	networkPatterns     = []string{"connection reset", "connection refused", "broken pipe", "unexpected eof"}

	// propagationPatterns cover the access-denied window after a collection
	// or data-access policy is created: the permission can take tens of
	// seconds to propagate, so a 403 during provisioning is transient.
	propagationPatterns = []string{"403", "forbidden", "not authorized", "access denied"}
)

// ClassifyProvision classifies errors from index create/delete calls.
// The signer's identity is known valid by the time provisioning runs, so a
// 403 here means policy propagation delay, not a bad caller.
func ClassifyProvision(err error) Class {
	if err == nil {
		return Success
	}
	if AlreadyExists(err) {
		return Success
	}
	if errors.Is(err, context.Canceled) {
		return Terminal
	}
	errStr := strings.ToLower(err.Error())
	if containsAny(errStr, serverErrorPatterns) ||
		containsAny(errStr, ratePatterns) ||
		containsAny(errStr, networkPatterns) ||
		containsAny(errStr, propagationPatterns) ||
		isTimeout(err) {
		return Retryable
	}
	return Terminal
}

// ClassifyInvoke classifies errors from agent runtime invocations.
// Unlike provisioning, a 403 is terminal: the bearer credential is
// caller-supplied and refreshing it is the caller's job.
func ClassifyInvoke(err error) Class {
	if err == nil {
		return Success
	}
	if errors.Is(err, context.Canceled) {
		return Terminal
	}
	errStr := strings.ToLower(err.Error())
	if containsAny(errStr, serverErrorPatterns) ||
		containsAny(errStr, ratePatterns) ||
		containsAny(errStr, networkPatterns) ||
		isTimeout(err) {
		return Retryable
	}
	return Terminal
}

// AlreadyExists reports whether err is an idempotent-exists error from a
// creation call.
func AlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), alreadyExistsPatterns)
}

// isTimeout reports whether err is a deadline or network timeout.
// Timeouts are retryable up to the attempt budget, then surfaced as-is.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// containsAny checks if s contains any of the substrings. s must already be
// lowercased; the tables above are lowercase.
func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
