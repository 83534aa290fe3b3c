package gateway

// ValidationError rejects a request before any network call is made.
// The reason is safe to show to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// AuthorizationError denies a request. Ownership failures use the same
// reason whether the session is missing or belongs to someone else, so
// callers cannot probe for session existence.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "authorization failed: " + e.Reason
}
