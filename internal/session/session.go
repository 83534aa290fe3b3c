// Package session persists chat sessions and answers ownership questions
// about them.
//
// A session records the latest turn of one conversation. Its user id is
// immutable after creation, and every read by session id is filtered by the
// requesting user id before the session counts as "found" — lookups never
// reveal whether a foreign session exists.
package session

import (
	"errors"
	"time"
)

// Session is one conversation's latest state.
type Session struct {
	ID           string
	UserID       string
	LastMessage  string
	LastResponse string
	Email        string // optional
	UpdatedAt    time.Time
}

// ErrSessionNotFound indicates no session is visible to the requesting user
// under the given id. Deliberately covers both "does not exist" and
// "belongs to someone else".
var ErrSessionNotFound = errors.New("session not found")

// Recent query bounds.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)
