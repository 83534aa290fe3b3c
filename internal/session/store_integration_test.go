//go:build integration

package session_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrelops/agentplane/internal/session"
	"github.com/kestrelops/agentplane/internal/testutil"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	store := session.NewStore(db.Pool, logger)

	t.Run("put then get round trip", func(t *testing.T) {
		sess := &session.Session{
			ID:           "alice-1700000000-deadbeefdeadbeef",
			UserID:       "alice",
			LastMessage:  "hello",
			LastResponse: "hi there",
			Email:        "alice@example.com",
		}
		if err := store.Put(ctx, sess); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := store.Get(ctx, sess.ID, "alice")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.LastMessage != "hello" || got.LastResponse != "hi there" {
			t.Errorf("Get() = %q/%q, want hello/hi there", got.LastMessage, got.LastResponse)
		}
		if got.Email != "alice@example.com" {
			t.Errorf("Get() email = %q, want alice@example.com", got.Email)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("Get() returned zero UpdatedAt")
		}
	})

	t.Run("upsert overwrites summary but never the owner", func(t *testing.T) {
		id := "bob-1700000001-cafecafecafecafe"
		first := &session.Session{ID: id, UserID: "bob", LastMessage: "one", LastResponse: "1", Email: "bob@example.com"}
		if err := store.Put(ctx, first); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		// A second writer replaying the same session ID must not steal it.
		second := &session.Session{ID: id, UserID: "mallory", LastMessage: "two", LastResponse: "2"}
		if err := store.Put(ctx, second); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := store.Get(ctx, id, "bob")
		if err != nil {
			t.Fatalf("Get() as owner error = %v", err)
		}
		if got.LastMessage != "two" {
			t.Errorf("LastMessage = %q, want two", got.LastMessage)
		}
		if got.UserID != "bob" {
			t.Errorf("UserID = %q, want bob", got.UserID)
		}

		if _, err := store.Get(ctx, id, "mallory"); !errors.Is(err, session.ErrSessionNotFound) {
			t.Errorf("Get() as non-owner error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("empty email on update preserves stored email", func(t *testing.T) {
		id := "carol-1700000002-0123456789abcdef"
		if err := store.Put(ctx, &session.Session{ID: id, UserID: "carol", LastMessage: "m", LastResponse: "r", Email: "carol@example.com"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Put(ctx, &session.Session{ID: id, UserID: "carol", LastMessage: "m2", LastResponse: "r2"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := store.Get(ctx, id, "carol")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Email != "carol@example.com" {
			t.Errorf("Email = %q, want carol@example.com", got.Email)
		}
	})

	t.Run("ownership check", func(t *testing.T) {
		id := "dave-1700000003-feedfacefeedface"
		if err := store.Put(ctx, &session.Session{ID: id, UserID: "dave", LastMessage: "m", LastResponse: "r"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		owned, err := store.ValidateOwnership(ctx, id, "dave")
		if err != nil {
			t.Fatalf("ValidateOwnership() error = %v", err)
		}
		if !owned {
			t.Error("ValidateOwnership() = false for owner, want true")
		}

		owned, err = store.ValidateOwnership(ctx, id, "eve")
		if err != nil {
			t.Fatalf("ValidateOwnership() error = %v", err)
		}
		if owned {
			t.Error("ValidateOwnership() = true for non-owner, want false")
		}

		owned, err = store.ValidateOwnership(ctx, "no-such-session", "dave")
		if err != nil {
			t.Fatalf("ValidateOwnership() error = %v", err)
		}
		if owned {
			t.Error("ValidateOwnership() = true for missing session, want false")
		}
	})

	t.Run("recent orders by recency and respects limit", func(t *testing.T) {
		base := time.Now().Add(-time.Hour)
		for i := 0; i < 5; i++ {
			sess := &session.Session{
				ID:           fmt.Sprintf("frank-17000001%02d-abcdefabcdefabcd", i),
				UserID:       "frank",
				LastMessage:  fmt.Sprintf("message %d", i),
				LastResponse: "ok",
				UpdatedAt:    base.Add(time.Duration(i) * time.Minute),
			}
			if err := store.Put(ctx, sess); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}

		recent, err := store.Recent(ctx, "frank", 3)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(recent) != 3 {
			t.Fatalf("Recent() returned %d sessions, want 3", len(recent))
		}
		for i := 1; i < len(recent); i++ {
			if recent[i].UpdatedAt.After(recent[i-1].UpdatedAt) {
				t.Errorf("Recent() not ordered by recency at index %d", i)
			}
		}
		if recent[0].LastMessage != "message 4" {
			t.Errorf("Recent()[0].LastMessage = %q, want message 4", recent[0].LastMessage)
		}
	})
}
