package authcore

import (
	"context"
	"errors"
	"testing"
)

func mustLogin(t *testing.T, e *Engine, email, pass string) *LoginResult {
	t.Helper()
	result, err := e.Login(context.Background(), testCampus, email, pass)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestRefreshIssuesFreshPair(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	first := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	rotated, err := e.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if rotated.AccessToken == "" || rotated.RefreshToken == "" {
		t.Fatal("expected a fresh pair")
	}
	if rotated.AccessToken == first.AccessToken || rotated.RefreshToken == first.RefreshToken {
		t.Fatal("refresh must mint new tokens")
	}

	// Both access tokens resolve to the same session.
	a, err := e.Validate(ctx, first.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Validate(ctx, rotated.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if a.SessionID != b.SessionID {
		t.Fatal("refresh must stay on the original session")
	}

	// An access token cannot be used as a refresh token.
	if _, err := e.Refresh(ctx, first.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := e.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}

func TestRefreshFailsAfterSessionRevoked(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	result := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	auth, err := e.Validate(ctx, result.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.RevokeSession(ctx, testCampus, "u-1", auth.SessionID); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLogoutRevokesSessionAndToken(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	result := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	if err := e.Logout(ctx, result.AccessToken); err != nil {
		t.Fatal(err)
	}

	// The exact token is denylisted until its natural expiry.
	if _, err := e.Validate(ctx, result.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	// The session is gone, so the refresh token is dead too.
	if _, err := e.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	sessions, err := e.Sessions(ctx, testCampus, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}

	snap := e.MetricsSnapshot()
	if snap.Counters[MetricDenylistHit] != 1 {
		t.Fatalf("expected 1 denylist hit, got %d", snap.Counters[MetricDenylistHit])
	}
}

func TestLogoutAllOrphansRefreshTokens(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	first := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")
	second := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	removed, err := e.LogoutAll(ctx, testCampus, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 sessions removed, got %d", removed)
	}

	// Version binding: both refresh tokens carry the old token version.
	if _, err := e.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenVersionStale) {
		t.Fatalf("expected ErrTokenVersionStale, got %v", err)
	}
	if _, err := e.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrTokenVersionStale) {
		t.Fatalf("expected ErrTokenVersionStale, got %v", err)
	}

	// Outstanding access tokens ride out their own short expiry.
	if _, err := e.Validate(ctx, first.AccessToken); err != nil {
		t.Fatalf("access token should survive logout-all until expiry, got %v", err)
	}

	// A new login works and its refresh token carries the new version.
	third := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")
	if _, err := e.Refresh(ctx, third.RefreshToken); err != nil {
		t.Fatal(err)
	}
}

func TestRevokeSessionEnforcesOwnership(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	seedIdentity(t, e, store, "u-2", "bob@cs.example.edu", "correct-horse-battery", nil)
	result := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	auth, err := e.Validate(ctx, result.AccessToken)
	if err != nil {
		t.Fatal(err)
	}

	// Another user cannot revoke it, and learns nothing beyond "not found".
	if err := e.RevokeSession(ctx, testCampus, "u-2", auth.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := e.RevokeSession(ctx, testCampus, "u-1", auth.SessionID); err != nil {
		t.Fatal(err)
	}
	// Twice is still not found.
	if err := e.RevokeSession(ctx, testCampus, "u-1", auth.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on repeat, got %v", err)
	}
}

func TestRevokeTokenWorksOnAnyKind(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	result := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	if err := e.RevokeToken(ctx, result.RefreshToken); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	// The access token was not touched.
	if _, err := e.Validate(ctx, result.AccessToken); err != nil {
		t.Fatal(err)
	}
}

func TestValidateFailsOpenOnDenylistOutage(t *testing.T) {
	e, store, _, mr := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	result := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	mr.Close()

	// Reads fail open: a valid token still authenticates during the outage.
	if _, err := e.Validate(ctx, result.AccessToken); err != nil {
		t.Fatalf("expected fail-open validate, got %v", err)
	}
	if got := e.MetricsSnapshot().Counters[MetricDenylistFailOpen]; got != 1 {
		t.Fatalf("expected 1 fail-open, got %d", got)
	}

	// Writes fail closed: revocation must not silently no-op.
	if err := e.Logout(ctx, result.AccessToken); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)
	result := mustLogin(t, e, "ada@cs.example.edu", "correct-horse-battery")

	if err := e.ChangePassword(ctx, testCampus, "u-1", "wrong-password", "staple-gun-sunrise"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := e.ChangePassword(ctx, testCampus, "u-1", "correct-horse-battery", "correct-horse-battery"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if err := e.ChangePassword(ctx, testCampus, "u-1", "correct-horse-battery", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	if err := e.ChangePassword(ctx, testCampus, "u-1", "correct-horse-battery", "staple-gun-sunrise"); err != nil {
		t.Fatal(err)
	}

	// Everything issued before the change is cut off.
	if _, err := e.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrTokenVersionStale) && !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old refresh token must be dead, got %v", err)
	}
	if _, err := e.Login(ctx, testCampus, "ada@cs.example.edu", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, err := e.Login(ctx, testCampus, "ada@cs.example.edu", "staple-gun-sunrise"); err != nil {
		t.Fatal(err)
	}
}
