package famauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRefreshRotatesToken(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	_, secret, _ := setupParent(t, engine, clock, "parent@example.com", "correct horse battery")
	first := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)

	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatal("rotation must stay within the same session")
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token did not rotate")
	}
	if second.AccessToken == "" {
		t.Fatal("expected a new access token")
	}

	// The rotated-to token keeps working.
	if _, err := engine.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	_, secret, _ := setupParent(t, engine, clock, "parent@example.com", "correct horse battery")
	first := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)

	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Replaying the retired token is theft evidence.
	if _, err := engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("err = %v, want ErrRefreshReuse", err)
	}

	// The whole session lineage is dead, current token included.
	if _, err := engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("err = %v, want ErrRefreshInvalid", err)
	}
}

func TestRefreshGarbage(t *testing.T) {
	engine, _, _, done := newTestEngine(t, testConfig())
	defer done()

	if _, err := engine.Refresh(context.Background(), "garbage"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("err = %v, want ErrRefreshInvalid", err)
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	cfg := testConfig()
	engine, _, clock, done := newTestEngine(t, cfg)
	defer done()

	_, secret, _ := setupParent(t, engine, clock, "parent@example.com", "correct horse battery")
	res := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)

	clock.Advance(cfg.Token.RefreshTTL + time.Hour)
	if _, err := engine.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("err = %v, want ErrRefreshInvalid", err)
	}
}

func TestLogout(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	_, secret, _ := setupParent(t, engine, clock, "parent@example.com", "correct horse battery")
	res := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)

	if err := engine.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("refresh after logout: err = %v, want ErrRefreshInvalid", err)
	}

	// A second logout on the same token is refused.
	if err := engine.Logout(ctx, res.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("double logout: err = %v, want ErrRefreshInvalid", err)
	}
}

func TestLogoutAll(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	parent, secret, _ := setupParent(t, engine, clock, "parent@example.com", "correct horse battery")
	a := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)
	b := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)

	n, err := engine.LogoutAll(ctx, parent.UserID)
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}
	for _, res := range []*LoginResult{a, b} {
		if _, err := engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("session %v survived LogoutAll: %v", res.SessionID, err)
		}
	}
}

func TestLogoutOthersKeepsCurrent(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	parent, secret, _ := setupParent(t, engine, clock, "parent@example.com", "correct horse battery")
	old := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)
	current := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)

	n, err := engine.LogoutOthers(ctx, parent.UserID, current.SessionID)
	if err != nil {
		t.Fatalf("LogoutOthers failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("revoked = %d, want 1", n)
	}
	if _, err := engine.Refresh(ctx, old.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("old session survived: %v", err)
	}
	if _, err := engine.Refresh(ctx, current.RefreshToken); err != nil {
		t.Fatalf("current session was revoked: %v", err)
	}
}

func TestSessionsListsCurrentFlag(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	parent, secret, _ := setupParent(t, engine, clock, "parent@example.com", "correct horse battery")
	other := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)
	current := loginParentFull(t, engine, clock, "parent@example.com", "correct horse battery", secret)

	sessions, err := engine.Sessions(ctx, parent.UserID, current.SessionID)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		switch s.ID {
		case current.SessionID:
			if !s.Current {
				t.Fatal("current session not flagged")
			}
		case other.SessionID:
			if s.Current {
				t.Fatal("other session wrongly flagged current")
			}
		default:
			t.Fatalf("unexpected session %v", s.ID)
		}
	}
}

func TestValidateAccessGarbage(t *testing.T) {
	engine, _, _, done := newTestEngine(t, testConfig())
	defer done()

	if _, err := engine.ValidateAccess(context.Background(), "not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}
