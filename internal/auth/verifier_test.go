package auth

import (
	"errors"
	"testing"
	"time"
)

func TestDevMode(t *testing.T) {
	v := NewVerifier("dev", "")
	p, err := v.Verify("alice:planner")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.User != "alice" || !p.CanReschedule() {
		t.Fatalf("principal = %+v", p)
	}
	if p, _ := v.Verify("bob:"); p.Role != RoleViewer || p.CanReschedule() {
		t.Fatalf("empty role should default to viewer, got %+v", p)
	}
	for _, bad := range []string{"", "alice", ":admin", "alice:pilot"} {
		if _, err := v.Verify(bad); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Verify(%q) err = %v", bad, err)
		}
	}
}

func TestHMACMode(t *testing.T) {
	secret := []byte("s3cret")
	v := NewVerifier("hmac", string(secret))

	tok, err := Issue(secret, "u-1", "Dana", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.User != "Dana" || !p.IsAdmin() {
		t.Fatalf("principal = %+v", p)
	}

	forged, _ := Issue([]byte("other"), "u-1", "Dana", RoleAdmin, time.Hour)
	if _, err := v.Verify(forged); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("forged token accepted: %v", err)
	}
	expired, _ := Issue(secret, "u-1", "", RolePlanner, -time.Minute)
	if _, err := v.Verify(expired); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired token accepted: %v", err)
	}
}
