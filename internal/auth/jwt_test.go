package auth

import (
	"testing"
	"time"

	"call-signaling/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "issuer",
		JWTAudience:    "aud",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueAccess(now, "user-1", "Ada")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.DisplayName != "Ada" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueAccess(now, "u", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, TokenTypeAccess, now.Add(10*time.Minute)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := NewManager(config.AuthConfig{JWTSecret: "a"})
	b, _ := NewManager(config.AuthConfig{JWTSecret: "b"})
	now := time.Now()
	tok, err := a.IssueAccess(now, "u", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestVerifyEnforcesIssuerAndAudience(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "other", JWTAudience: "app"})
	tok, err := issuer.IssueAccess(now, "u", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "calls", JWTAudience: "app"})
	if _, err := verifier.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected foreign issuer rejected")
	}

	// Inside the 30s leeway an expired token is still accepted.
	short, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})
	tok, _ = short.IssueAccess(now, "u", "")
	if _, err := short.Verify(tok, TokenTypeAccess, now.Add(time.Minute+10*time.Second)); err != nil {
		t.Fatalf("expected leeway to accept: %v", err)
	}
}
