package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newTestManager(t *testing.T) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authcore",
		Audience:      "campus-api",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func testIdentity() Identity {
	return Identity{ID: "u-1", CampusID: "c-1", Role: "student", TokenVersion: 3}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	access, err := m.IssueAccess(testIdentity(), "sid-1")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, err := m.IssueRefresh(testIdentity(), "sid-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	claims, err := m.Verify(access)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Subject != "u-1" || claims.CampusID != "c-1" || claims.Role != "student" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if claims.SessionID != "sid-1" {
		t.Fatalf("expected session binding, got %q", claims.SessionID)
	}
	if claims.TokenVersion != 3 {
		t.Fatalf("expected token version 3, got %d", claims.TokenVersion)
	}
	if claims.TokenKind != KindAccess {
		t.Fatalf("expected access kind, got %q", claims.TokenKind)
	}
	if claims.ID == "" {
		t.Fatal("expected a token ID")
	}

	refreshClaims, err := m.Verify(refresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if refreshClaims.TokenKind != KindRefresh {
		t.Fatalf("expected refresh kind, got %q", refreshClaims.TokenKind)
	}
	if refreshClaims.ID == claims.ID {
		t.Fatal("expected distinct token IDs per issuance")
	}
}

func TestVerifyExpiredReturnsSentinel(t *testing.T) {
	m, priv := newTestManager(t)

	expired := Claims{
		TokenKind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "authcore",
			Audience:  gjwt.ClaimStrings{"campus-api"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, expired).SignedString(priv)
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}

	if _, err := m.Verify(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignAlgorithm(t *testing.T) {
	m, _ := newTestManager(t)

	claims := Claims{
		TokenKind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "authcore",
			Audience:  gjwt.ClaimStrings{"campus-api"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign hs256 token: %v", err)
	}

	if _, err := m.Verify(signed); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestVerifyRejectsTamperedAndGarbage(t *testing.T) {
	m, _ := newTestManager(t)

	access, err := m.IssueAccess(testIdentity(), "sid-1")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	tampered := access[:len(access)-2] + "xx"
	if _, err := m.Verify(tampered); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for tampered token, got %v", err)
	}
	if _, err := m.Verify("not-a-token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for garbage, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuerAndAudience(t *testing.T) {
	m, priv := newTestManager(t)

	wrongIssuer := Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u-1",
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"campus-api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	signed, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongIssuer).SignedString(priv)
	if _, err := m.Verify(signed); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}

	wrongAudience := Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u-1",
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"other-api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	signed, _ = gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongAudience).SignedString(priv)
	if _, err := m.Verify(signed); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
}

func TestPeekReadsExpiredToken(t *testing.T) {
	m, priv := newTestManager(t)

	expired := Claims{
		TokenKind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        "jti-1",
			Subject:   "u-1",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, expired).SignedString(priv)
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}

	claims, err := m.Peek(signed)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if claims.ID != "jti-1" || claims.Subject != "u-1" {
		t.Fatalf("unexpected peeked claims: %+v", claims)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Before(time.Now()) {
		t.Fatal("expected peek to expose the past expiry")
	}

	if _, err := m.Peek("%%not-base64%%"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed from peek, got %v", err)
	}
}

func TestHS256ManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("a-long-shared-secret-for-testing"),
	})
	if err != nil {
		t.Fatalf("new hs256 manager: %v", err)
	}

	access, err := m.IssueAccess(testIdentity(), "sid-1")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := m.Verify(access); err != nil {
		t.Fatalf("verify access: %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, priv := newEdKeys(t)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub}},
		{"missing public key", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv}},
		{"missing hs256 secret", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256}},
		{"unknown method", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs512"}},
		{"excessive leeway", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Leeway: time.Hour}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected config rejection")
			}
		})
	}
}
