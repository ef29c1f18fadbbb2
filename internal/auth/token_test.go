package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		Sub:  "staff-1",
		Name: "staffX",
		Role: "staff",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Role != claims.Role {
		t.Errorf("claims did not round-trip: %+v", parsed)
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, Claims{Sub: "s", Name: "n", Role: "staff", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseToken(secret, token+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered signature: expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseToken(secret, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, Claims{Sub: "s", Name: "n", Role: "staff", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestOperatorKeyVerification(t *testing.T) {
	hash, err := HashOperatorKey("hunter2")
	if err != nil {
		t.Fatalf("HashOperatorKey failed: %v", err)
	}

	if err := VerifyOperatorKey(hash, "hunter2"); err != nil {
		t.Errorf("correct key rejected: %v", err)
	}
	if err := VerifyOperatorKey(hash, "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wrong key: expected ErrBadCredentials, got %v", err)
	}
	if err := VerifyOperatorKey("", "hunter2"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("empty hash: expected ErrBadCredentials, got %v", err)
	}
}
