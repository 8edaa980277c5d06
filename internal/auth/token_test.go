package auth

import (
	"strings"
	"testing"
	"time"
)

func validClaims() Claims {
	return Claims{
		Sub:    "usr_1",
		Name:   "Fr. Reyes",
		Role:   "parish_secretary",
		Parish: "sta-monica-sarrat",
		JTI:    "jti_1",
		Exp:    time.Now().Add(time.Hour).Unix(),
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Sub != "usr_1" || claims.Role != "parish_secretary" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Parish != "sta-monica-sarrat" {
		t.Fatalf("parish scope lost: %+v", claims)
	}
}

func TestParseTokenRejectsTamperedPayload(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "x." + parts[1]
	if _, err := ParseToken(secret, tampered); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("secret-a"), validClaims())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseToken([]byte("secret-b"), token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	claims := validClaims()
	claims.Exp = time.Now().Add(-time.Minute).Unix()
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseToken(secret, token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("hash should be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("distinct tokens should hash differently")
	}
}
