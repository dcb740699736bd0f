// ABOUTME: Unit tests for issuing and verifying chat tokens
// ABOUTME: Covers valid, forged and expired tokens, relationship scope and exp reading

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var tokenTestSecret = []byte("test-secret-key-for-jwt-signing")

func TestJWTVerifier_RoundTrip(t *testing.T) {
	verifier := NewJWTVerifier(tokenTestSecret)

	token, err := verifier.Issue("user-a", time.Hour, "rel-1", "rel-2")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "user-a" {
		t.Errorf("UserID = %q, want %q", id.UserID, "user-a")
	}
	if len(id.Relationships) != 2 || id.Relationships[1] != "rel-2" {
		t.Errorf("Relationships = %v, want [rel-1 rel-2]", id.Relationships)
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	verifier := NewJWTVerifier(tokenTestSecret)

	forged, _ := NewJWTVerifier([]byte("different-secret")).Issue("user-a", time.Hour)
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-a"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(tokenTestSecret)
	expired, _ := verifier.Issue("user-a", -time.Hour)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not-a-jwt-token", ErrInvalidToken},
		{"wrong secret", forged, ErrInvalidToken},
		{"none algorithm", noneAlg, ErrInvalidToken},
		{"missing subject", noSubject, ErrMissingClaim},
		{"expired", expired, ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := verifier.Verify(tt.token)
			if id != nil {
				t.Errorf("Verify() identity = %+v, want nil", id)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIdentity_CanJoin(t *testing.T) {
	open := &Identity{UserID: "user-a"}
	if !open.CanJoin("any") {
		t.Error("unscoped identity should join any relationship")
	}

	scoped := &Identity{UserID: "user-a", Relationships: []string{"rel-1"}}
	if !scoped.CanJoin("rel-1") {
		t.Error("scoped identity should join its own relationship")
	}
	if scoped.CanJoin("rel-2") {
		t.Error("scoped identity should not join another relationship")
	}
}

func TestExpiresAt(t *testing.T) {
	verifier := NewJWTVerifier(tokenTestSecret)
	token, err := verifier.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	exp, ok := expiresAt(token)
	if !ok {
		t.Fatal("expiresAt() found no exp claim")
	}
	if d := time.Until(exp); d < 59*time.Minute || d > time.Hour+time.Second {
		t.Errorf("expiresAt() = %v from now, want about 1h", d)
	}

	if _, ok := expiresAt("opaque-token"); ok {
		t.Error("expiresAt() should not parse an opaque token")
	}
}
