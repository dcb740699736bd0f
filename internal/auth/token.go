// ABOUTME: JWT issue and verification for chat socket handshakes
// ABOUTME: HS256 tokens whose subject is the user and whose rels claim scopes shared sessions

package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims is the payload of a chat token. Relationships lists the shared
// sessions the holder may join; an empty list leaves them unrestricted.
type Claims struct {
	Relationships []string `json:"rels,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier turns a presented token into the caller's identity.
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier issues and verifies HS256 tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify checks the signature and expiry and returns who the token speaks for.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return &Identity{UserID: claims.Subject, Relationships: claims.Relationships}, nil
}

// Issue signs a token for userID valid for ttl, optionally scoped to relationships.
func (v *JWTVerifier) Issue(userID string, ttl time.Duration, relationships ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		Relationships: slices.Clone(relationships),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// expiresAt reads the exp claim without checking the signature. Clients use
// it to decide when a cached token needs refreshing.
func expiresAt(tokenString string) (time.Time, bool) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
