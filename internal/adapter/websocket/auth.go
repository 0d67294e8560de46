package websocket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrIdentityMismatch = errors.New("token does not match identity")
)

// Claims are the JWT claims accepted on authenticate.
type Claims struct {
	OrganizationID string `json:"organization_id,omitempty"`
	Role           string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 tokens signed with a shared secret.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses token and checks it was issued for userID in organizationID. An empty
// organization claim matches any organization.
func (v *TokenVerifier) Verify(token, userID, organizationID string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject != userID {
		return nil, fmt.Errorf("%w: subject %q", ErrIdentityMismatch, claims.Subject)
	}
	if claims.OrganizationID != "" && claims.OrganizationID != organizationID {
		return nil, fmt.Errorf("%w: organization %q", ErrIdentityMismatch, claims.OrganizationID)
	}
	return claims, nil
}

// Sign issues a token for userID. It backs the operator CLI and tests.
func (v *TokenVerifier) Sign(userID, organizationID, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		OrganizationID: organizationID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
