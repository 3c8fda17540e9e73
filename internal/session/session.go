// Package session supplies the identity stamped on optimistic entities
// (created_by, reporter_id) and the JWT claims shared with the backend.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Identity struct {
	UserID      string
	WorkspaceID string
}

// Provider returns the identity of the current user.
type Provider interface {
	Current() Identity
}

// Current makes a fixed Identity usable as a Provider.
func (i Identity) Current() Identity { return i }

type Claims struct {
	jwt.RegisteredClaims
	Workspace string `json:"workspace,omitempty"`
}

// Sign issues an HS256 token for id.
func Sign(secret string, id Identity, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Workspace: id.WorkspaceID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify checks the signature and expiry and returns the claims.
func Verify(token, secret string) (Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return Claims{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("subject claim required")
	}
	return *claims, nil
}

// FromToken reads the identity out of a bearer token without verifying it.
// The client only needs it for display fields; the server verifies.
func FromToken(token string) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("subject claim required")
	}
	return Identity{UserID: claims.Subject, WorkspaceID: claims.Workspace}, nil
}
