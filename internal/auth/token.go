// Package auth resolves bearer credentials to a caller identity. Token
// issuance belongs to the identity collaborator; IssueToken exists for the
// development login flow and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Identity struct {
	Subject    string
	Name       string
	IsExternal bool
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type claims struct {
	Name       string `json:"name"`
	IsExternal bool   `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

func IssueToken(secret []byte, identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name:       identity.Name,
		IsExternal: identity.IsExternal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func VerifyToken(secret []byte, raw string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	body, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || body.Subject == "" || body.Name == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		Subject:    body.Subject,
		Name:       body.Name,
		IsExternal: body.IsExternal,
	}, nil
}
