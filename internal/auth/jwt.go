// Package auth mints and verifies the short-lived HS256 bearer tokens and
// provides the HTTP middleware that authenticates proxied requests.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dsproxy/dsproxy/internal/apperr"
)

// Service signs and verifies tokens. The algorithm is pinned to HS256;
// verification rejects anything else.
type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret string, ttl time.Duration) *Service {
	return &Service{secret: []byte(secret), ttl: ttl}
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Mint issues a token with claims {sub: username, exp: now+ttl}.
func (s *Service) Mint(username string) (string, error) {
	claims := jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "sign token", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm and expiry, returning the subject.
func (s *Service) Verify(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil || !token.Valid {
		return "", apperr.Wrap(apperr.Unauthorized, "invalid or expired token", err)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", apperr.New(apperr.Unauthorized, "token has no subject")
	}
	return sub, nil
}
