// Package auth guards the relay's administrative routes with a bearer token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingBearerToken = errors.New("missing bearer token")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Verifier decides whether a bearer token may use administrative routes.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) error
}

// StaticToken accepts a single shared admin token.
type StaticToken struct {
	token []byte
}

func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: []byte(strings.TrimSpace(token))}
}

func (s *StaticToken) VerifyToken(_ context.Context, token string) error {
	if len(s.token) == 0 || subtle.ConstantTimeCompare(s.token, []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingBearerToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingBearerToken
	}

	return strings.TrimSpace(parts[1]), nil
}
