// Package middleware provides authentication, rate limiting and request
// logging for the yomu HTTP and gRPC transports. API keys are "keyID.secret"
// pairs whose secret is stored as a bcrypt hash.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHashCost = bcrypt.DefaultCost

var ErrInvalidAPIKey = errors.New("invalid api key")

// HashAPIKey returns a salted bcrypt hash for an API key.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), apiKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyMatchesHash compares an API key against a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, apiKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(apiKey)) == nil
}

// SplitAPIKey splits a "keyID.secret" token.
func SplitAPIKey(token string) (keyID, secret string, ok bool) {
	keyID, secret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

// APIKeyLookup returns the stored hash and client name for a live key.
type APIKeyLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, string, error)
}

// APIKeyValidator is a [TokenValidator] backed by stored API keys.
type APIKeyValidator struct {
	lookup APIKeyLookup
}

func NewAPIKeyValidator(lookup APIKeyLookup) *APIKeyValidator {
	return &APIKeyValidator{lookup: lookup}
}

func (v *APIKeyValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, secret, ok := SplitAPIKey(token)
	if !ok {
		return "", fmt.Errorf("%w: malformed token", ErrInvalidAPIKey)
	}

	keyHash, client, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !APIKeyMatchesHash(keyHash, secret) {
		return "", ErrInvalidAPIKey
	}

	return client, nil
}
