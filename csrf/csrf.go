// Package csrf issues and validates per-session anti-forgery tokens. Tokens
// live in the non-durable (tab-scoped) medium, so they are implicitly
// invalidated when that medium is cleared at session end.
package csrf

import (
	"crypto/subtle"
	"fmt"

	"github.com/vueni/strongbox/random"
	"github.com/vueni/strongbox/storage"
)

// tokenKey is the fixed slot the current token occupies in the medium.
const tokenKey = "vueni_csrf_token"

// Issuer generates and validates CSRF tokens.
type Issuer struct {
	medium storage.Medium
	rng    *random.Generator
}

// NewIssuer creates an Issuer over the given non-durable medium.
func NewIssuer(medium storage.Medium, rng *random.Generator) *Issuer {
	return &Issuer{medium: medium, rng: rng}
}

// Generate creates a fresh token, replacing any prior one, and returns it.
func (i *Issuer) Generate() (string, error) {
	token := i.rng.CSRFToken()
	if err := i.medium.Set(tokenKey, token); err != nil {
		return "", fmt.Errorf("storing CSRF token: %w", err)
	}
	return token, nil
}

// Validate reports whether candidate exactly matches the most recently
// issued token. Comparison is constant-time.
func (i *Issuer) Validate(candidate string) bool {
	stored, found, err := i.medium.Get(tokenKey)
	if err != nil || !found || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// Clear discards the current token. Called on session end.
func (i *Issuer) Clear() error {
	return i.medium.Remove(tokenKey)
}
