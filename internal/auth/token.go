// ABOUTME: Bearer credential acquisition for outbound provider calls.
// ABOUTME: Defines the TokenSource contract and an expiry-aware caching wrapper.

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthentication marks credential acquisition failures. These are fatal
// for the exchange that needed the credential and are never retried.
var ErrAuthentication = errors.New("authentication failed")

// TokenSource supplies a bearer token for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token, useful for tests and pass-through headers.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// defaultTokenTTL is assumed when a fetched token carries no exp claim.
const defaultTokenTTL = 5 * time.Minute

// expiryLeeway is how far ahead of expiry a cached token is refreshed.
const expiryLeeway = 30 * time.Second

// CachingSource wraps a fetch function and reuses its token until shortly
// before expiry. Expiry is read from the token's JWT exp claim when present
// (the token is not verified here; the issuing service owns its signature),
// falling back to a fixed TTL for opaque tokens.
type CachingSource struct {
	mu     sync.Mutex
	fetch  func(ctx context.Context) (string, error)
	now    func() time.Time
	token  string
	expiry time.Time
}

// NewCachingSource creates a caching wrapper around fetch.
func NewCachingSource(fetch func(ctx context.Context) (string, error)) *CachingSource {
	return &CachingSource{fetch: fetch, now: time.Now}
}

func (c *CachingSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(expiryLeeway).Before(c.expiry) {
		return c.token, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	c.token = token
	c.expiry = c.now().Add(defaultTokenTTL)
	if exp, ok := tokenExpiry(token); ok {
		c.expiry = exp
	}
	return c.token, nil
}

// tokenExpiry extracts the exp claim from a JWT-shaped token. Opaque tokens
// report false.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
