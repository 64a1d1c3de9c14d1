// ABOUTME: Google Application Default Credentials token source.
// ABOUTME: Supplies cloud-platform scoped bearer tokens for the answer provider.

package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudScope is the OAuth scope required by the answer provider API.
const CloudScope = "https://www.googleapis.com/auth/cloud-platform"

// GoogleSource obtains bearer tokens from Application Default Credentials.
// The underlying oauth2 source already caches and refreshes tokens.
type GoogleSource struct {
	ts oauth2.TokenSource
}

// NewGoogleSource resolves Application Default Credentials with CloudScope.
func NewGoogleSource(ctx context.Context) (*GoogleSource, error) {
	ts, err := google.DefaultTokenSource(ctx, CloudScope)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving default credentials: %v", ErrAuthentication, err)
	}
	return &GoogleSource{ts: ts}, nil
}

func (s *GoogleSource) Token(context.Context) (string, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return tok.AccessToken, nil
}
