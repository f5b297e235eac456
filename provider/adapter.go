package provider

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors surfaced by adapters.
var (
	// ErrDiscovery is returned when the provider's discovery document
	// cannot be fetched or is malformed.
	ErrDiscovery = errors.New("provider discovery failed")
	// ErrExchange is returned when the code exchange is rejected by the
	// provider.
	ErrExchange = errors.New("code exchange failed")
	// ErrIDToken is returned when the ID token fails signature, claim, or
	// nonce verification.
	ErrIDToken = errors.New("id token invalid")
	// ErrNoSubject is returned when neither the ID token nor userinfo
	// yields a stable subject.
	ErrNoSubject = errors.New("provider returned no subject")
	// ErrProviderNotFound is returned by the registry for unknown keys.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrRedirectMismatch is returned when a per-flow redirect URI is not
	// among the provider's registered callbacks.
	ErrRedirectMismatch = errors.New("redirect uri not registered")
)

// TokenSet is the raw result of a code exchange.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    int64
}

// Profile is the normalized view of the authenticated subject. Raw keeps the
// verified ID token claims for callers that need provider-specific fields.
type Profile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Phone         string
	Name          string
	Picture       string
	Raw           map[string]any
}

// AuthRequest carries the parameters of one authorization redirect.
// CodeChallenge is the S256 challenge and is included only when the provider
// requires PKCE; LoginHint and Prompt pass through when non-empty.
// RedirectURI overrides the provider's default callback for this flow and
// must be one of the registered redirect URLs; empty keeps the default.
type AuthRequest struct {
	State         string
	Nonce         string
	CodeChallenge string
	RedirectURI   string
	LoginHint     string
	Prompt        string
}

// Adapter is the relying-party interface to one identity provider.
type Adapter interface {
	// Key returns the provider key this adapter serves.
	Key() string

	// AuthorizationURL builds the redirect URL for the authorization
	// request.
	AuthorizationURL(ctx context.Context, req AuthRequest) (string, error)

	// Exchange redeems the authorization code with the PKCE verifier.
	// redirectURI must repeat the value sent in the authorization request;
	// empty means the provider's default callback was used.
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*TokenSet, error)

	// Identify verifies the token set and returns the subject profile.
	// nonce must match the value sent in the authorization request.
	Identify(ctx context.Context, tokens *TokenSet, nonce string) (*Profile, error)
}

// ExchangeError carries the provider's OAuth error response.
type ExchangeError struct {
	Code        string
	Description string
	StatusCode  int
}

func (e *ExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("code exchange failed: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("code exchange failed: %s", e.Code)
}

// Unwrap lets errors.Is match ErrExchange.
func (e *ExchangeError) Unwrap() error {
	return ErrExchange
}
