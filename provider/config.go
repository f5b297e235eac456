package provider

import (
	"context"
	"errors"
	"strings"
)

// Client authentication methods for the token endpoint.
const (
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"
	AuthMethodNone  = "none"
)

// Protocols an adapter can speak. OAuth2-only providers skip ID-token
// verification and identify the subject through userinfo.
const (
	ProtocolOIDC   = "oidc"
	ProtocolOAuth2 = "oauth2"
)

// DefaultScopes is used when a provider configures none.
var DefaultScopes = []string{"openid", "email", "profile"}

// Config describes one upstream provider. Exactly one of Issuer or
// DiscoveryURL must be set; DiscoveryURL overrides the well-known path
// derived from Issuer.
type Config struct {
	Key             string
	Protocol        string
	DisplayName     string
	Enabled         bool
	ButtonVisible   bool
	Scopes          []string
	ClientID        string
	ClientSecret    string
	Issuer          string
	DiscoveryURL    string
	RedirectURL     string
	// ExtraRedirectURLs are additional registered callbacks a flow may
	// select per request, e.g. separate web and native endpoints.
	ExtraRedirectURLs []string
	PKCERequired      bool
	TokenAuthMethod   string
}

// Validate checks the configuration for field errors.
func (c *Config) Validate() error {
	if c.Key == "" {
		return errors.New("provider key required")
	}
	if c.ClientID == "" {
		return errors.New("client_id required for provider " + c.Key)
	}
	if c.RedirectURL == "" {
		return errors.New("redirect_url required for provider " + c.Key)
	}
	if c.Issuer == "" && c.DiscoveryURL == "" {
		return errors.New("issuer or discovery_url required for provider " + c.Key)
	}
	switch c.Protocol {
	case "", ProtocolOIDC, ProtocolOAuth2:
	default:
		return errors.New("unknown protocol for provider " + c.Key)
	}
	switch c.TokenAuthMethod {
	case "", AuthMethodBasic, AuthMethodPost, AuthMethodNone:
	default:
		return errors.New("unknown token_auth_method for provider " + c.Key)
	}
	if c.TokenAuthMethod == AuthMethodNone && !c.PKCERequired {
		return errors.New("public client requires pkce for provider " + c.Key)
	}
	return nil
}

func (c *Config) protocol() string {
	if c.Protocol == "" {
		return ProtocolOIDC
	}
	return c.Protocol
}

func (c *Config) scopes() []string {
	if len(c.Scopes) == 0 {
		return DefaultScopes
	}
	return c.Scopes
}

func (c *Config) authMethod() string {
	if c.TokenAuthMethod == "" {
		return AuthMethodBasic
	}
	return c.TokenAuthMethod
}

func (c *Config) redirectAllowed(uri string) bool {
	if uri == "" || uri == c.RedirectURL {
		return true
	}
	for _, u := range c.ExtraRedirectURLs {
		if uri == u {
			return true
		}
	}
	return false
}

func (c *Config) discoveryURL() string {
	if c.DiscoveryURL != "" {
		return c.DiscoveryURL
	}
	return strings.TrimSuffix(c.Issuer, "/") + "/.well-known/openid-configuration"
}

// Source supplies provider configuration. Implementations may read from
// static config, a database, or a remote control plane.
type Source interface {
	Providers(ctx context.Context) ([]Config, error)
}

// StaticSource serves a fixed set of provider configurations.
type StaticSource []Config

// Providers returns the configured set.
func (s StaticSource) Providers(ctx context.Context) ([]Config, error) {
	return s, nil
}
