// Package provider implements the relying-party side of OIDC federation:
// building authorization URLs, exchanging authorization codes, and verifying
// ID tokens against the provider's published keys.
//
// Each configured provider is served by one adapter. Adapters resolve their
// endpoints through OIDC discovery on first use and cache the result along
// with the provider's JWKS for the life of the adapter; the registry rebuilds
// adapters when provider configuration is invalidated.
//
// # Architecture boundaries
//
// This package talks to identity providers and nothing else. It does NOT
// store flow state, reconcile identities, or mint local tokens.
package provider
