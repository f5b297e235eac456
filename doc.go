// Package idbroker is an embeddable identity and session broker. It
// federates login across OIDC providers, local passwords, and phone OTP,
// reconciles every method onto one user account, and manages sessions with
// rotating refresh tokens.
//
// The engine is transport-agnostic: HTTP routing, rate limiting, and
// SMS delivery live outside it. Redis is the single source of truth for
// users, identities, sessions, rotation chains, and ephemeral flow state.
//
// Construction goes through the builder:
//
//	engine, err := idbroker.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithProviderSource(source).
//		WithAuditSink(sink).
//		Build()
//
// Security properties the engine maintains:
//   - refresh tokens are single-use; replay of a rotated token revokes the
//     whole session (reuse detection)
//   - OAuth state is consumed exactly once; PKCE and nonce bind the
//     callback to the flow that started it
//   - only one identity may exist per (provider, subject) pair, and a user
//     always keeps at least one login method
//   - audit events carry ids, hashes, and booleans, never raw secrets
package idbroker
