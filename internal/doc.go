// Package internal contains helper utilities that are intentionally private to
// idbroker: secure random generation for states, nonces, PKCE verifiers, OTP
// codes and refresh secrets, plus the one-way hashing applied before any
// secret-derived value touches Redis.
//
// # What this package must NOT do
//
//   - Export types that appear in the public idbroker API.
//   - Be imported by any package outside the idbroker module.
//   - Persist or log a raw secret.
package internal
