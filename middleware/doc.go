// Package middleware provides net/http integration for the broker: a guard
// that validates bearer access tokens and exposes the caller's identity to
// downstream handlers.
package middleware
