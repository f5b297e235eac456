// Package identity owns the account model: users and the identities that link
// login methods to them. One identity exists per (provider, subject) pair,
// globally; a user always retains at least one identity.
//
// The Redis layout uses the (provider, subject) pair as the identity primary
// key so that SETNX on that key is the single arbiter of the uniqueness
// invariant. A secondary id key and a per-user set support lookup by identity
// id and enumeration.
//
// # Architecture boundaries
//
// This package persists and guards the account model. It does NOT mint tokens,
// talk to identity providers, or decide how a verified (provider, subject)
// pair maps onto a user; that reconciliation policy belongs to the Engine.
package identity
