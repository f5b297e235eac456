// Package session persists sessions and their refresh-token rotation chains
// in Redis.
//
// Every refresh token belongs to exactly one session and records the token it
// was rotated from, forming a chain back to the session's first token. A
// rotated token stays in Redis (marked revoked) until its natural expiry so a
// later replay of it is distinguishable from a token that never existed.
// Rotation runs as a single Lua script: under concurrent presentation of the
// same token exactly one caller rotates, and every later presentation is
// classified as reuse, which revokes the whole session.
//
// # Architecture boundaries
//
// This package stores and arbitrates. It does NOT mint or parse access
// tokens, encode wire-format refresh tokens, or emit audit events; those
// belong to the Engine and the jwt package.
package session
